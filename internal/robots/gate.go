// Package robots implements the one-shot robots.txt permission gate.
package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/top250-crawler/internal/useragent"
)

// ErrDenied reports that robots.txt forbids the target path or could not be read.
var ErrDenied = errors.New("crawling denied by robots.txt")

// Agent is the robots group consulted.
const Agent = "*"

const maxRobotsBytes = 1 << 20

// Gate checks robots.txt once before a run. Any fetch or parse failure denies.
type Gate struct {
	client *http.Client
	agents *useragent.Pool
	logger *zap.Logger
}

// New builds a Gate with the given request timeout and identity pool.
func New(timeout time.Duration, agents *useragent.Pool, logger *zap.Logger) *Gate {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if agents == nil {
		agents = useragent.New(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		client: &http.Client{Timeout: timeout},
		agents: agents,
		logger: logger,
	}
}

// Allowed reports whether targetPath on baseURL may be fetched by any agent.
// A non-nil error always comes with false.
func (g *Gate) Allowed(ctx context.Context, baseURL, targetPath string) (bool, error) {
	robotsURL, err := robotsLocation(baseURL)
	if err != nil {
		return false, err
	}
	g.logger.Info("checking robots.txt", zap.String("url", robotsURL))

	data, err := g.load(ctx, robotsURL)
	if err != nil {
		g.logger.Error("robots.txt check failed; denying", zap.String("url", robotsURL), zap.Error(err))
		return false, err
	}
	allowed := data.TestAgent(targetPath, Agent)
	g.logger.Info("robots.txt decision",
		zap.String("path", targetPath),
		zap.Bool("allowed", allowed),
	)
	return allowed, nil
}

// Check wraps Allowed and returns ErrDenied unless access is permitted.
func (g *Gate) Check(ctx context.Context, baseURL, targetPath string) error {
	allowed, err := g.Allowed(ctx, baseURL, targetPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDenied, err)
	}
	if !allowed {
		return fmt.Errorf("%w: %s", ErrDenied, targetPath)
	}
	return nil
}

func (g *Gate) load(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", g.agents.Random())
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	// robotstxt treats 4xx as allow-all; any non-2xx denies here instead.
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("fetch robots: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

func robotsLocation(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", baseURL)
	}
	u.Path = "/robots.txt"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
