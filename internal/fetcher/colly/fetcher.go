// Package collyfetcher implements the throttled listing fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/top250-crawler/internal/catalog"
	"github.com/JakeFAU/top250-crawler/internal/metrics"
	"github.com/JakeFAU/top250-crawler/internal/useragent"
)

var (
	// ErrChallenge reports a response that resolved to an anti-automation host.
	ErrChallenge = errors.New("redirected to challenge host")
	// ErrStatus reports a non-2xx response.
	ErrStatus = errors.New("unexpected http status")
)

// Attempt outcome labels.
const (
	outcomeSuccess   = "success"
	outcomeNetwork   = "network"
	outcomeStatus    = "status"
	outcomeChallenge = "challenge"
	outcomeCanceled  = "canceled"
)

// Config controls collector behavior.
type Config struct {
	MinDelay       time.Duration
	MaxDelay       time.Duration
	Timeout        time.Duration
	MaxRetries     int
	Headers        map[string]string
	UserAgents     []string
	ChallengeHosts []string
	// Limiter, when set, caps the request rate after the random delay.
	Limiter Limiter
}

// Limiter blocks until a request to rawURL may proceed.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// FetchError is returned once every attempt for a page has failed.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher implements catalog.Fetcher using the Colly collector. Every attempt
// sleeps a random delay, draws a fresh User-Agent, and is retried up to
// MaxRetries times on network errors, non-2xx statuses, and challenge redirects.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	agents        *useragent.Pool
	sleep         func(ctx context.Context, d time.Duration) error
	jitter        func(n int64) int64
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	metrics.Init()

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(cfg.Timeout)

	c.WithTransport(newHTTPTransport(cfg.Timeout))

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		agents:        useragent.New(cfg.UserAgents),
		sleep:         sleepWithContext,
		jitter:        rand.Int64N,
		logger:        logger,
	}
}

// Fetch retrieves rawURL with query merged into its query string.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, query url.Values) (catalog.Document, error) {
	target, err := buildURL(rawURL, query)
	if err != nil {
		return catalog.Document{}, &FetchError{URL: rawURL, Attempts: 0, Err: err}
	}

	maxAttempts := f.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := f.throttle(ctx, target); err != nil {
			metrics.ObserveFetchAttempt(outcomeCanceled, 0)
			return catalog.Document{}, &FetchError{URL: target, Attempts: attempt - 1, Err: err}
		}

		doc, err := f.fetchOnce(ctx, target)
		metrics.ObserveFetchAttempt(classify(err), doc.Duration)
		if err == nil {
			doc.Attempts = attempt
			f.logger.Info("page fetched",
				zap.String("url", target),
				zap.Int("status", doc.StatusCode),
				zap.Int("attempt", attempt),
				zap.Int("bytes", len(doc.Body)),
				zap.Duration("duration", doc.Duration),
			)
			return doc, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return catalog.Document{}, &FetchError{URL: target, Attempts: attempt, Err: ctxErr}
		}
		if attempt < maxAttempts {
			f.logger.Warn("fetch failed, retrying",
				zap.String("url", target),
				zap.Int("retry", attempt),
				zap.Int("max_retries", f.cfg.MaxRetries),
				zap.Error(err),
			)
		}
	}

	f.logger.Error("fetch failed permanently",
		zap.String("url", target),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	return catalog.Document{}, &FetchError{URL: target, Attempts: maxAttempts, Err: lastErr}
}

// throttle sleeps a uniformly random duration in [MinDelay, MaxDelay], then
// waits on the limiter if one is configured.
func (f *Fetcher) throttle(ctx context.Context, target string) error {
	delay := f.nextDelay()
	metrics.ObserveDelay(delay)
	if err := f.sleep(ctx, delay); err != nil {
		return err
	}
	if f.cfg.Limiter != nil {
		return f.cfg.Limiter.Wait(ctx, target)
	}
	return nil
}

func (f *Fetcher) nextDelay() time.Duration {
	span := int64(f.cfg.MaxDelay - f.cfg.MinDelay)
	if span <= 0 {
		return f.cfg.MinDelay
	}
	return f.cfg.MinDelay + time.Duration(f.jitter(span+1))
}

func (f *Fetcher) fetchOnce(ctx context.Context, target string) (catalog.Document, error) {
	var (
		result   catalog.Document
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(target, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}
	if result.StatusCode < http.StatusOK || result.StatusCode >= http.StatusMultipleChoices {
		return result, fmt.Errorf("%w: %d", ErrStatus, result.StatusCode)
	}
	if isChallengeURL(result.FinalURL, f.cfg.ChallengeHosts) {
		return result, fmt.Errorf("%w: %s", ErrChallenge, result.FinalURL)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	target string,
	start time.Time,
	result *catalog.Document,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true

	userAgent := f.agents.Random()
	collector.UserAgent = userAgent
	result.URL = target

	f.configureCollectorHooks(collector, userAgent, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	userAgent string,
	start time.Time,
	result *catalog.Document,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
		r.Headers.Set("User-Agent", userAgent)
	})

	hooks.OnResponse(func(r *colly.Response) {
		finalURL := result.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		*result = catalog.Document{
			URL:        result.URL,
			FinalURL:   finalURL,
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, value := range f.cfg.Headers {
		r.Headers.Set(key, value)
	}
}

func buildURL(rawURL string, query url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q must be absolute", rawURL)
	}
	if len(query) > 0 {
		merged := u.Query()
		for k, values := range query {
			merged.Del(k)
			for _, v := range values {
				merged.Add(k, v)
			}
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}

func isChallengeURL(rawURL string, hosts []string) bool {
	if rawURL == "" || len(hosts) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	hostname := strings.ToLower(u.Hostname())
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if strings.EqualFold(u.Host, h) || hostname == h || strings.HasSuffix(hostname, "."+h) {
			return true
		}
	}
	return false
}

func classify(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, ErrChallenge):
		return outcomeChallenge
	case errors.Is(err, ErrStatus):
		return outcomeStatus
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeCanceled
	default:
		return outcomeNetwork
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch throttle sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}
