// Package app builds the long-lived services of a crawl and runs the crawl and
// report flows on top of them.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/top250-crawler/internal/catalog"
	"github.com/JakeFAU/top250-crawler/internal/cleaning"
	"github.com/JakeFAU/top250-crawler/internal/clock/system"
	"github.com/JakeFAU/top250-crawler/internal/config"
	"github.com/JakeFAU/top250-crawler/internal/export/csvsink"
	collyfetcher "github.com/JakeFAU/top250-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/top250-crawler/internal/hash/sha256"
	"github.com/JakeFAU/top250-crawler/internal/id/uuid"
	"github.com/JakeFAU/top250-crawler/internal/metrics"
	"github.com/JakeFAU/top250-crawler/internal/parser"
	"github.com/JakeFAU/top250-crawler/internal/pipeline"
	"github.com/JakeFAU/top250-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/top250-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/top250-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/top250-crawler/internal/report"
	"github.com/JakeFAU/top250-crawler/internal/robots"
	"github.com/JakeFAU/top250-crawler/internal/server"
	"github.com/JakeFAU/top250-crawler/internal/storage"
	pgstore "github.com/JakeFAU/top250-crawler/internal/storage/postgres"
	"github.com/JakeFAU/top250-crawler/internal/useragent"
)

// ErrNoRecords reports a run that accepted no records at all.
var ErrNoRecords = errors.New("no records accepted")

const chartContentType = "image/png"

// Gate decides whether the listing may be crawled.
type Gate interface {
	Check(ctx context.Context, baseURL, targetPath string) error
}

// RunTracker records the lifecycle of a run.
type RunTracker interface {
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	FinishRun(ctx context.Context, summary catalog.RunSummary, status string) error
}

// Services are the collaborators of a crawl. Gate, Records, Runs, Publisher
// and Status are optional.
type Services struct {
	Fetcher   catalog.Fetcher
	Gate      Gate
	Blobs     catalog.BlobStore
	Records   catalog.RecordStore
	Runs      RunTracker
	Publisher catalog.Publisher
	Clock     catalog.Clock
	IDs       catalog.IDGenerator
	Status    *server.Server
}

// App holds the configuration, services and the resources to release on Close.
type App struct {
	cfg     config.Config
	svc     Services
	logger  *zap.Logger
	closers []func(context.Context) error
}

// New assembles an App from ready-made services.
func New(cfg config.Config, svc Services, logger *zap.Logger) (*App, error) {
	if svc.Fetcher == nil {
		return nil, errors.New("app requires a fetcher")
	}
	if svc.Blobs == nil {
		return nil, errors.New("app requires a blob store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if svc.Clock == nil {
		svc.Clock = system.New()
	}
	if svc.IDs == nil {
		svc.IDs = uuid.New()
	}
	metrics.Init()
	return &App{cfg: cfg, svc: svc, logger: logger}, nil
}

// Build creates every service named by cfg. The caller must Close the App.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	svc := Services{Clock: system.New(), IDs: uuid.New()}

	fetchCfg := collyfetcher.Config{
		MinDelay:       cfg.Crawler.MinDelay,
		MaxDelay:       cfg.Crawler.MaxDelay,
		Timeout:        cfg.Crawler.Timeout,
		MaxRetries:     cfg.Crawler.MaxRetries,
		Headers:        cfg.Crawler.Headers,
		UserAgents:     cfg.Crawler.UserAgents,
		ChallengeHosts: cfg.Crawler.ChallengeHosts,
	}
	if cfg.Crawler.MaxRPS > 0 {
		fetchCfg.Limiter = ratelimit.New(ratelimit.Config{RPS: cfg.Crawler.MaxRPS, Burst: cfg.Crawler.Burst})
		logger.Info("request rate capped", zap.Float64("max_rps", cfg.Crawler.MaxRPS), zap.Int("burst", cfg.Crawler.Burst))
	}
	svc.Fetcher = collyfetcher.New(fetchCfg, logger.Named("fetcher"))

	if cfg.Crawler.IgnoreRobots {
		logger.Warn("robots.txt check disabled by configuration")
	} else {
		svc.Gate = robots.New(cfg.Crawler.Timeout, useragent.New(cfg.Crawler.UserAgents), logger.Named("robots"))
	}

	blobs, err := storage.New(ctx, cfg.Storage, logger.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}
	svc.Blobs = blobs
	a.onClose(func(context.Context) error { return blobs.Close() })
	logger.Info("artifact storage ready", zap.String("provider", cfg.Storage.Provider))

	if err := a.setupDatabase(ctx, &svc); err != nil {
		_ = a.Close(ctx) //nolint:errcheck // init error wins
		return nil, err
	}
	if err := a.setupPublisher(ctx, &svc); err != nil {
		_ = a.Close(ctx) //nolint:errcheck // init error wins
		return nil, err
	}
	if err := a.setupStatusServer(&svc); err != nil {
		_ = a.Close(ctx) //nolint:errcheck // init error wins
		return nil, err
	}

	a.svc = svc
	return a, nil
}

func (a *App) setupDatabase(ctx context.Context, svc *Services) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no db.dsn configured; skipping Postgres persistence")
		return nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.onClose(func(context.Context) error {
		store.Close()
		return nil
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	svc.Records = store
	svc.Runs = store
	a.logger.Info("postgres persistence enabled", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context, svc *Services) error {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		svc.Publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub init failed: %w", err)
	}
	a.onClose(func(context.Context) error { return pub.Close() })
	svc.Publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupStatusServer(svc *Services) error {
	if a.cfg.Metrics.ListenAddr == "" {
		return nil
	}
	srv := server.New(a.logger.Named("server"))
	if _, err := srv.Start(a.cfg.Metrics.ListenAddr); err != nil {
		return fmt.Errorf("status server: %w", err)
	}
	a.onClose(srv.Shutdown)
	svc.Status = srv
	return nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Crawl runs gate, pipeline, cleaning, CSV export and chart, then persists
// and announces the run. A canceled context still writes the partial CSV.
func (a *App) Crawl(ctx context.Context) (summary catalog.RunSummary, err error) {
	started := a.svc.Clock.Now()
	runID, err := a.svc.IDs.NewID()
	if err != nil {
		return summary, fmt.Errorf("run id: %w", err)
	}
	summary = catalog.RunSummary{RunID: runID, StartedAt: started}
	logger := a.logger.With(zap.String("run_id", runID))
	logger.Info("crawl started", zap.String("url", a.cfg.ListURL()))

	if a.svc.Runs != nil {
		if err := a.svc.Runs.StartRun(ctx, runID, started); err != nil {
			return summary, fmt.Errorf("record run start: %w", err)
		}
		defer func() {
			if err == nil {
				return
			}
			summary.FinishedAt = a.svc.Clock.Now()
			if ferr := a.svc.Runs.FinishRun(context.WithoutCancel(ctx), summary, pgstore.RunFailed); ferr != nil {
				logger.Warn("failed to record run failure", zap.Error(ferr))
			}
		}()
	}

	if a.svc.Gate != nil {
		if err := a.svc.Gate.Check(ctx, a.cfg.Crawler.BaseURL, a.cfg.Crawler.ListPath); err != nil {
			return summary, err
		}
	}

	result, runErr := a.runPipeline(ctx, logger)
	summary.Accepted = len(result.Records)
	summary.Filtered = result.Filtered
	summary.Malformed = result.Malformed
	summary.ParseErrors = result.ParseErrors
	summary.PagesFetched = result.PagesFetched
	summary.PagesFailed = result.PagesFailed
	if len(result.Records) == 0 {
		if runErr != nil {
			return summary, fmt.Errorf("crawl interrupted: %w", runErr)
		}
		return summary, ErrNoRecords
	}

	cleaned, rep := cleaning.Clean(result.Records, a.cfg.Parser.MinYear, started.Year())
	summary.Cleaned = len(cleaned)
	logger.Info("cleaning finished",
		zap.Int("input", rep.Input),
		zap.Int("kept", rep.Kept),
		zap.Int("missing_year", rep.MissingYear),
		zap.Int("out_of_range", rep.OutOfRange),
		zap.Int("duplicates", rep.Duplicates),
		zap.Int("invalid_votes", rep.InvalidVotes),
	)

	if err := csvsink.WriteFile(a.cfg.Output.CSVPath, cleaned); err != nil {
		return summary, fmt.Errorf("write csv: %w", err)
	}
	logger.Info("csv written", zap.String("path", a.cfg.Output.CSVPath), zap.Int("rows", len(cleaned)))

	chartPath, err := a.renderChart(directorLabels(cleaned), logger)
	if err != nil {
		return summary, err
	}

	if runErr != nil {
		return summary, fmt.Errorf("crawl interrupted: %w", runErr)
	}

	if a.svc.Records != nil {
		if err := a.svc.Records.SaveRecords(ctx, runID, cleaned); err != nil {
			return summary, fmt.Errorf("save records: %w", err)
		}
	}

	summary.Artifacts = make(map[string]string, 2)
	summary.Checksums = make(map[string]string, 2)
	if err := a.upload(ctx, &summary, "csv", a.cfg.Output.CSVPath, csvsink.ContentType); err != nil {
		return summary, err
	}
	if chartPath != "" {
		if err := a.upload(ctx, &summary, "chart", chartPath, chartContentType); err != nil {
			return summary, err
		}
	}

	summary.FinishedAt = a.svc.Clock.Now()
	if a.svc.Runs != nil {
		if err := a.svc.Runs.FinishRun(ctx, summary, pgstore.RunSucceeded); err != nil {
			return summary, fmt.Errorf("record run finish: %w", err)
		}
	}
	if a.svc.Publisher != nil {
		if msgID, err := a.svc.Publisher.Publish(ctx, a.cfg.PubSub.TopicName, summary); err != nil {
			logger.Warn("failed to publish run summary", zap.Error(err))
		} else {
			logger.Debug("run summary published", zap.String("message_id", msgID))
		}
	}
	metrics.ObserveRun(summary.Accepted, summary.Cleaned, summary.FinishedAt.Sub(started))
	if a.svc.Status != nil {
		a.svc.Status.SetSummary(summary)
	}

	logger.Info("crawl finished",
		zap.Int("accepted", summary.Accepted),
		zap.Int("cleaned", summary.Cleaned),
		zap.Int("filtered", summary.Filtered),
		zap.Int("malformed", summary.Malformed),
		zap.Int("parse_errors", summary.ParseErrors),
		zap.Int("pages_failed", summary.PagesFailed),
	)
	return summary, nil
}

func (a *App) runPipeline(ctx context.Context, logger *zap.Logger) (catalog.PipelineResult, error) {
	p, err := pipeline.New(
		a.svc.Fetcher,
		parser.New(a.cfg.Parser.CountryFilter, parser.WithLogger(logger.Named("parser"))),
		pipeline.Config{
			ListURL:      a.cfg.ListURL(),
			MaxItems:     a.cfg.Crawler.MaxItems,
			ItemsPerPage: a.cfg.Crawler.ItemsPerPage,
		},
		logger.Named("pipeline"),
	)
	if err != nil {
		return catalog.PipelineResult{}, fmt.Errorf("build pipeline: %w", err)
	}
	return p.Run(ctx)
}

// renderChart draws the top directors and returns the chart path, or "" when
// no chart path is configured.
func (a *App) renderChart(directors []string, logger *zap.Logger) (string, error) {
	if a.cfg.Output.ChartPath == "" {
		return "", nil
	}
	entries, err := Report(a.cfg, directors, logger)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	return a.cfg.Output.ChartPath, nil
}

// upload copies the local artifact at path to the blob store and records its
// URI and digest on the summary under key.
func (a *App) upload(ctx context.Context, summary *catalog.RunSummary, key, path, contentType string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", path, err)
	}
	target := storage.ArtifactPath(a.cfg.Storage.Prefix, summary.RunID, filepath.Base(path))
	uri, err := a.svc.Blobs.PutObject(ctx, target, contentType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("upload %s: %w", target, err)
	}
	digest := sha256.New().Hash(data)
	summary.Artifacts[key] = uri
	summary.Checksums[key] = digest
	a.logger.Info("artifact uploaded",
		zap.String("run_id", summary.RunID),
		zap.String("uri", uri),
		zap.String("sha256", digest),
	)
	return nil
}

// Report ranks directors and renders the chart at cfg.Output.ChartPath. An
// empty director list logs a warning and returns no entries.
func Report(cfg config.Config, directors []string, logger *zap.Logger) ([]report.Entry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries := report.TopDirectors(directors, cfg.Report.TopN)
	if len(entries) == 0 {
		logger.Warn("no directors to report")
		return nil, nil
	}
	for _, e := range entries {
		logger.Info("top director", zap.String("director", e.Director), zap.Int("films", e.Films))
	}
	opts := report.ChartOptions{CountryFilter: cfg.Parser.CountryFilter, FontPath: cfg.Report.FontPath}
	fnt, err := opts.ResolveFont()
	if err != nil {
		return nil, fmt.Errorf("load chart font: %w", err)
	}
	if fnt == nil {
		fnt, opts.FontPath = systemFont(logger)
	}
	opts.Font = fnt
	if missing := report.MissingGlyphs(fnt, chartTexts(opts, entries)...); len(missing) > 0 {
		logger.Warn("chart font lacks glyphs, set report.font_path to a CJK font",
			zap.String("font_path", opts.FontPath),
			zap.String("missing", string(missing)),
		)
	}
	if err := report.RenderBarChart(cfg.Output.ChartPath, entries, opts); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	logger.Info("chart written", zap.String("path", cfg.Output.ChartPath))
	return entries, nil
}

// ReportFromCSV re-reads the director column of the exported CSV and renders the chart.
func ReportFromCSV(cfg config.Config, logger *zap.Logger) ([]report.Entry, error) {
	directors, err := csvsink.ReadDirectorsFile(cfg.Output.CSVPath)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	entries, err := Report(cfg, directors, logger)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, report.ErrNoData
	}
	return entries, nil
}

// systemFont returns the first installed CJK font that parses, or nil.
func systemFont(logger *zap.Logger) (*report.Font, string) {
	path, err := report.FindCJKFont(report.CJKFontCandidates)
	if err != nil {
		return nil, ""
	}
	fnt, err := report.LoadFont(path)
	if err != nil {
		logger.Warn("ignoring unreadable system font", zap.String("path", path), zap.Error(err))
		return nil, ""
	}
	return fnt, path
}

func chartTexts(opts report.ChartOptions, entries []report.Entry) []string {
	texts := make([]string, 0, len(entries)+1)
	texts = append(texts, opts.ChartTitle())
	for _, e := range entries {
		texts = append(texts, e.Director)
	}
	return texts
}

func directorLabels(records []catalog.CleanRecord) []string {
	out := make([]string, len(records))
	for i, cr := range records {
		out[i] = cr.Record.DirectorLabel()
	}
	return out
}
