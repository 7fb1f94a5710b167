package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/top250-crawler/internal/app"
	"github.com/JakeFAU/top250-crawler/internal/catalog"
	"github.com/JakeFAU/top250-crawler/internal/clock/system"
	"github.com/JakeFAU/top250-crawler/internal/config"
	"github.com/JakeFAU/top250-crawler/internal/logging"
)

// crawler is the part of *app.App the crawl command drives.
type crawler interface {
	Crawl(ctx context.Context) (catalog.RunSummary, error)
	Close(ctx context.Context) error
}

// buildCrawler is the application factory, replaced in tests.
var buildCrawler = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler, error) {
	return app.Build(ctx, cfg, logger)
}

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the listing and writes the CSV and director chart",
		Long: `Checks robots.txt, fetches every listing page with randomized delays and
retries, filters and cleans the records, writes the CSV and chart, and
optionally stores the run in Postgres, uploads artifacts and publishes a
run summary.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := configFrom(ctx)
	if err != nil {
		return err
	}

	runLog, err := logging.NewRun(cfg.Logging.Dir, cfg.Logging.Development, system.New().Now())
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() {
		_ = runLog.Close() //nolint:errcheck // best effort on exit
	}()
	logger := runLog.Logger
	logger.Info("run log opened", zap.String("path", runLog.Path))

	c, err := buildCrawler(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application services", zap.Error(err))
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := c.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("failed to close application services", zap.Error(cerr))
		}
	}()

	summary, err := c.Crawl(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("crawl interrupted; partial results kept", zap.Int("accepted", summary.Accepted))
		} else {
			logger.Error("crawl failed", zap.Error(err))
		}
		return fmt.Errorf("crawl: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d accepted, %d written to %s\n",
		summary.RunID, summary.Accepted, summary.Cleaned, cfg.Output.CSVPath)
	return nil
}
