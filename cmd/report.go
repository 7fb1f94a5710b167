package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/top250-crawler/internal/app"
	"github.com/JakeFAU/top250-crawler/internal/logging"
)

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Renders the director chart from an existing CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			defer func() {
				_ = logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
			}()

			entries, err := app.ReportFromCSV(cfg, logger.Named("report"))
			if err != nil {
				return fmt.Errorf("report: %w", err)
			}
			out := cmd.OutOrStdout()
			for i, e := range entries {
				fmt.Fprintf(out, "%d. %s (%d)\n", i+1, e.Director, e.Films)
			}
			fmt.Fprintf(out, "chart written to %s\n", cfg.Output.ChartPath)
			return nil
		},
	}
}
