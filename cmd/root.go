// Package cmd defines the CLI commands of the top250 executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/top250-crawler/internal/config"
)

type configKeyType string

const configKey configKeyType = "config"

// newRootCmd creates the root command. The configuration is loaded once in
// PersistentPreRunE and handed to subcommands through the context.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "top250",
		Short: "Scrapes the Douban Top 250 movie listing.",
		Long: `top250 pages through the Douban Top 250 listing, keeps the films that
match the configured country filter, writes a cleaned CSV and renders a bar
chart of the directors with the most films.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); TOP250_* env vars override it")
	cmd.AddCommand(newCrawlCmd(), newReportCmd())
	return cmd
}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute runs the root command. SIGINT and SIGTERM cancel the context, which
// stops the crawl between pages.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
