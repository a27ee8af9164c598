// Package cmd defines and implements the CLI commands for the venuecrawl
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venuegrid/crawler/internal/app"
	"github.com/venuegrid/crawler/internal/config"
	"github.com/venuegrid/crawler/internal/logging"
)

var (
	cfgFile    string
	startIndex int
	endIndex   int
)

type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It is a variable so tests can swap in
// a stub container.
var newApp = func(ctx context.Context, cfg config.Config, log *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, log)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "venuecrawl",
		Short: "Browser-driven crawler for venue and reviewer listings",
		Long: `venuecrawl walks zone task lists with a headless browser, classifies
each page, and merges extracted records into the configured store. Runs
resume from a per-source checkpoint, so an interrupted crawl picks up
where it stopped.`,

		// Runs after flags are parsed and before the subcommand: load
		// config, build the logger, assemble the service container.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("start") {
				cfg.Crawl.StartIndex = startIndex
			}
			if cmd.Flags().Changed("end") {
				cfg.Crawl.EndIndex = endIndex
			}
			log, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); VENUECRAWL_* env vars override")
	cmd.PersistentFlags().IntVar(&startIndex, "start", 0, "skip tasks below this index, on top of the stored checkpoint")
	cmd.PersistentFlags().IntVar(&endIndex, "end", 0, "skip tasks above this index (0 means no bound)")

	cmd.AddCommand(newVenuesCmd())
	cmd.AddCommand(newReviewersCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. It binds SIGINT and SIGTERM to context
// cancellation so an interrupted run still flushes its summary.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
