package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venuegrid/crawler/internal/app"
	"github.com/venuegrid/crawler/internal/crawl"
	"github.com/venuegrid/crawler/internal/tasks"
)

func newVenuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "venues <tasks-path>",
		Short: "Crawl venue listings for every zone in the task list",
		Long: `Loads zone tasks from a CSV file or a directory of CSV files and
crawls the venue listing page for each zone, resuming from the stored
checkpoint for that source.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, crawl.KindVenue, args[0])
		},
	}
}

func newReviewersCmd() *cobra.Command {
	var fromContext string

	cmd := &cobra.Command{
		Use:   "reviewers [tasks-path]",
		Short: "Crawl reviewer tips for every venue in the task list",
		Long: `Loads reviewer tasks from a CSV file or directory, or derives them
from venues already persisted in the store when --from-context names a
zone.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromContext != "" {
				return runStoredReviewers(cmd, fromContext)
			}
			if len(args) != 1 {
				return errors.New("a tasks path or --from-context is required")
			}
			return runCrawl(cmd, crawl.KindReviewer, args[0])
		},
	}

	cmd.Flags().StringVar(&fromContext, "from-context", "",
		"derive tasks from persisted venues in this zone instead of a CSV")
	return cmd
}

func runStoredReviewers(cmd *cobra.Command, contextKey string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	records, err := appInstance.Store().ListRecords(cmd.Context(), crawl.KindVenue, contextKey)
	if err != nil {
		return fmt.Errorf("list stored venues: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no stored venues for context %q", contextKey)
	}
	src := tasks.FromRecords("venues:"+contextKey, records, crawl.KindReviewer)

	return runSource(cmd, appInstance, crawl.KindReviewer, src)
}

func runCrawl(cmd *cobra.Command, kind crawl.RecordKind, path string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	src, err := loadTasks(path, kind)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	return runSource(cmd, appInstance, kind, src)
}

func runSource(cmd *cobra.Command, appInstance *app.App, kind crawl.RecordKind, src *tasks.Source) error {
	log := appInstance.Logger()
	log.Info("task list loaded",
		zap.String("source", src.ID()),
		zap.Int("tasks", src.Len()),
		zap.String("kind", string(kind)))

	stats, err := appInstance.Crawl(cmd.Context(), kind, src)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawl %s: %w", kind.Module(), err)
	}

	log.Info("crawl finished",
		zap.String("run_id", stats.RunID),
		zap.Int("processed", stats.Processed),
		zap.Int("new_records", stats.NewRecords),
		zap.Int("duplicates", stats.DuplicateRecords),
		zap.Int("failed", len(stats.FailedContexts)))
	return nil
}

func loadTasks(path string, kind crawl.RecordKind) (*tasks.Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return tasks.LoadDir(path, kind)
	}
	return tasks.LoadCSV(path, kind)
}
