package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/venuegrid/crawler/internal/crawl"
)

type recordingSink struct {
	flushes int
}

func (s *recordingSink) Merge(context.Context, string, []crawl.Record) (crawl.MergeStats, error) {
	return crawl.MergeStats{}, nil
}
func (s *recordingSink) LastIndex(context.Context, string) (int, error)  { return -1, nil }
func (s *recordingSink) Checkpoint(context.Context, string, int) error   { return nil }
func (s *recordingSink) Fail(context.Context, crawl.Failure) error       { return nil }
func (s *recordingSink) Flush(context.Context, crawl.RunStats) error {
	s.flushes++
	return nil
}

func TestTrackerUpdateAndSnapshot(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tracker.Update(crawl.RunStats{
		RunID:     "run-1",
		Source:    "venues.csv",
		Total:     10,
		Processed: 4,
		ByTag:     map[crawl.OutcomeTag]int{crawl.OutcomeSuccess: 3, crawl.OutcomeBlocked: 1},
	}, at)

	snap := tracker.Snapshot()
	require.Equal(t, "run-1", snap.RunID)
	require.Equal(t, 4, snap.Processed)
	require.Equal(t, 1, snap.ByTag[crawl.OutcomeBlocked])
	require.Equal(t, at, snap.UpdatedAt)
}

func TestObservedSinkMirrorsFlushes(t *testing.T) {
	t.Parallel()

	inner := &recordingSink{}
	tracker := NewTracker()
	sink := Observe(inner, tracker)

	require.NoError(t, sink.Flush(context.Background(), crawl.RunStats{RunID: "run-2", Processed: 7}))

	require.Equal(t, 1, inner.flushes)
	require.Equal(t, "run-2", tracker.Snapshot().RunID)
	require.Equal(t, 7, tracker.Snapshot().Processed)
}
