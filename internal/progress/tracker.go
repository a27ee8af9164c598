// Package progress keeps a live snapshot of the current run for the ops
// endpoints, fed by the same flushes that persist run summaries.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/venuegrid/crawler/internal/crawl"
)

// Snapshot is the most recent view of the run.
type Snapshot struct {
	RunID            string                   `json:"run_id"`
	Source           string                   `json:"source"`
	Total            int                      `json:"total"`
	Processed        int                      `json:"processed"`
	ByTag            map[crawl.OutcomeTag]int `json:"by_tag"`
	NewRecords       int                      `json:"new_records"`
	DuplicateRecords int                      `json:"duplicate_records"`
	StartedAt        time.Time                `json:"started_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

// Tracker holds the snapshot behind a lock.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Update replaces the snapshot from a run summary.
func (t *Tracker) Update(stats crawl.RunStats, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byTag := make(map[crawl.OutcomeTag]int, len(stats.ByTag))
	for tag, n := range stats.ByTag {
		byTag[tag] = n
	}
	t.snap = Snapshot{
		RunID:            stats.RunID,
		Source:           stats.Source,
		Total:            stats.Total,
		Processed:        stats.Processed,
		ByTag:            byTag,
		NewRecords:       stats.NewRecords,
		DuplicateRecords: stats.DuplicateRecords,
		StartedAt:        stats.StartedAt,
		UpdatedAt:        at,
	}
}

// Snapshot returns a copy of the current view.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// ObservedSink forwards every sink call to the wrapped sink and mirrors
// flushes into the tracker, so the ops endpoint sees what the store sees.
type ObservedSink struct {
	inner   crawl.Sink
	tracker *Tracker
}

// Observe wraps a sink with tracker updates.
func Observe(inner crawl.Sink, tracker *Tracker) *ObservedSink {
	return &ObservedSink{inner: inner, tracker: tracker}
}

// Merge passes through to the wrapped sink.
func (s *ObservedSink) Merge(ctx context.Context, contextKey string, records []crawl.Record) (crawl.MergeStats, error) {
	return s.inner.Merge(ctx, contextKey, records)
}

// LastIndex passes through to the wrapped sink.
func (s *ObservedSink) LastIndex(ctx context.Context, source string) (int, error) {
	return s.inner.LastIndex(ctx, source)
}

// Checkpoint passes through to the wrapped sink.
func (s *ObservedSink) Checkpoint(ctx context.Context, source string, index int) error {
	return s.inner.Checkpoint(ctx, source, index)
}

// Fail passes through to the wrapped sink.
func (s *ObservedSink) Fail(ctx context.Context, f crawl.Failure) error {
	return s.inner.Fail(ctx, f)
}

// Flush updates the tracker and then flushes the wrapped sink.
func (s *ObservedSink) Flush(ctx context.Context, stats crawl.RunStats) error {
	s.tracker.Update(stats, time.Now())
	return s.inner.Flush(ctx, stats)
}
