// Package sink adapts a storage.Store to the orchestrator, serializing
// writes so each crawl context has a single writer at a time.
package sink

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/venuegrid/crawler/internal/crawl"
	"github.com/venuegrid/crawler/internal/storage"
)

// Sink routes merge, checkpoint, failure and summary writes for one record
// kind to the store. Checkpoints are keyed by the kind's module name plus
// the task source, so venue and reviewer runs over the same list file never
// share progress.
type Sink struct {
	store  storage.Store
	module string
	log    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Sink for one record kind.
func New(store storage.Store, kind crawl.RecordKind, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{
		store:  store,
		module: kind.Module(),
		log:    log,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Merge unions records into the context partition under that context's
// write lock.
func (s *Sink) Merge(ctx context.Context, contextKey string, records []crawl.Record) (crawl.MergeStats, error) {
	lock := s.contextLock(contextKey)
	lock.Lock()
	defer lock.Unlock()

	stats, err := s.store.MergeRecords(ctx, contextKey, records)
	if err != nil {
		return crawl.MergeStats{}, fmt.Errorf("merge into %s: %w", contextKey, err)
	}
	return stats, nil
}

// LastIndex returns the stored checkpoint for source, -1 when none.
func (s *Sink) LastIndex(ctx context.Context, source string) (int, error) {
	return s.store.LastIndex(ctx, s.module, source)
}

// Checkpoint persists a processed index for source.
func (s *Sink) Checkpoint(ctx context.Context, source string, index int) error {
	return s.store.SaveCheckpoint(ctx, s.module, source, index)
}

// Fail appends a failed task to the failure log.
func (s *Sink) Fail(ctx context.Context, f crawl.Failure) error {
	return s.store.RecordFailure(ctx, f)
}

// Flush writes the run summary.
func (s *Sink) Flush(ctx context.Context, stats crawl.RunStats) error {
	return s.store.SaveSummary(ctx, stats)
}

func (s *Sink) contextLock(contextKey string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[contextKey]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[contextKey] = lock
	}
	return lock
}
