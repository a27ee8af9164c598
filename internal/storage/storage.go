// Package storage declares the persistence interface behind the result
// sink. Implementations exist for the local filesystem and Postgres; both
// honor the same merge and checkpoint semantics.
package storage

import (
	"context"

	"github.com/venuegrid/crawler/internal/crawl"
)

// Store persists crawl records, checkpoints, failures and run summaries.
//
// MergeRecords is a union: records whose key already exists in the context
// partition are dropped, never overwritten. SaveCheckpoint keeps the
// maximum index ever written for a (module, source) pair, so late arrivals
// from out-of-order workers cannot move it backwards.
type Store interface {
	MergeRecords(ctx context.Context, contextKey string, records []crawl.Record) (crawl.MergeStats, error)
	ListRecords(ctx context.Context, kind crawl.RecordKind, contextKey string) ([]crawl.Record, error)

	// LastIndex returns -1 when no checkpoint exists yet.
	LastIndex(ctx context.Context, module, source string) (int, error)
	SaveCheckpoint(ctx context.Context, module, source string, index int) error

	RecordFailure(ctx context.Context, f crawl.Failure) error
	SaveSummary(ctx context.Context, stats crawl.RunStats) error

	Close() error
}
