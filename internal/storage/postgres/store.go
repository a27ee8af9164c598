// Package postgres implements the result store on Postgres. Record
// uniqueness and checkpoint monotonicity are enforced in SQL, so several
// crawler processes can share one database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuegrid/crawler/internal/crawl"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists crawl output in Postgres.
//
// Expected schema:
//
//	CREATE TABLE records (
//	    kind TEXT NOT NULL,
//	    context_key TEXT NOT NULL,
//	    url TEXT NOT NULL,
//	    name TEXT,
//	    category TEXT,
//	    address TEXT,
//	    rating TEXT,
//	    source_url TEXT,
//	    extracted_at TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (kind, context_key, url)
//	);
//	CREATE INDEX records_category_idx ON records (kind, category);
//	CREATE INDEX records_rating_idx ON records (kind, rating);
//	CREATE TABLE checkpoints (
//	    module TEXT NOT NULL,
//	    source TEXT NOT NULL,
//	    last_index INTEGER NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (module, source)
//	);
//	CREATE TABLE failures (
//	    id BIGSERIAL PRIMARY KEY,
//	    kind TEXT NOT NULL,
//	    task_index INTEGER NOT NULL,
//	    zone TEXT,
//	    url TEXT,
//	    outcome TEXT NOT NULL,
//	    detail TEXT,
//	    failed_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE run_summaries (
//	    run_id UUID PRIMARY KEY,
//	    source TEXT NOT NULL,
//	    payload JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Store struct {
	pool querier
	sb   sq.StatementBuilderType
}

// New creates a Store with its own connection pool.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool, which tests back with pgxmock.
func NewWithPool(pool querier) *Store {
	return &Store{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// MergeRecords inserts records one by one with ON CONFLICT DO NOTHING, so
// a key already present in the partition stays untouched and counts as a
// duplicate.
func (s *Store) MergeRecords(ctx context.Context, contextKey string, records []crawl.Record) (crawl.MergeStats, error) {
	const insert = `
		INSERT INTO records (kind, context_key, url, name, category, address, rating, source_url, extracted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (kind, context_key, url) DO NOTHING
	`
	stats := crawl.MergeStats{}
	for _, r := range records {
		tag, err := s.pool.Exec(ctx, insert,
			string(r.Kind), contextKey, r.URL,
			r.Name, r.Category, r.Address, r.Rating,
			r.SourceURL, r.ExtractedAt,
		)
		if err != nil {
			return crawl.MergeStats{}, fmt.Errorf("insert record %s: %w", r.URL, err)
		}
		if tag.RowsAffected() == 0 {
			stats.Duplicates++
		} else {
			stats.New++
		}
	}

	var kind crawl.RecordKind
	if len(records) > 0 {
		kind = records[0].Kind
	}
	total, err := s.countRecords(ctx, kind, contextKey)
	if err != nil {
		return crawl.MergeStats{}, err
	}
	stats.Total = total
	return stats, nil
}

func (s *Store) countRecords(ctx context.Context, kind crawl.RecordKind, contextKey string) (int, error) {
	// Chained conjuncts keep the placeholder order stable; a combined
	// sq.Eq map would bind them alphabetically.
	query, args, err := s.sb.
		Select("COUNT(*)").
		From("records").
		Where(sq.Eq{"kind": string(kind)}).
		Where(sq.Eq{"context_key": contextKey}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return total, nil
}

// ListRecords returns the stored partition for a context, newest last.
func (s *Store) ListRecords(ctx context.Context, kind crawl.RecordKind, contextKey string) ([]crawl.Record, error) {
	query, args, err := s.sb.
		Select("kind", "context_key", "url", "name", "category", "address", "rating", "source_url", "extracted_at").
		From("records").
		Where(sq.Eq{"kind": string(kind)}).
		Where(sq.Eq{"context_key": contextKey}).
		OrderBy("extracted_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []crawl.Record
	for rows.Next() {
		var r crawl.Record
		var kindText string
		if err := rows.Scan(&kindText, &r.Context, &r.URL, &r.Name, &r.Category, &r.Address, &r.Rating, &r.SourceURL, &r.ExtractedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Kind = crawl.RecordKind(kindText)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// LastIndex returns the stored checkpoint, -1 when none exists.
func (s *Store) LastIndex(ctx context.Context, module, source string) (int, error) {
	const query = `SELECT last_index FROM checkpoints WHERE module = $1 AND source = $2`
	var index int
	err := s.pool.QueryRow(ctx, query, module, source).Scan(&index)
	if errors.Is(err, pgx.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("load checkpoint: %w", err)
	}
	return index, nil
}

// SaveCheckpoint upserts the checkpoint, never lowering it.
func (s *Store) SaveCheckpoint(ctx context.Context, module, source string, index int) error {
	const upsert = `
		INSERT INTO checkpoints (module, source, last_index, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (module, source) DO UPDATE
		SET last_index = GREATEST(checkpoints.last_index, EXCLUDED.last_index),
		    updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, upsert, module, source, index); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// RecordFailure appends a failed task row.
func (s *Store) RecordFailure(ctx context.Context, f crawl.Failure) error {
	const insert = `
		INSERT INTO failures (kind, task_index, zone, url, outcome, detail, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.pool.Exec(ctx, insert,
		string(f.Task.Kind), f.Task.Index, f.Task.Zone, f.Task.URL,
		string(f.Tag), f.Detail, f.At,
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// SaveSummary upserts the run summary payload.
func (s *Store) SaveSummary(ctx context.Context, stats crawl.RunStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	const upsert = `
		INSERT INTO run_summaries (run_id, source, payload, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (run_id) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, upsert, stats.RunID, stats.Source, payload); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
