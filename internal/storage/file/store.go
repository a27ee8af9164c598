// Package file implements the result store on the local filesystem. Each
// crawl context gets its own JSON artifact; checkpoints live in a single
// checkpoints.json; failures append to a CSV log.
package file

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/venuegrid/crawler/internal/crawl"
)

// Config captures the parameters for the filesystem store.
type Config struct {
	// BaseDir is the root directory for artifacts.
	BaseDir string `mapstructure:"base_dir"`
}

// Store writes crawl output under a base directory. Writes go through a
// temp file plus rename, so a crash never leaves a half-written artifact.
type Store struct {
	baseDir string
	mu      sync.Mutex
	log     *zap.Logger
}

// New creates the store, making the base directory if needed.
func New(cfg Config, log *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(filepath.Join(cfg.BaseDir, "records"), 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{baseDir: cfg.BaseDir, log: log}, nil
}

// MergeRecords unions records into the context partition. Existing entries
// win: a record whose key is already present counts as a duplicate and the
// stored copy is left untouched.
func (s *Store) MergeRecords(ctx context.Context, contextKey string, records []crawl.Record) (crawl.MergeStats, error) {
	if len(records) == 0 {
		return crawl.MergeStats{}, nil
	}
	if err := ctx.Err(); err != nil {
		return crawl.MergeStats{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.recordPath(records[0].Kind, contextKey)
	existing, err := readRecords(path)
	if err != nil {
		return crawl.MergeStats{}, err
	}

	seen := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		seen[r.Key()] = struct{}{}
	}

	stats := crawl.MergeStats{}
	merged := existing
	for _, r := range records {
		if _, dup := seen[r.Key()]; dup {
			stats.Duplicates++
			continue
		}
		seen[r.Key()] = struct{}{}
		merged = append(merged, r)
		stats.New++
	}
	stats.Total = len(merged)

	if stats.New > 0 {
		if err := writeJSON(path, merged); err != nil {
			return crawl.MergeStats{}, fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
	}
	s.log.Debug("records merged",
		zap.String("context", contextKey),
		zap.Int("new", stats.New),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("total", stats.Total),
	)
	return stats, nil
}

// ListRecords returns the stored partition for a context, empty when none.
func (s *Store) ListRecords(_ context.Context, kind crawl.RecordKind, contextKey string) ([]crawl.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readRecords(s.recordPath(kind, contextKey))
}

// LastIndex returns the stored checkpoint, -1 when none exists.
func (s *Store) LastIndex(_ context.Context, module, source string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	points, err := s.readCheckpoints()
	if err != nil {
		return -1, err
	}
	index, ok := points[checkpointKey(module, source)]
	if !ok {
		return -1, nil
	}
	return index, nil
}

// SaveCheckpoint records index unless a higher one is already stored.
func (s *Store) SaveCheckpoint(_ context.Context, module, source string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	points, err := s.readCheckpoints()
	if err != nil {
		return err
	}
	key := checkpointKey(module, source)
	if current, ok := points[key]; ok && current >= index {
		return nil
	}
	points[key] = index
	if err := writeJSON(s.checkpointPath(), points); err != nil {
		return fmt.Errorf("write checkpoints: %w", err)
	}
	return nil
}

// RecordFailure appends one row to the failure log.
func (s *Store) RecordFailure(_ context.Context, f crawl.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, "failures.csv")
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist)

	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open failure log: %w", err)
	}
	defer fh.Close()

	w := csv.NewWriter(fh)
	if fresh {
		if err := w.Write([]string{"at", "kind", "index", "zone", "url", "outcome", "detail"}); err != nil {
			return fmt.Errorf("write failure header: %w", err)
		}
	}
	row := []string{
		f.At.UTC().Format("2006-01-02T15:04:05Z"),
		string(f.Task.Kind),
		strconv.Itoa(f.Task.Index),
		f.Task.Zone,
		f.Task.URL,
		string(f.Tag),
		f.Detail,
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write failure row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// SaveSummary writes the run summary artifact, overwriting earlier flushes
// of the same run.
func (s *Store) SaveSummary(_ context.Context, stats crawl.RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, "summaries", stats.RunID+".json")
	if err := writeJSON(path, stats); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// Close is a no-op; every write already lands on disk.
func (s *Store) Close() error { return nil }

func (s *Store) recordPath(kind crawl.RecordKind, contextKey string) string {
	name := fmt.Sprintf("%s_%s.json", kind.ArtifactPrefix(), slug(contextKey))
	return filepath.Join(s.baseDir, "records", name)
}

func (s *Store) checkpointPath() string {
	return filepath.Join(s.baseDir, "checkpoints.json")
}

func (s *Store) readCheckpoints() (map[string]int, error) {
	points := make(map[string]int)
	data, err := os.ReadFile(s.checkpointPath())
	if errors.Is(err, os.ErrNotExist) {
		return points, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoints: %w", err)
	}
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("decode checkpoints: %w", err)
	}
	return points, nil
}

func checkpointKey(module, source string) string {
	return module + "/" + source
}

func readRecords(path string) ([]crawl.Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	var records []crawl.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return records, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// slug turns a context name into a safe file name fragment.
func slug(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
