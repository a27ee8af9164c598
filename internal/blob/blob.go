// Package blob abstracts where page snapshots land, so the crawler does
// not care whether artifacts go to the local filesystem or a bucket.
package blob

import (
	"context"
	"fmt"

	"github.com/venuegrid/crawler/internal/clock"
	"github.com/venuegrid/crawler/internal/crawl"
)

// Store uploads one object and returns a stable reference to it.
type Store interface {
	Put(ctx context.Context, objectName, contentType string, data []byte) (string, error)
}

// NoOpStore discards objects. It backs dry runs.
type NoOpStore struct{}

// Put for NoOpStore drops the data.
func (NoOpStore) Put(_ context.Context, objectName, _ string, _ []byte) (string, error) {
	return "noop://" + objectName, nil
}

// Snapshotter saves block-page captures through a Store. It implements
// crawl.Snapshotter.
type Snapshotter struct {
	store Store
	clk   clock.Clock
}

// NewSnapshotter wires a Snapshotter over a blob store.
func NewSnapshotter(store Store, clk clock.Clock) *Snapshotter {
	if clk == nil {
		clk = clock.System{}
	}
	return &Snapshotter{store: store, clk: clk}
}

// Save stores the page HTML under a name that identifies the task and the
// capture time.
func (s *Snapshotter) Save(ctx context.Context, task crawl.Task, html string) (string, error) {
	name := fmt.Sprintf("blocked/%s/%04d_%s.html",
		task.Kind.Module(),
		task.Index,
		s.clk.Now().UTC().Format("20060102T150405Z"),
	)
	ref, err := s.store.Put(ctx, name, "text/html", []byte(html))
	if err != nil {
		return "", fmt.Errorf("save snapshot %s: %w", name, err)
	}
	return ref, nil
}

var _ crawl.Snapshotter = (*Snapshotter)(nil)
