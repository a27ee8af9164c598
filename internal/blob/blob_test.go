package blob

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/venuegrid/crawler/internal/clock"
	"github.com/venuegrid/crawler/internal/crawl"
	"github.com/venuegrid/crawler/internal/blob/memory"
)

func TestSnapshotterNamesObjectsByTask(t *testing.T) {
	t.Parallel()

	store := memory.New()
	clk := clock.NewFake(time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC))
	snaps := NewSnapshotter(store, clk)

	task := crawl.Task{Index: 12, Zone: "centro", Kind: crawl.KindVenue}
	ref, err := snaps.Save(context.Background(), task, "<html>blocked</html>")
	require.NoError(t, err)

	require.Equal(t, "mem://blocked/venues/0012_20260801T103000Z.html", ref)
	data, ok := store.Get("blocked/venues/0012_20260801T103000Z.html")
	require.True(t, ok)
	require.Equal(t, "<html>blocked</html>", string(data))
}

func TestNoOpStoreDiscards(t *testing.T) {
	t.Parallel()

	ref, err := NoOpStore{}.Put(context.Background(), "a/b.html", "text/html", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "noop://a/b.html", ref)
}
