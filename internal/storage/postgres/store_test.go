package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/venuegrid/crawler/internal/crawl"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

func sampleRecord(url string) crawl.Record {
	return crawl.Record{
		Kind:        crawl.KindVenue,
		URL:         url,
		Name:        "Cafe Uno",
		Category:    "Cafe",
		Address:     "Calle 1",
		Rating:      "8.7",
		Context:     "norte",
		SourceURL:   "https://example.com/v/centro",
		ExtractedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestMergeRecordsCountsNewAndDuplicates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	fresh := sampleRecord("https://example.com/p/1")
	dup := sampleRecord("https://example.com/p/2")

	mock.ExpectExec("INSERT INTO records").
		WithArgs("venue", "norte", fresh.URL, fresh.Name, fresh.Category, fresh.Address, fresh.Rating, fresh.SourceURL, fresh.ExtractedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO records").
		WithArgs("venue", "norte", dup.URL, dup.Name, dup.Category, dup.Address, dup.Rating, dup.SourceURL, dup.ExtractedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("venue", "norte").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	stats, err := store.MergeRecords(context.Background(), "norte", []crawl.Record{fresh, dup})
	require.NoError(t, err)
	require.Equal(t, crawl.MergeStats{New: 1, Duplicates: 1, Total: 7}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastIndexMissingRowIsMinusOne(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT last_index FROM checkpoints").
		WithArgs("venues", "venues.csv").
		WillReturnRows(pgxmock.NewRows([]string{"last_index"}))

	last, err := store.LastIndex(context.Background(), "venues", "venues.csv")
	require.NoError(t, err)
	require.Equal(t, -1, last)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastIndexReturnsStoredValue(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT last_index FROM checkpoints").
		WithArgs("venues", "venues.csv").
		WillReturnRows(pgxmock.NewRows([]string{"last_index"}).AddRow(41))

	last, err := store.LastIndex(context.Background(), "venues", "venues.csv")
	require.NoError(t, err)
	require.Equal(t, 41, last)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveCheckpointUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO checkpoints").
		WithArgs("venues", "venues.csv", 12).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveCheckpoint(context.Background(), "venues", "venues.csv", 12))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailureInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Unix(1700000000, 0).UTC()
	f := crawl.Failure{
		Task:   crawl.Task{Index: 3, Zone: "centro", URL: "https://example.com/v/centro", Kind: crawl.KindVenue},
		Tag:    crawl.OutcomeBlocked,
		Detail: "block page served",
		At:     at,
	}

	mock.ExpectExec("INSERT INTO failures").
		WithArgs("venue", 3, "centro", "https://example.com/v/centro", "blocked", "block page served", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordFailure(context.Background(), f))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSummaryUpsertsPayload(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	stats := crawl.RunStats{RunID: "3f2a", Source: "venues.csv", Processed: 4}

	mock.ExpectExec("INSERT INTO run_summaries").
		WithArgs("3f2a", "venues.csv", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveSummary(context.Background(), stats))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecordsScansRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{"kind", "context_key", "url", "name", "category", "address", "rating", "source_url", "extracted_at"}).
		AddRow("venue", "norte", "https://example.com/p/1", "Cafe Uno", "Cafe", "Calle 1", "8.7", "https://example.com/v/centro", at)
	mock.ExpectQuery("SELECT kind, context_key, url").
		WithArgs("venue", "norte").
		WillReturnRows(rows)

	records, err := store.ListRecords(context.Background(), crawl.KindVenue, "norte")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Cafe Uno", records[0].Name)
	require.Equal(t, crawl.KindVenue, records[0].Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}
