package docstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/datakiln/refinery/pkg/docstore"
	"github.com/datakiln/refinery/pkg/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *docstore.Store {
	t.Helper()

	store, err := docstore.Open(filepath.Join(t.TempDir(), "nested", "documents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestSaveAndGetRecord(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	rec := records.Record{
		RecordID:   "x1",
		Title:      "Tiêu đề",
		Categories: []string{"Thời sự"},
		Content:    "Nội dung.",
	}
	require.NoError(t, store.SaveRecord(ctx, rec, docstore.StagePreprocessed))

	stored, err := store.GetRecord(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, rec, stored.Record)
	assert.Equal(t, docstore.StagePreprocessed, stored.Stage)
	assert.False(t, stored.UpdatedAt.IsZero())
}

func TestSaveRecord_UpsertAdvancesStage(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	rec := records.Record{RecordID: "x1", Title: "T", Content: "C"}
	require.NoError(t, store.SaveRecord(ctx, rec, docstore.StagePreprocessed))

	rec.ProcessedTimestamp = "2024-09-22T16:20:00Z"
	require.NoError(t, store.SaveRecord(ctx, rec, docstore.StagePostprocessed))

	stored, err := store.GetRecord(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, docstore.StagePostprocessed, stored.Stage)
	assert.Equal(t, "2024-09-22T16:20:00Z", stored.Record.ProcessedTimestamp)

	all, err := store.ListRecords(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetRecord_NotFound(t *testing.T) {
	store := openStore(t)

	_, err := store.GetRecord(context.Background(), "nope")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestListRecords_FilterByStage(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRecord(ctx, records.Record{RecordID: "a", Title: "A", Content: "c"}, docstore.StagePreprocessed))
	require.NoError(t, store.SaveRecord(ctx, records.Record{RecordID: "b", Title: "B", Content: "c"}, docstore.StagePostprocessed))

	pre, err := store.ListRecords(ctx, docstore.StagePreprocessed)
	require.NoError(t, err)
	require.Len(t, pre, 1)
	assert.Equal(t, "a", pre[0].Record.RecordID)
}

func TestRecordAndListRuns(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	started := time.Date(2024, 9, 22, 16, 0, 0, 0, time.UTC)
	id, err := store.RecordRun(ctx, docstore.Run{
		Kind:      "preprocess",
		Total:     10,
		Succeeded: 8,
		Skipped:   2,
		StartedAt: started,
		EndedAt:   started.Add(5 * time.Minute),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "preprocess", runs[0].Kind)
	assert.Equal(t, 8, runs[0].Succeeded)
}
