package tracker

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifearchivist/core/internal/bm25"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, _ := newTestTrackerWithClient(t)
	return tr
}

func newTestTrackerWithClient(t *testing.T) (*Tracker, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return New(client), client
}

func TestAdd_RegistersNodesAndIncrementsCount(t *testing.T) {
	// Given: an empty tracker
	tr := newTestTracker(t)
	ctx := context.Background()

	// When: adding a document with three chunk node-ids
	err := tr.Add(ctx, "doc-1", []string{"n1", "n2", "n3"})

	// Then: its node-ids and count are recorded
	require.NoError(t, err)
	ids, err := tr.NodeIDs(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2", "n3"}, ids)
	count, err := tr.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStoreFullMetadata_ThenGet_RoundTrips(t *testing.T) {
	// Given: a tracked document
	tr := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.Add(ctx, "doc-1", []string{"n1"}))

	// When: storing full metadata with an indexable field and a list field
	meta := map[string]any{
		"title":     "Invoice March",
		"mime_type": "application/pdf",
		"status":    "ready",
		"theme":     "finance",
		"tags":      []string{"invoice", "march"},
	}
	require.NoError(t, tr.StoreFullMetadata(ctx, "doc-1", meta))

	// Then: the metadata reads back decoded, and filter indexes are populated
	got, err := tr.GetFullMetadata(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Invoice March", got["title"])
	assert.Equal(t, "finance", got["theme"])

	ids, err := tr.QueryByFilters(ctx, map[string]string{"theme": "finance"})
	require.NoError(t, err)
	assert.Contains(t, ids, "doc-1")
}

func TestUpdateFullMetadata_UpdateModeMergesTagsAndAppendsContentDates(t *testing.T) {
	// Given: a document with existing tags and content dates
	tr := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.Add(ctx, "doc-1", []string{"n1"}))
	require.NoError(t, tr.StoreFullMetadata(ctx, "doc-1", map[string]any{
		"tags":          []string{"alpha"},
		"content_dates": []string{"2024-01-01T00:00:00Z"},
		"status":        "processing",
	}))

	// When: updating with overlapping tags, a new content date, and a status change
	err := tr.UpdateFullMetadata(ctx, "doc-1", map[string]any{
		"tags":          []string{"alpha", "beta"},
		"content_dates": []string{"2024-02-01T00:00:00Z"},
		"status":        "ready",
	}, UpdateModeUpdate)
	require.NoError(t, err)

	// Then: tags are unioned, content_dates are appended, status is overwritten
	got, err := tr.GetFullMetadata(ctx, "doc-1")
	require.NoError(t, err)
	tags, _ := got["tags"].([]any)
	assert.Len(t, tags, 2)
	dates, _ := got["content_dates"].([]any)
	assert.Len(t, dates, 2)
	assert.Equal(t, "ready", got["status"])

	// And: the status filter index moved from processing to ready
	readyIDs, err := tr.QueryByFilters(ctx, map[string]string{"status": "ready"})
	require.NoError(t, err)
	assert.Contains(t, readyIDs, "doc-1")
	processingIDs, err := tr.QueryByFilters(ctx, map[string]string{"status": "processing"})
	require.NoError(t, err)
	assert.NotContains(t, processingIDs, "doc-1")
}

func TestUpdateFullMetadata_ReplaceModeOverwritesListField(t *testing.T) {
	// Given: a document with existing tags
	tr := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.Add(ctx, "doc-1", []string{"n1"}))
	require.NoError(t, tr.StoreFullMetadata(ctx, "doc-1", map[string]any{
		"tags": []string{"alpha", "beta"},
	}))

	// When: replacing tags outright
	err := tr.UpdateFullMetadata(ctx, "doc-1", map[string]any{
		"tags": []string{"gamma"},
	}, UpdateModeReplace)
	require.NoError(t, err)

	// Then: only the replacement tag remains
	got, err := tr.GetFullMetadata(ctx, "doc-1")
	require.NoError(t, err)
	tags, _ := got["tags"].([]any)
	require.Len(t, tags, 1)
	assert.Equal(t, "gamma", tags[0])
}

func TestRemove_DeletesNodesMetadataAndIndexMembership(t *testing.T) {
	// Given: a tracked, indexed document
	tr := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.Add(ctx, "doc-1", []string{"n1", "n2"}))
	require.NoError(t, tr.StoreFullMetadata(ctx, "doc-1", map[string]any{"theme": "finance"}))

	// When: removing the document
	err := tr.Remove(ctx, "doc-1")

	// Then: its nodes, metadata and index memberships are gone, count decremented
	require.NoError(t, err)
	ids, err := tr.NodeIDs(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
	meta, err := tr.GetFullMetadata(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, meta)
	filtered, err := tr.QueryByFilters(ctx, map[string]string{"theme": "finance"})
	require.NoError(t, err)
	assert.NotContains(t, filtered, "doc-1")
	count, err := tr.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestQueryByFilters_EmptyFilterReturnsAllDocuments(t *testing.T) {
	// Given: two tracked documents
	tr := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.Add(ctx, "doc-1", nil))
	require.NoError(t, tr.Add(ctx, "doc-2", nil))

	// When: querying with no filters
	ids, err := tr.QueryByFilters(ctx, nil)

	// Then: both documents are returned
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, ids)
}

func TestQueryByFilters_IntersectsMultipleFields(t *testing.T) {
	// Given: two documents sharing a theme but differing in mime type
	tr := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.Add(ctx, "doc-1", nil))
	require.NoError(t, tr.Add(ctx, "doc-2", nil))
	require.NoError(t, tr.StoreFullMetadata(ctx, "doc-1", map[string]any{
		"theme": "finance", "mime_type": "application/pdf",
	}))
	require.NoError(t, tr.StoreFullMetadata(ctx, "doc-2", map[string]any{
		"theme": "finance", "mime_type": "text/plain",
	}))

	// When: querying by theme AND mime_type
	ids, err := tr.QueryByFilters(ctx, map[string]string{
		"theme": "finance", "mime_type": "application/pdf",
	})

	// Then: only the matching document is returned
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, ids)
}

func TestClearAll_RemovesEveryTrackedKey(t *testing.T) {
	// Given: a tracker with documents and metadata
	tr := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.Add(ctx, "doc-1", []string{"n1"}))
	require.NoError(t, tr.StoreFullMetadata(ctx, "doc-1", map[string]any{"theme": "finance"}))

	// When: clearing everything
	stats, err := tr.ClearAll(ctx)

	// Then: all keys are gone and counts reflect zero documents
	require.NoError(t, err)
	assert.Greater(t, stats.KeysDeleted, 0)
	count, err := tr.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	ids, err := tr.QueryByFilters(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestExists_ReflectsTrackedMetadata(t *testing.T) {
	// Given: a tracker with one tracked document
	tr := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.StoreFullMetadata(ctx, "doc-1", map[string]any{"theme": "finance"}))

	// Then: the tracked document exists, an unknown one doesn't
	ok, err := tr.Exists(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tr.Exists(ctx, "doc-missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReconcile_RemovesBM25OrphansNotInTracker(t *testing.T) {
	// Given: a BM25 index with two documents, only one of which is tracked
	tr, client := newTestTrackerWithClient(t)
	ctx := context.Background()
	require.NoError(t, tr.StoreFullMetadata(ctx, "doc-1", map[string]any{"theme": "finance"}))

	bm25Index := bm25.New(bm25.Config{}, client)
	require.NoError(t, bm25Index.Add(ctx, "doc-1", "tracked document text"))
	require.NoError(t, bm25Index.Add(ctx, "doc-orphan", "orphaned document text"))

	// When: reconciling
	stats, err := tr.Reconcile(ctx, bm25Index)

	// Then: only the untracked document is removed from BM25
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OrphansRemoved)
	assert.ElementsMatch(t, []string{"doc-1"}, bm25Index.DocumentIDs())
}

func TestReconcile_NoOrphansLeavesIndexUnchanged(t *testing.T) {
	// Given: a BM25 index whose only document is tracked
	tr, client := newTestTrackerWithClient(t)
	ctx := context.Background()
	require.NoError(t, tr.StoreFullMetadata(ctx, "doc-1", map[string]any{"theme": "finance"}))

	bm25Index := bm25.New(bm25.Config{}, client)
	require.NoError(t, bm25Index.Add(ctx, "doc-1", "tracked document text"))

	// When: reconciling
	stats, err := tr.Reconcile(ctx, bm25Index)

	// Then: nothing is removed
	require.NoError(t, err)
	assert.Equal(t, 0, stats.OrphansRemoved)
	assert.ElementsMatch(t, []string{"doc-1"}, bm25Index.DocumentIDs())
}
