package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifearchivist/core/internal/bm25"
	"github.com/lifearchivist/core/internal/chunkstore"
	"github.com/lifearchivist/core/internal/filter"
	"github.com/lifearchivist/core/internal/llmclient"
	"github.com/lifearchivist/core/internal/tracker"
	"github.com/lifearchivist/core/internal/vectorstore"
)

const testDims = 4

// fixedVector returns a unit vector with a 1.0 in position idx, used to
// make cosine similarity deterministic in tests.
func fixedVector(idx int) []float32 {
	v := make([]float32, testDims)
	v[idx%testDims] = 1.0
	return v
}

func newEmbeddingServer(t *testing.T, vector []float32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{"models": []map[string]string{{"name": "m"}}})
		case "/api/embed":
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{vector}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, queryVector []float32) (*Service, *redis.Client) {
	t.Helper()
	ctx := context.Background()

	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})

	vectors, err := vectorstore.New(vectorstore.Config{Dimensions: testDims})
	require.NoError(t, err)

	bm25Index := bm25.New(bm25.Config{}, client)
	trk := tracker.New(client)
	chunks := chunkstore.NewStore()

	embedSrv := newEmbeddingServer(t, queryVector)
	embedder, err := llmclient.New(ctx, llmclient.Config{Host: embedSrv.URL})
	require.NoError(t, err)

	return New(vectors, bm25Index, trk, chunks, embedder), client
}

func indexDocument(t *testing.T, ctx context.Context, svc *Service, documentID, text string, vector []float32, metadata map[string]any) {
	t.Helper()
	chunk := chunkstore.Chunk{
		NodeID:     documentID + "-chunk-0",
		DocumentID: documentID,
		Text:       text,
	}
	svc.chunks.Put([]chunkstore.Chunk{chunk})
	require.NoError(t, svc.vectors.Add(ctx, []string{chunk.NodeID}, [][]float32{vector}))
	require.NoError(t, svc.bm25.Add(ctx, documentID, text))
	require.NoError(t, svc.tracker.Add(ctx, documentID, []string{chunk.NodeID}))
	require.NoError(t, svc.tracker.StoreFullMetadata(ctx, documentID, metadata))
}

func TestSemantic_ReturnsMatchAboveThreshold(t *testing.T) {
	// Given: one document whose chunk vector exactly matches the query vector
	query := fixedVector(0)
	svc, _ := newTestService(t, query)
	ctx := context.Background()
	indexDocument(t, ctx, svc, "doc-1", "quarterly revenue report", query, map[string]any{"theme": "finance"})

	// When: searching semantically
	results, err := svc.Semantic(ctx, "revenue", 5, defaultSimilarityThreshold, nil)

	// Then: the document is returned with a high similarity score
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-1", results[0].DocumentID)
	assert.Equal(t, "semantic", results[0].SearchType)
}

func TestSemantic_AppliesMetadataFilter(t *testing.T) {
	// Given: a matching document that doesn't satisfy a theme filter
	query := fixedVector(0)
	svc, _ := newTestService(t, query)
	ctx := context.Background()
	indexDocument(t, ctx, svc, "doc-1", "quarterly revenue report", query, map[string]any{"theme": "finance"})

	// When: searching with a non-matching theme filter
	results, err := svc.Semantic(ctx, "revenue", 5, defaultSimilarityThreshold, filter.Filters{"theme": "legal"})

	// Then: no results pass the filter
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSemantic_AppliesOperatorFilter(t *testing.T) {
	// Given: two documents with different page counts
	query := fixedVector(0)
	svc, _ := newTestService(t, query)
	ctx := context.Background()
	indexDocument(t, ctx, svc, "doc-1", "quarterly revenue report", query, map[string]any{"pages": 12})
	indexDocument(t, ctx, svc, "doc-2", "quarterly revenue summary", query, map[string]any{"pages": 3})

	// When: filtering for pages >= 10
	results, err := svc.Semantic(ctx, "revenue", 5, defaultSimilarityThreshold, filter.Filters{"pages": map[string]any{"$gte": 10}})

	// Then: only the document meeting the threshold passes
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-1", results[0].DocumentID)
}

func TestKeyword_JoinsTrackerMetadata(t *testing.T) {
	// Given: a document indexed into BM25 and the tracker
	svc, _ := newTestService(t, fixedVector(0))
	ctx := context.Background()
	indexDocument(t, ctx, svc, "doc-1", "the quarterly revenue report covers fiscal performance", fixedVector(1), map[string]any{"status": "ready"})

	// When: running a keyword search
	results, err := svc.Keyword(ctx, "revenue report", 5, nil)

	// Then: the hit carries the document's tracked metadata
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ready", results[0].Metadata["status"])
	assert.Equal(t, "keyword", results[0].SearchType)
}

func TestHybrid_OverlapHitIsTaggedHybridBoth(t *testing.T) {
	// Given: a document that scores on both semantic and keyword search
	query := fixedVector(0)
	svc, _ := newTestService(t, query)
	ctx := context.Background()
	indexDocument(t, ctx, svc, "doc-1", "the quarterly revenue report covers fiscal performance", query, map[string]any{"theme": "finance"})

	// When: running a hybrid search
	results, err := svc.Hybrid(ctx, "revenue report", 5, nil)

	// Then: the overlapping document is tagged hybrid_both
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hybrid_both", results[0].SearchType)
}

func TestHybrid_SemanticOnlyHitIsBoosted(t *testing.T) {
	// Given: a document that matches semantically but shares no BM25 terms
	query := fixedVector(0)
	svc, _ := newTestService(t, query)
	ctx := context.Background()
	indexDocument(t, ctx, svc, "doc-1", "zzz unrelated token sequence", query, map[string]any{})

	// When: running a hybrid search for a term absent from the document
	results, err := svc.Hybrid(ctx, "revenue report", 5, nil)

	// Then: the semantic-only hit is present and tagged accordingly
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hybrid_semantic", results[0].SearchType)
}

func TestGetDocumentNeighbours_ExcludesSourceDocument(t *testing.T) {
	// Given: two documents with similar vectors
	query := fixedVector(0)
	svc, _ := newTestService(t, query)
	ctx := context.Background()
	indexDocument(t, ctx, svc, "doc-1", "first document about revenue", query, nil)
	indexDocument(t, ctx, svc, "doc-2", "second document also about revenue", query, nil)

	// When: finding neighbours of doc-1
	results, err := svc.GetDocumentNeighbours(ctx, "doc-1", 5)

	// Then: doc-1 itself is excluded from its own neighbour list
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "doc-1", r.DocumentID)
	}
}
