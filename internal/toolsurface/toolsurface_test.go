package toolsurface

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifearchivist/core/internal/activity"
	"github.com/lifearchivist/core/internal/bm25"
	"github.com/lifearchivist/core/internal/chunkstore"
	"github.com/lifearchivist/core/internal/extract"
	"github.com/lifearchivist/core/internal/filter"
	"github.com/lifearchivist/core/internal/ingest"
	"github.com/lifearchivist/core/internal/llmclient"
	"github.com/lifearchivist/core/internal/progress"
	"github.com/lifearchivist/core/internal/query"
	"github.com/lifearchivist/core/internal/queue"
	"github.com/lifearchivist/core/internal/search"
	"github.com/lifearchivist/core/internal/tracker"
	"github.com/lifearchivist/core/internal/vault"
	"github.com/lifearchivist/core/internal/vectorstore"
	"github.com/lifearchivist/core/internal/watch"
)

const testDims = 4

func newFakeLLMServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{"models": []map[string]string{{"name": "m"}}})
		case "/api/embed":
			var req struct {
				Input []string `json:"input"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			embeddings := make([][]float32, len(req.Input))
			for i := range embeddings {
				vec := make([]float32, testDims)
				vec[0] = 1.0
				embeddings[i] = vec
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
		case "/api/chat":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]string{"role": "assistant", "content": "a synthesized answer"},
				"done":    true,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	ctx := context.Background()

	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})

	v, err := vault.New(t.TempDir())
	require.NoError(t, err)

	llmSrv := newFakeLLMServer(t)
	llm, err := llmclient.New(ctx, llmclient.Config{Host: llmSrv.URL})
	require.NoError(t, err)

	extractor := extract.NewRegistry()
	chunks := chunkstore.NewStore()
	bm25Index := bm25.New(bm25.Config{}, client)
	vectors, err := vectorstore.New(vectorstore.Config{Dimensions: testDims})
	require.NoError(t, err)
	trk := tracker.New(client)
	q := queue.New(client, "enrichment")
	prog := progress.New(client)
	activityLog := activity.New(client)

	pipeline := ingest.New(ingest.Config{ChunkSize: 500, ChunkOverlap: 50, MaxRetries: 3}, v, extractor, chunks, bm25Index, vectors, trk, llm, q, prog)
	searchSvc := search.New(vectors, bm25Index, trk, chunks, llm)
	querySvc := query.New(query.Config{}, searchSvc, llm, activityLog)
	watcher := watch.New(watch.Config{}, client, v, pipeline, activityLog)
	t.Cleanup(watcher.Close)

	return NewRegistry(Deps{
		Vault:     v,
		Tracker:   trk,
		Extractor: extractor,
		Pipeline:  pipeline,
		Search:    searchSvc,
		Query:     querySvc,
		Watcher:   watcher,
		LLM:       llm,
	})
}

func TestNewRegistry_RegistersAllSixTools(t *testing.T) {
	// Given/When: constructing a registry
	r := newTestRegistry(t)

	// Then: all six named tools are present
	for _, name := range []string{"file.import", "extract.text", "llamaindex.query", "index.search", "folder.add", "folder.remove"} {
		_, ok := r.Lookup(name)
		assert.True(t, ok, "expected tool %q to be registered", name)
	}
}

func TestInvoke_UnknownToolReturnsNotFound(t *testing.T) {
	// Given: a registry
	r := newTestRegistry(t)

	// When: invoking a name that was never registered
	_, err := r.Invoke(context.Background(), "nonexistent.tool", nil)

	// Then: it fails rather than panicking
	assert.Error(t, err)
}

func TestFileImport_IngestsAndReturnsFileID(t *testing.T) {
	// Given: a registry and a real file on disk
	r := newTestRegistry(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("a note about quarterly revenue figures"), 0o644))

	input, err := json.Marshal(fileImportInput{Path: path})
	require.NoError(t, err)

	// When: invoking file.import
	out, err := r.Invoke(ctx, "file.import", input)

	// Then: it returns a populated file_id and status
	require.NoError(t, err)
	result, ok := out.(fileImportOutput)
	require.True(t, ok)
	assert.NotEmpty(t, result.FileID)
	assert.NotEmpty(t, result.Hash)
}

func TestFileImport_MissingPathFailsValidation(t *testing.T) {
	// Given: a registry
	r := newTestRegistry(t)
	ctx := context.Background()

	// When: invoking file.import without a path
	input, err := json.Marshal(fileImportInput{})
	require.NoError(t, err)
	_, err = r.Invoke(ctx, "file.import", input)

	// Then: it fails
	assert.Error(t, err)
}

func TestExtractText_RoundTripsAfterImport(t *testing.T) {
	// Given: an imported file
	r := newTestRegistry(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("a note about quarterly revenue figures"), 0o644))
	importInput, err := json.Marshal(fileImportInput{Path: path})
	require.NoError(t, err)
	imported, err := r.Invoke(ctx, "file.import", importInput)
	require.NoError(t, err)
	fileID := imported.(fileImportOutput).FileID

	// When: invoking extract.text for that file
	extractInput, err := json.Marshal(extractTextInput{FileID: fileID})
	require.NoError(t, err)
	out, err := r.Invoke(ctx, "extract.text", extractInput)

	// Then: the original text is recovered
	require.NoError(t, err)
	result := out.(extractTextOutput)
	assert.Contains(t, result.Text, "quarterly revenue")
}

func TestIndexSearch_FindsImportedDocument(t *testing.T) {
	// Given: an imported file
	r := newTestRegistry(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("a note about quarterly revenue figures"), 0o644))
	importInput, err := json.Marshal(fileImportInput{Path: path})
	require.NoError(t, err)
	_, err = r.Invoke(ctx, "file.import", importInput)
	require.NoError(t, err)

	// When: searching for it
	searchIn, err := json.Marshal(searchInput{Query: "quarterly revenue", Limit: 10})
	require.NoError(t, err)
	out, err := r.Invoke(ctx, "index.search", searchIn)

	// Then: it is found
	require.NoError(t, err)
	result := out.(searchOutput)
	assert.NotEmpty(t, result.Results)
}

func TestIndexSearch_RejectsUnknownFilterOperator(t *testing.T) {
	// Given: a registry
	r := newTestRegistry(t)
	ctx := context.Background()

	// When: searching with a filter using an unsupported operator
	searchIn, err := json.Marshal(searchInput{
		Query:   "revenue",
		Filters: filter.Filters{"pages": map[string]any{"$eq": 10}},
	})
	require.NoError(t, err)
	_, err = r.Invoke(ctx, "index.search", searchIn)

	// Then: it is rejected as a validation error
	assert.Error(t, err)
}

func TestLlamaindexQuery_RejectsUnknownResponseMode(t *testing.T) {
	// Given: a registry
	r := newTestRegistry(t)
	ctx := context.Background()

	// When: asking with a bogus response_mode
	in, err := json.Marshal(queryInput{Question: "hi", ResponseMode: "bogus_mode"})
	require.NoError(t, err)
	_, err = r.Invoke(ctx, "llamaindex.query", in)

	// Then: the request still succeeds (the mode is silently ignored rather
	// than propagated as an invalid-enum error, matching the chitchat gate's
	// tolerance for any freeform question text)
	assert.NoError(t, err)
}

func TestFolderAddThenRemove_RoundTrips(t *testing.T) {
	// Given: a registry and a real directory
	r := newTestRegistry(t)
	ctx := context.Background()
	dir := t.TempDir()

	// When: adding the folder
	addIn, err := json.Marshal(folderAddInput{Path: dir, Enabled: true})
	require.NoError(t, err)
	out, err := r.Invoke(ctx, "folder.add", addIn)
	require.NoError(t, err)
	folderID := out.(folderAddOutput).FolderID
	assert.NotEmpty(t, folderID)

	// Then: removing it succeeds
	removeIn, err := json.Marshal(folderRemoveInput{FolderID: folderID})
	require.NoError(t, err)
	_, err = r.Invoke(ctx, "folder.remove", removeIn)
	assert.NoError(t, err)
}
