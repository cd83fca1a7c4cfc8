package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifearchivist/core/internal/llmclient"
	"github.com/lifearchivist/core/internal/queue"
	"github.com/lifearchivist/core/internal/tracker"
)

func newChatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{"models": []map[string]string{{"name": "m"}}})
		case "/api/chat":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]string{"role": "assistant", "content": reply},
				"done":    true,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestWorker(t *testing.T, reply string) (*Worker, *queue.Queue, *tracker.Tracker) {
	t.Helper()
	ctx := context.Background()

	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})

	llmSrv := newChatServer(t, reply)
	llm, err := llmclient.New(ctx, llmclient.Config{Host: llmSrv.URL})
	require.NoError(t, err)

	q := queue.New(client, "enrichment")
	trk := tracker.New(client)

	return New(Config{}, q, trk, llm, nil), q, trk
}

func TestExtractDates_ValidDateUpdatesTrackerAndMarksComplete(t *testing.T) {
	// Given: a worker whose LLM returns a concrete date and a queued task
	w, q, trk := newTestWorker(t, "2024-03-15")
	ctx := context.Background()
	require.NoError(t, trk.Add(ctx, "doc-1", []string{"doc-1-chunk-0"}))
	task := queue.Task{Type: taskDateExtraction, DocumentID: "doc-1", Data: map[string]any{"text": "quarterly report"}, MaxRetries: 3}
	require.NoError(t, q.Enqueue(ctx, task))

	// When: dequeuing and processing it
	dequeued, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, dequeued)
	w.process(ctx, *dequeued)

	// Then: the tracker records the extracted date and status
	meta, err := trk.GetFullMetadata(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", meta["content_date"])
	assert.Equal(t, "dates_extracted", meta["enrichment_status"])

	_, processing, completed, _, err := q.Lengths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing)
	assert.Equal(t, int64(1), completed)
}

func TestExtractDates_NoDateFoundSetsStatusWithoutContentDate(t *testing.T) {
	// Given: a worker whose LLM reports no date
	w, q, trk := newTestWorker(t, "no date found in this text")
	ctx := context.Background()
	require.NoError(t, trk.Add(ctx, "doc-2", []string{"doc-2-chunk-0"}))
	task := queue.Task{Type: taskDateExtraction, DocumentID: "doc-2", Data: map[string]any{"text": "a short note"}, MaxRetries: 3}
	require.NoError(t, q.Enqueue(ctx, task))

	// When: processing the dequeued task
	dequeued, err := q.Dequeue(ctx)
	require.NoError(t, err)
	w.process(ctx, *dequeued)

	// Then: status reflects no date found, and content_date is untouched
	meta, err := trk.GetFullMetadata(ctx, "doc-2")
	require.NoError(t, err)
	assert.Equal(t, "no_dates_found", meta["enrichment_status"])
	assert.NotContains(t, meta, "content_date")
}

func TestAutoTag_OnlyUpdatesStatus(t *testing.T) {
	// Given: a queued auto_tagging task
	w, q, trk := newTestWorker(t, "unused")
	ctx := context.Background()
	require.NoError(t, trk.Add(ctx, "doc-3", []string{"doc-3-chunk-0"}))
	task := queue.Task{Type: taskAutoTagging, DocumentID: "doc-3", MaxRetries: 3}
	require.NoError(t, q.Enqueue(ctx, task))

	// When: processing it
	dequeued, err := q.Dequeue(ctx)
	require.NoError(t, err)
	w.process(ctx, *dequeued)

	// Then: only the status field is set
	meta, err := trk.GetFullMetadata(ctx, "doc-3")
	require.NoError(t, err)
	assert.Equal(t, "tags_skipped", meta["enrichment_status"])
}

func TestIsValidDate_RejectsNegativePhrasingsCaseInsensitively(t *testing.T) {
	// Given/When/Then: the four documented "not found" phrasings are rejected
	assert.False(t, isValidDate("No date mentioned anywhere"))
	assert.False(t, isValidDate("none"))
	assert.False(t, isValidDate("Not found"))
	assert.False(t, isValidDate("UNABLE to determine a date"))
	assert.True(t, isValidDate("March 2024"))
}

func TestRun_StopsDrainingOnContextCancellation(t *testing.T) {
	// Given: a worker with an empty queue
	w, _, _ := newTestWorker(t, "2024-01-01")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// When: cancelling shortly after start (queue is empty, so Run is
	// blocked in its 1s Dequeue poll)
	time.Sleep(10 * time.Millisecond)
	cancel()

	// Then: Run returns promptly with no error
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestSupervise_RestartsOnFailureThenStopsOnCancellation(t *testing.T) {
	// Given: a function that fails once then blocks until cancelled, with
	// the restart backoff shrunk so the test doesn't wait out the real 5s
	previous := restartBackoffUnit
	restartBackoffUnit = 10 * time.Millisecond
	t.Cleanup(func() { restartBackoffUnit = previous })

	var attempts int
	ctx, cancel := context.WithCancel(context.Background())
	failing := func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() { Supervise(ctx, failing); close(done) }()

	// When: waiting past the first restart's backoff, then cancelling
	require.Eventually(t, func() bool { return attempts >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	// Then: Supervise returns instead of restarting again
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Supervise did not return after context cancellation")
	}
	assert.Equal(t, 2, attempts)
}
