package activity

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return New(client)
}

func TestAdd_PersistsAndReturnsEvent(t *testing.T) {
	// Given: an empty log
	l := newTestLog(t)
	ctx := context.Background()

	// When: adding an event
	event, err := l.Add(ctx, "folder_watch_file_ingested", map[string]any{"document_id": "doc-1"})

	// Then: it is persisted and retrievable
	require.NoError(t, err)
	assert.Equal(t, "folder_watch_file_ingested", event.Type)
	recent, err := l.GetRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, event.ID, recent[0].ID)
}

func TestGetRecent_NewestFirstAndLimited(t *testing.T) {
	// Given: three events added in order
	l := newTestLog(t)
	ctx := context.Background()
	_, err := l.Add(ctx, "a", nil)
	require.NoError(t, err)
	_, err = l.Add(ctx, "b", nil)
	require.NoError(t, err)
	_, err = l.Add(ctx, "c", nil)
	require.NoError(t, err)

	// When: requesting the 2 most recent
	recent, err := l.GetRecent(ctx, 2)

	// Then: the newest events come first
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Type)
	assert.Equal(t, "b", recent[1].Type)
}

func TestSubscribe_ReceivesBroadcastEvents(t *testing.T) {
	// Given: a subscriber registered on the log
	l := newTestLog(t)
	ctx := context.Background()
	ch, unsubscribe := l.Subscribe()
	defer unsubscribe()

	// When: an event is added
	_, err := l.Add(ctx, "qa_query", map[string]any{"question": "hi"})
	require.NoError(t, err)

	// Then: the subscriber receives it
	select {
	case received := <-ch:
		assert.Equal(t, "qa_query", received.Type)
	default:
		t.Fatal("expected broadcast event on subscriber channel")
	}
}

func TestUnsubscribe_StopsFurtherDelivery(t *testing.T) {
	// Given: a subscriber that then unsubscribes
	l := newTestLog(t)
	ctx := context.Background()
	ch, unsubscribe := l.Subscribe()
	unsubscribe()

	// When: an event is added after unsubscribing
	_, err := l.Add(ctx, "qa_query", nil)
	require.NoError(t, err)

	// Then: the channel is closed and yields no event
	_, open := <-ch
	assert.False(t, open)
}
