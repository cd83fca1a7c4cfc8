// Package activity implements the activity log (C13): a capped Redis list
// of namespaced events, persisted then fanned out to in-process
// subscribers, per spec §4.11.
package activity

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lifearchivist/core/internal/archerr"
)

const (
	redisKeyEvents = "archive:activity:events"
	maxEvents      = 200
	subscriberBuf  = 32
)

// Event is a single activity record, per spec §6.4.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// Log is the Redis-backed, broadcast-fanned-out activity log.
type Log struct {
	client *redis.Client

	mu          sync.Mutex
	subscribers map[chan Event]struct{}

	now func() time.Time
}

// New creates a Log backed by client.
func New(client *redis.Client) *Log {
	return &Log{
		client:      client,
		subscribers: make(map[chan Event]struct{}),
		now:         time.Now,
	}
}

// Add builds an event, persists it (LPUSH + LTRIM to MAX_EVENTS in one
// transaction), then broadcasts it to subscribers. Broadcast failure never
// prevents persistence, per spec §4.11.
func (l *Log) Add(ctx context.Context, eventType string, data map[string]any) (Event, error) {
	ts := l.now().UTC()
	event := Event{
		ID:        strconv.FormatFloat(float64(ts.UnixNano())/1e9, 'f', 6, 64) + "_" + eventType,
		Type:      eventType,
		Data:      data,
		Timestamp: ts.Format(time.RFC3339),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return Event{}, archerr.ValidationError("encode activity event", err)
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, redisKeyEvents, payload)
		pipe.LTrim(ctx, redisKeyEvents, 0, maxEvents-1)
		return nil
	})
	if err != nil {
		return Event{}, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "persist activity event", err)
	}

	l.broadcast(event)
	return event, nil
}

// GetRecent returns up to limit most-recent events, newest first.
func (l *Log) GetRecent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := l.client.LRange(ctx, redisKeyEvents, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "read activity events", err)
	}

	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		var e Event
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Subscribe registers a channel that receives every subsequently broadcast
// event. The returned func unregisters it; callers must call it to avoid
// leaking the channel.
func (l *Log) Subscribe() (ch <-chan Event, unsubscribe func()) {
	c := make(chan Event, subscriberBuf)
	l.mu.Lock()
	l.subscribers[c] = struct{}{}
	l.mu.Unlock()

	return c, func() {
		l.mu.Lock()
		if _, ok := l.subscribers[c]; ok {
			delete(l.subscribers, c)
			close(c)
		}
		l.mu.Unlock()
	}
}

func (l *Log) broadcast(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.subscribers {
		select {
		case c <- event:
		default:
			// Slow subscriber: drop rather than block persistence-critical callers.
		}
	}
}
