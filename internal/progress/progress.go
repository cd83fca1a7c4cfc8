// Package progress implements the per-session ingestion progress tracker
// (C14): one JSON-encoded snapshot per session, stored in a Redis string key
// with a 24-hour TTL. Updates are not published or broadcast; readers poll
// Get.
package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lifearchivist/core/internal/archerr"
)

const (
	keyPrefix = "archive:progress:"
	ttl       = 24 * time.Hour
)

// Stage is one of the fixed ingestion lifecycle stages, per spec §4.11.
type Stage string

const (
	StageUpload   Stage = "UPLOAD"
	StageExtract  Stage = "EXTRACT"
	StageIndex    Stage = "INDEX"
	StageEnrich   Stage = "ENRICH"
	StageComplete Stage = "COMPLETE"
	StageError    Stage = "ERROR"
)

// State is a file's current progress snapshot.
type State struct {
	SessionID string         `json:"session_id"`
	Stage     Stage          `json:"stage"`
	Percent   float64        `json:"percent"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func key(sessionID string) string { return keyPrefix + sessionID }

// Tracker is the Redis-backed per-session progress store.
type Tracker struct {
	client *redis.Client
}

// New creates a Tracker backed by client.
func New(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

func (t *Tracker) write(ctx context.Context, state State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return archerr.ValidationError("encode progress state", err)
	}
	if err := t.client.Set(ctx, key(state.SessionID), payload, ttl).Err(); err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "write progress state", err)
	}
	return nil
}

// Start records the initial UPLOAD-stage state for sessionID.
func (t *Tracker) Start(ctx context.Context, sessionID, message string) error {
	return t.write(ctx, State{SessionID: sessionID, Stage: StageUpload, Percent: 0, Message: message})
}

// Update moves sessionID to stage with the given percent/message.
func (t *Tracker) Update(ctx context.Context, sessionID string, stage Stage, percent float64, message string) error {
	return t.write(ctx, State{SessionID: sessionID, Stage: stage, Percent: percent, Message: message})
}

// Complete marks sessionID COMPLETE at 100% with attached metadata.
func (t *Tracker) Complete(ctx context.Context, sessionID string, metadata map[string]any) error {
	return t.write(ctx, State{
		SessionID: sessionID,
		Stage:     StageComplete,
		Percent:   100,
		Message:   "complete",
		Metadata:  metadata,
	})
}

// Error marks sessionID ERROR with the given message.
func (t *Tracker) Error(ctx context.Context, sessionID, message string) error {
	return t.write(ctx, State{SessionID: sessionID, Stage: StageError, Percent: 0, Message: message})
}

// Cleanup removes sessionID's progress state, e.g. after a duplicate
// short-circuit that should not surface a "completed" event, per spec §4.6
// step 3.
func (t *Tracker) Cleanup(ctx context.Context, sessionID string) error {
	if err := t.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "cleanup progress state", err)
	}
	return nil
}

// Get returns sessionID's current progress state, if any.
func (t *Tracker) Get(ctx context.Context, sessionID string) (*State, error) {
	raw, err := t.client.Get(ctx, key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "read progress state", err)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, archerr.StorageError(archerr.CodeStorageTracker, "decode progress state", err)
	}
	return &state, nil
}
