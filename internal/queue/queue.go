// Package queue implements the work queue (C11): four Redis lists sharing a
// prefix (queue, processing, completed, failed), with BRPOPLPUSH-based
// dequeue and retry/dead-letter handling, per spec §4.9.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lifearchivist/core/internal/archerr"
)

const (
	keyPrefix     = "archive:queue:"
	completedCap  = 1000
	failedCap     = 1000
	dequeueBlock  = 1 * time.Second
)

func queueKey(name string) string      { return keyPrefix + name + ":queue" }
func processingKey(name string) string { return keyPrefix + name + ":processing" }
func completedKey(name string) string  { return keyPrefix + name + ":completed" }
func failedKey(name string) string     { return keyPrefix + name + ":failed" }

// Task is a unit of queued work, per spec §6.3.
type Task struct {
	Type       string         `json:"type"`
	DocumentID string         `json:"document_id"`
	Data       map[string]any `json:"data"`
	Priority   int            `json:"priority"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
}

// Queue is a named four-list Redis work queue.
type Queue struct {
	name   string
	client *redis.Client
}

// New creates a Queue backed by client, namespaced by name (e.g.
// "enrichment").
func New(client *redis.Client, name string) *Queue {
	return &Queue{name: name, client: client}
}

// Enqueue pushes task as JSON onto the queue list (LPUSH), per spec §4.9.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return archerr.ValidationError("encode queue task", err)
	}
	if err := q.client.LPush(ctx, queueKey(q.name), payload).Err(); err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "enqueue task", err)
	}
	return nil
}

// Dequeue performs BRPOPLPUSH queue->processing with a 1s block timeout. A
// nil task with nil error means the block timed out without work.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	raw, err := q.client.BRPopLPush(ctx, queueKey(q.name), processingKey(q.name), dequeueBlock).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "dequeue task", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, archerr.StorageError(archerr.CodeStorageTracker, "decode dequeued task", err)
	}
	return &task, nil
}

// MarkComplete removes task from processing and records it as completed,
// trimmed to the last 1000 entries, per spec §4.9.
func (q *Queue) MarkComplete(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return archerr.ValidationError("encode completed task", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, processingKey(q.name), 1, payload)
		pipe.LPush(ctx, completedKey(q.name), payload)
		pipe.LTrim(ctx, completedKey(q.name), 0, completedCap-1)
		return nil
	})
	if err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "mark task complete", err)
	}
	return nil
}

// RequeueWithRetry removes task from processing, increments its retry
// count, and either re-enqueues it (retry_count <= max_retries) or moves it
// to the failed list with reason, trimmed to 1000 entries, per spec §4.9.
func (q *Queue) RequeueWithRetry(ctx context.Context, task Task, reason string) error {
	original, err := json.Marshal(task)
	if err != nil {
		return archerr.ValidationError("encode task for requeue", err)
	}

	task.RetryCount++
	retrying := task.RetryCount <= task.MaxRetries

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, processingKey(q.name), 1, original)

		if retrying {
			updated, marshalErr := json.Marshal(task)
			if marshalErr != nil {
				return marshalErr
			}
			pipe.LPush(ctx, queueKey(q.name), updated)
			return nil
		}

		failedEntry := struct {
			Task
			Reason string `json:"reason"`
		}{Task: task, Reason: reason}
		updated, marshalErr := json.Marshal(failedEntry)
		if marshalErr != nil {
			return marshalErr
		}
		pipe.LPush(ctx, failedKey(q.name), updated)
		pipe.LTrim(ctx, failedKey(q.name), 0, failedCap-1)
		return nil
	})
	if err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "requeue task", err)
	}
	return nil
}

// Lengths reports the current size of each of the four lists, for status
// reporting.
func (q *Queue) Lengths(ctx context.Context) (queued, processing, completed, failed int64, err error) {
	pipe := q.client.Pipeline()
	qc := pipe.LLen(ctx, queueKey(q.name))
	pc := pipe.LLen(ctx, processingKey(q.name))
	cc := pipe.LLen(ctx, completedKey(q.name))
	fc := pipe.LLen(ctx, failedKey(q.name))
	if _, execErr := pipe.Exec(ctx); execErr != nil && execErr != redis.Nil {
		return 0, 0, 0, 0, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "queue lengths", execErr)
	}
	return qc.Val(), pc.Val(), cc.Val(), fc.Val(), nil
}
