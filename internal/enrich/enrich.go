// Package enrich implements the EnrichmentWorker (C15): a long-running
// consumer of the C11 work queue that extracts content dates and (stub)
// auto-tags for ingested documents, per spec §4.12.
//
// Grounded on the teacher's internal/daemon/server.go for the long-running
// process lifecycle shape: an accept loop driven by a cancellable context
// that drains in-flight work before returning on shutdown. The restart
// supervisor below applies that same cancellable-loop shape one level up,
// restarting the worker's Run loop itself on failure with the linear
// backoff (5s * restart_count, capped at 5 restarts) spec §4.12 specifies.
package enrich

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/lifearchivist/core/internal/activity"
	"github.com/lifearchivist/core/internal/llmclient"
	"github.com/lifearchivist/core/internal/queue"
	"github.com/lifearchivist/core/internal/tracker"
)

const (
	taskDateExtraction = "date_extraction"
	taskAutoTagging    = "auto_tagging"

	maxTextChars    = 10000
	dateTemperature = 0.1
	dateMaxTokens   = 1000
	dateTimeout     = 120 * time.Second

	// maxSupervisorRestarts caps restart attempts per spec §4.12.
	maxSupervisorRestarts = 5
)

// restartBackoffUnit is the per-restart backoff multiplier ("5s *
// restart_count" per spec §4.12), a var rather than a const so tests can
// shrink it.
var restartBackoffUnit = 5 * time.Second

// invalidDatePrefixes are the leading phrases that mark an LLM response as
// "no usable date found" rather than an extracted date, per spec §4.12.
var invalidDatePrefixes = []string{"no date", "none", "not found", "unable"}

var dateExtractionSystemPrompt = llmclient.ChatMessage{
	Role: "system",
	Content: "Extract the single most relevant date this document refers to " +
		"(e.g. a report period, an event date, a document date). Reply with " +
		"only that date in YYYY-MM-DD form if known, month/year if that is all " +
		"that is available, or the phrase \"no date found\" if the text does " +
		"not reference one.",
}

// Config configures the worker's queue binding.
type Config struct {
	QueueName string // defaults to "enrichment"
}

func (c Config) withDefaults() Config {
	if c.QueueName == "" {
		c.QueueName = "enrichment"
	}
	return c
}

// Worker is the EnrichmentWorker (C15): it dequeues tasks, dispatches them
// by type, and reports outcomes back onto the queue and tracker.
type Worker struct {
	cfg      Config
	queue    *queue.Queue
	tracker  *tracker.Tracker
	llm      *llmclient.Client
	activity *activity.Log
}

// New constructs a Worker over q (already namespaced to the enrichment
// queue), trk for metadata updates, llm for date-extraction completions,
// and an optional activity log.
func New(cfg Config, q *queue.Queue, trk *tracker.Tracker, llm *llmclient.Client, activityLog *activity.Log) *Worker {
	return &Worker{cfg: cfg.withDefaults(), queue: q, tracker: trk, llm: llm, activity: activityLog}
}

// Run is the consumer loop of spec §4.12: dequeue (1s block), dispatch,
// mark_complete or requeue_with_retry, until ctx is cancelled. On
// cancellation it finishes any task already dequeued (drain) before
// returning, never abandoning a task mid-flight.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("enrichment dequeue failed", slog.String("error", err.Error()))
			continue
		}
		if task == nil {
			continue // block timed out with no work; loop and recheck ctx
		}

		w.process(context.WithoutCancel(ctx), *task)
	}
}

// process dispatches one task by type and reports the outcome, per spec
// §4.12 steps 2-3. It always runs to completion even if ctx is cancelled
// mid-task, so an in-flight task is never left stranded in "processing".
func (w *Worker) process(ctx context.Context, task queue.Task) {
	var err error
	switch task.Type {
	case taskDateExtraction:
		err = w.extractDates(ctx, task)
	case taskAutoTagging:
		err = w.autoTag(ctx, task)
	default:
		slog.Warn("enrichment task has unknown type", slog.String("type", task.Type))
	}

	if err != nil {
		slog.Warn("enrichment task failed",
			slog.String("type", task.Type), slog.String("document_id", task.DocumentID), slog.String("error", err.Error()))
		if requeueErr := w.queue.RequeueWithRetry(ctx, task, err.Error()); requeueErr != nil {
			slog.Error("enrichment requeue failed", slog.String("error", requeueErr.Error()))
		}
		return
	}

	if completeErr := w.queue.MarkComplete(ctx, task); completeErr != nil {
		slog.Error("enrichment mark_complete failed", slog.String("error", completeErr.Error()))
	}
}

// extractDates implements spec §4.12's date_extraction dispatch: truncate,
// prompt at low temperature, classify the reply as a found date or not, and
// update the document's tracked metadata accordingly.
func (w *Worker) extractDates(ctx context.Context, task queue.Task) error {
	text, _ := task.Data["text"].(string)
	if len(text) > maxTextChars {
		text = text[:maxTextChars]
	}

	messages := []llmclient.ChatMessage{
		dateExtractionSystemPrompt,
		{Role: "user", Content: text},
	}
	reply, err := w.llm.ChatWithOptions(ctx, messages, llmclient.ChatOptions{
		Temperature: dateTemperature,
		MaxTokens:   dateMaxTokens,
		Timeout:     dateTimeout,
	})
	if err != nil {
		return err
	}

	reply = strings.TrimSpace(reply)
	updates := map[string]any{}
	if isValidDate(reply) {
		updates["content_date"] = reply
		updates["enrichment_status"] = "dates_extracted"
	} else {
		updates["enrichment_status"] = "no_dates_found"
	}

	return w.tracker.UpdateFullMetadata(ctx, task.DocumentID, updates, tracker.UpdateModeUpdate)
}

// autoTag is a stub per spec §4.12: it only advances status, since
// automatic tag generation itself is out of scope.
func (w *Worker) autoTag(ctx context.Context, task queue.Task) error {
	return w.tracker.UpdateFullMetadata(ctx, task.DocumentID, map[string]any{
		"enrichment_status": "tags_skipped",
	}, tracker.UpdateModeUpdate)
}

// isValidDate reports whether reply looks like an extracted date rather
// than one of the "nothing found" phrasings named in spec §4.12.
func isValidDate(reply string) bool {
	if reply == "" {
		return false
	}
	lower := strings.ToLower(reply)
	for _, prefix := range invalidDatePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	return true
}

// Supervise runs fn (typically Worker.Run) and restarts it with linear
// backoff (5s * restart_count, capped at maxSupervisorRestarts) whenever it
// returns a non-nil error, per spec §4.12's supervisor note. It returns when
// ctx is cancelled or the restart budget is exhausted.
func Supervise(ctx context.Context, fn func(context.Context) error) {
	restarts := 0
	for {
		err := fn(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}

		restarts++
		if restarts > maxSupervisorRestarts {
			slog.Error("enrichment worker exhausted restart budget", slog.Int("restarts", restarts-1))
			return
		}

		backoff := time.Duration(restarts) * restartBackoffUnit
		slog.Error("enrichment worker crashed, restarting",
			slog.String("error", err.Error()), slog.Int("restart", restarts), slog.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}
