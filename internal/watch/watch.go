// Package watch implements the multi-folder watcher (C12): one fsnotify
// observer per watched folder, a shared debounce map keyed by
// (folder_id, path), and a semaphore bounding concurrent ingestions. It is
// grounded in the teacher's internal/watcher package — HybridWatcher's
// fsnotify-primary observer loop and Debouncer's cancel-and-reschedule timer
// shape — generalised from a single-tree code watcher emitting coalesced
// batch events to a per-folder, per-path single-shot timer that itself
// drives the ingestion pipeline on fire, per spec §4.10.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lifearchivist/core/internal/activity"
	"github.com/lifearchivist/core/internal/archerr"
	"github.com/lifearchivist/core/internal/ingest"
	"github.com/lifearchivist/core/internal/vault"
)

const (
	keyPrefix     = "archive:folder_watch:"
	keyFolderIdx  = keyPrefix + "folders"
	maxFolders    = 100
	maxFileBytes  = 100 * 1024 * 1024
	defaultConcurrency = 5
	defaultDebounce    = 2 * time.Second
)

func folderKey(id string) string { return keyPrefix + "folder:" + id }

// allowedExtensions is the import allow-list of spec §4.10.
var allowedExtensions = map[string]struct{}{
	".pdf": {}, ".docx": {}, ".doc": {}, ".txt": {}, ".md": {},
	".rtf": {}, ".odt": {}, ".xlsx": {}, ".xls": {}, ".csv": {},
}

// Status is a folder's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
	StatusError    Status = "error"
)

// Folder is a watched directory and its accumulated statistics.
type Folder struct {
	ID            string
	Path          string
	Enabled       bool
	Status        Status
	LastError     string
	LastActivity  time.Time
	FilesIngested int64
	FilesSkipped  int64
	FilesFailed   int64
}

// Config tunes concurrency and debounce behavior.
type Config struct {
	IngestionConcurrency int
	DebounceWindow       time.Duration
}

func (c Config) withDefaults() Config {
	if c.IngestionConcurrency <= 0 {
		c.IngestionConcurrency = defaultConcurrency
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = defaultDebounce
	}
	return c
}

type folderRuntime struct {
	folder   Folder
	observer *fsnotify.Watcher
	cancel   context.CancelFunc
	pending  map[string]*time.Timer
	mu       sync.Mutex
}

// Watcher manages the set of watched folders and drives ingestion on
// debounced filesystem events, per spec §4.10.
type Watcher struct {
	cfg      Config
	client   *redis.Client
	vault    *vault.Vault
	pipeline *ingest.Pipeline
	activity *activity.Log
	sem      chan struct{}

	mu      sync.Mutex
	folders map[string]*folderRuntime
}

// New creates a Watcher from its collaborators.
func New(cfg Config, client *redis.Client, v *vault.Vault, pipeline *ingest.Pipeline, activityLog *activity.Log) *Watcher {
	cfg = cfg.withDefaults()
	return &Watcher{
		cfg:      cfg,
		client:   client,
		vault:    v,
		pipeline: pipeline,
		activity: activityLog,
		sem:      make(chan struct{}, cfg.IngestionConcurrency),
		folders:  make(map[string]*folderRuntime),
	}
}

// Initialize resumes folders persisted in Redis. Folders whose path no
// longer exists are marked StatusError with LastError set, but are kept for
// user review rather than dropped, per spec §4.10.
func (w *Watcher) Initialize(ctx context.Context) error {
	ids, err := w.client.SMembers(ctx, keyFolderIdx).Result()
	if err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "list watched folders", err)
	}

	for _, id := range ids {
		folder, err := w.readFolder(ctx, id)
		if err != nil {
			continue
		}

		w.mu.Lock()
		rt := &folderRuntime{folder: folder, pending: make(map[string]*time.Timer)}
		w.folders[id] = rt
		w.mu.Unlock()

		if _, statErr := os.Stat(folder.Path); statErr != nil {
			folder.Status = StatusError
			folder.LastError = "path no longer exists: " + statErr.Error()
			w.mu.Lock()
			rt.folder = folder
			w.mu.Unlock()
			_ = w.writeFolder(ctx, folder)
			continue
		}

		if folder.Enabled {
			if err := w.startObserver(ctx, id); err != nil {
				folder.Status = StatusError
				folder.LastError = err.Error()
				w.mu.Lock()
				rt.folder = folder
				w.mu.Unlock()
				_ = w.writeFolder(ctx, folder)
			}
		}
	}
	return nil
}

// AddFolder registers a new folder: validate uniqueness, enforce the
// max-folders cap, register in memory, start the observer (if enabled), then
// persist to Redis. Any step failing rolls back the steps already taken, per
// spec §4.10.
func (w *Watcher) AddFolder(ctx context.Context, path string, enabled bool) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", archerr.ValidationError("resolve folder path", err)
	}

	w.mu.Lock()
	if len(w.folders) >= maxFolders {
		w.mu.Unlock()
		return "", archerr.ValidationError(fmt.Sprintf("maximum of %d watched folders reached", maxFolders), nil)
	}
	for _, rt := range w.folders {
		if rt.folder.Path == absPath {
			w.mu.Unlock()
			return "", archerr.ValidationError("folder already watched: "+absPath, nil)
		}
	}
	w.mu.Unlock()

	id := uuid.NewString()
	folder := Folder{ID: id, Path: absPath, Enabled: enabled, Status: StatusDisabled}
	if enabled {
		folder.Status = StatusActive
	}

	w.mu.Lock()
	w.folders[id] = &folderRuntime{folder: folder, pending: make(map[string]*time.Timer)}
	w.mu.Unlock()

	if enabled {
		if err := w.startObserver(ctx, id); err != nil {
			w.mu.Lock()
			delete(w.folders, id)
			w.mu.Unlock()
			return "", err
		}
	}

	if err := w.writeFolder(ctx, folder); err != nil {
		w.stopObserver(id)
		w.mu.Lock()
		delete(w.folders, id)
		w.mu.Unlock()
		return "", err
	}
	if err := w.client.SAdd(ctx, keyFolderIdx, id).Err(); err != nil {
		w.stopObserver(id)
		w.mu.Lock()
		delete(w.folders, id)
		w.mu.Unlock()
		_ = w.client.Del(ctx, folderKey(id)).Err()
		return "", archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "index watched folder", err)
	}

	return id, nil
}

// RemoveFolder cancels the observer and any pending debounce timers, removes
// the folder from Redis, then from memory. A Redis failure leaves the
// in-memory state intact (consistency preferred over availability), per
// spec §4.10.
func (w *Watcher) RemoveFolder(ctx context.Context, id string) error {
	w.mu.Lock()
	_, ok := w.folders[id]
	w.mu.Unlock()
	if !ok {
		return archerr.NotFoundError(archerr.CodeNotFoundFolder, "folder not found: "+id)
	}

	w.stopObserver(id)

	if err := w.client.SRem(ctx, keyFolderIdx, id).Err(); err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "deindex watched folder", err)
	}
	if err := w.client.Del(ctx, folderKey(id)).Err(); err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "delete watched folder", err)
	}

	w.mu.Lock()
	delete(w.folders, id)
	w.mu.Unlock()
	return nil
}

// Enable starts the observer and persists enabled=true.
func (w *Watcher) Enable(ctx context.Context, id string) error {
	return w.setEnabled(ctx, id, true)
}

// Disable stops the observer and persists enabled=false.
func (w *Watcher) Disable(ctx context.Context, id string) error {
	return w.setEnabled(ctx, id, false)
}

func (w *Watcher) setEnabled(ctx context.Context, id string, enabled bool) error {
	w.mu.Lock()
	rt, ok := w.folders[id]
	w.mu.Unlock()
	if !ok {
		return archerr.NotFoundError(archerr.CodeNotFoundFolder, "folder not found: "+id)
	}

	if enabled {
		if err := w.startObserver(ctx, id); err != nil {
			return err
		}
	} else {
		w.stopObserver(id)
	}

	w.mu.Lock()
	rt.folder.Enabled = enabled
	if enabled {
		rt.folder.Status = StatusActive
	} else {
		rt.folder.Status = StatusDisabled
	}
	folder := rt.folder
	w.mu.Unlock()

	return w.writeFolder(ctx, folder)
}

// ListFolders returns a snapshot of all watched folders.
func (w *Watcher) ListFolders() []Folder {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Folder, 0, len(w.folders))
	for _, rt := range w.folders {
		out = append(out, rt.folder)
	}
	return out
}

// Close stops every observer and pending timer.
func (w *Watcher) Close() {
	w.mu.Lock()
	ids := make([]string, 0, len(w.folders))
	for id := range w.folders {
		ids = append(ids, id)
	}
	w.mu.Unlock()
	for _, id := range ids {
		w.stopObserver(id)
	}
}

func (w *Watcher) startObserver(ctx context.Context, id string) error {
	w.mu.Lock()
	rt, ok := w.folders[id]
	w.mu.Unlock()
	if !ok {
		return archerr.NotFoundError(archerr.CodeNotFoundFolder, "folder not found: "+id)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return archerr.InternalErrorOf("create filesystem observer", err)
	}
	if err := fsw.Add(rt.folder.Path); err != nil {
		_ = fsw.Close()
		return archerr.InternalErrorOf("watch folder path", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	w.mu.Lock()
	rt.observer = fsw
	rt.cancel = cancel
	w.mu.Unlock()

	go w.observe(runCtx, id, fsw)
	return nil
}

func (w *Watcher) stopObserver(id string) {
	w.mu.Lock()
	rt, ok := w.folders[id]
	w.mu.Unlock()
	if !ok {
		return
	}

	rt.mu.Lock()
	if rt.cancel != nil {
		rt.cancel()
		rt.cancel = nil
	}
	if rt.observer != nil {
		_ = rt.observer.Close()
		rt.observer = nil
	}
	for key, timer := range rt.pending {
		timer.Stop()
		delete(rt.pending, key)
	}
	rt.mu.Unlock()
}

// observe runs the fsnotify event loop for one folder; callbacks run on this
// goroutine, which schedules debounce timers that later hand off to the
// ingestion path.
func (w *Watcher) observe(ctx context.Context, id string, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.handleEvent(ctx, id, event.Name)
		case _, ok := <-fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, folderID, path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return
	}
	if _, ok := allowedExtensions[strings.ToLower(filepath.Ext(path))]; !ok {
		return
	}

	w.mu.Lock()
	rt, ok := w.folders[folderID]
	w.mu.Unlock()
	if !ok {
		return
	}

	rt.mu.Lock()
	if existing, scheduled := rt.pending[path]; scheduled {
		existing.Stop()
	}
	rt.pending[path] = time.AfterFunc(w.cfg.DebounceWindow, func() {
		w.verifyAndIngest(ctx, folderID, path)
		rt.mu.Lock()
		delete(rt.pending, path)
		rt.mu.Unlock()
	})
	rt.mu.Unlock()
}

// verifyAndIngest re-validates the file once the debounce window has
// elapsed, applies the vault-hash dedup check, then runs the ingestion
// pipeline under the shared semaphore, per spec §4.10.
func (w *Watcher) verifyAndIngest(ctx context.Context, folderID, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 || info.Size() > maxFileBytes {
		return
	}

	hash, err := w.vault.Hash(path)
	if err != nil {
		w.recordFailure(ctx, folderID, err)
		return
	}
	ext := strings.ToLower(filepath.Ext(path))
	if _, exists := w.vault.Get(hash, ext); exists {
		w.recordSkip(ctx, folderID, path)
		return
	}

	w.sem <- struct{}{}
	defer func() { <-w.sem }()

	result, err := w.pipeline.Ingest(ctx, ingest.Input{Path: path})
	if err != nil {
		w.recordFailure(ctx, folderID, err)
		return
	}
	if result.Duplicate {
		w.recordSkip(ctx, folderID, path)
		return
	}
	w.recordSuccess(ctx, folderID, path, result.DocumentID)
}

func (w *Watcher) recordSuccess(ctx context.Context, folderID, path, documentID string) {
	w.bumpStat(ctx, folderID, "files_ingested")
	w.emit(ctx, "folder_watch_file_ingested", map[string]any{"folder_id": folderID, "path": path, "document_id": documentID})
}

func (w *Watcher) recordSkip(ctx context.Context, folderID, path string) {
	w.bumpStat(ctx, folderID, "files_skipped")
	w.emit(ctx, "folder_watch_file_skipped", map[string]any{"folder_id": folderID, "path": path})
}

func (w *Watcher) recordFailure(ctx context.Context, folderID string, cause error) {
	w.bumpStat(ctx, folderID, "files_failed")
	_ = w.client.HSet(ctx, folderKey(folderID), "last_error", cause.Error()).Err()

	w.mu.Lock()
	if rt, ok := w.folders[folderID]; ok {
		rt.mu.Lock()
		rt.folder.LastError = cause.Error()
		rt.mu.Unlock()
	}
	w.mu.Unlock()

	w.emit(ctx, "folder_watch_file_failed", map[string]any{"folder_id": folderID, "error": cause.Error()})
}

func (w *Watcher) bumpStat(ctx context.Context, folderID, field string) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, _ = w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, folderKey(folderID), field, 1)
		pipe.HSet(ctx, folderKey(folderID), "last_activity", now)
		return nil
	})
}

func (w *Watcher) emit(ctx context.Context, eventType string, data map[string]any) {
	if w.activity == nil {
		return
	}
	_, _ = w.activity.Add(ctx, eventType, data)
}

func (w *Watcher) readFolder(ctx context.Context, id string) (Folder, error) {
	fields, err := w.client.HGetAll(ctx, folderKey(id)).Result()
	if err != nil {
		return Folder{}, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "read watched folder", err)
	}
	if len(fields) == 0 {
		return Folder{}, archerr.NotFoundError(archerr.CodeNotFoundFolder, "folder not found: "+id)
	}

	folder := Folder{
		ID:        id,
		Path:      fields["path"],
		Enabled:   fields["enabled"] == "true",
		Status:    Status(fields["status"]),
		LastError: fields["last_error"],
	}
	folder.FilesIngested, _ = strconv.ParseInt(fields["files_ingested"], 10, 64)
	folder.FilesSkipped, _ = strconv.ParseInt(fields["files_skipped"], 10, 64)
	folder.FilesFailed, _ = strconv.ParseInt(fields["files_failed"], 10, 64)
	if ts, ok := fields["last_activity"]; ok {
		if parsed, perr := time.Parse(time.RFC3339, ts); perr == nil {
			folder.LastActivity = parsed
		}
	}
	return folder, nil
}

func (w *Watcher) writeFolder(ctx context.Context, folder Folder) error {
	err := w.client.HSet(ctx, folderKey(folder.ID), map[string]any{
		"id":      folder.ID,
		"path":    folder.Path,
		"enabled": strconv.FormatBool(folder.Enabled),
		"status":  string(folder.Status),
	}).Err()
	if err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "persist watched folder", err)
	}
	return nil
}
