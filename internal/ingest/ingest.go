// Package ingest implements the ingestion pipeline (C8): it orchestrates
// the vault, extractor, chunker, BM25 index, vector store and tracker for
// one input file, driving it through the
// received -> hashed -> vault-stored -> text-extracted -> metadata-extracted
// -> chunked -> indexed -> enriched -> ready|failed state machine, per
// spec §4.6.
package ingest

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lifearchivist/core/internal/archerr"
	"github.com/lifearchivist/core/internal/bm25"
	"github.com/lifearchivist/core/internal/chunkstore"
	"github.com/lifearchivist/core/internal/extract"
	"github.com/lifearchivist/core/internal/llmclient"
	"github.com/lifearchivist/core/internal/progress"
	"github.com/lifearchivist/core/internal/queue"
	"github.com/lifearchivist/core/internal/tracker"
	"github.com/lifearchivist/core/internal/vault"
	"github.com/lifearchivist/core/internal/vectorstore"
)

// reservedMetadataKeys may never be overwritten by caller-supplied
// metadata, per spec §4.6 step 6.
var reservedMetadataKeys = map[string]struct{}{
	"document_id": {}, "file_hash": {}, "size_bytes": {}, "uploaded_at": {},
}

// dateExtractionMinChars and autoTaggingMinChars gate the enrichment
// enqueue step, per spec §4.6 step 9.
const (
	dateExtractionMinChars = 50
	autoTaggingMinChars    = 100
)

// docLockTTL/docLockRetryDelay/docLockMaxWait bound the
// "archive:doc:lock:{hash}" lock guarding the duplicate-check-then-commit
// window, per spec §9 open question 2.
const (
	docLockTTL        = 30 * time.Second
	docLockRetryDelay = 50 * time.Millisecond
	docLockMaxWait    = 30 * time.Second
)

// Input describes one file to ingest, per spec §4.6.
type Input struct {
	Path       string
	DocumentID string // caller-supplied; a fresh UUIDv4 is allocated if empty
	MimeHint   string
	Tags       []string
	Metadata   map[string]any
	SessionID  string
}

// Result is the outcome of a successful or duplicate ingestion.
type Result struct {
	DocumentID         string
	Status             string
	Hash               string
	MimeType           string
	Duplicate          bool
	ExistingDocumentID string
	ChunkCount         int
}

// Config tunes the pipeline's chunking and enrichment-enqueue behavior.
type Config struct {
	ChunkSize         int
	ChunkOverlap      int
	MaxRetries        int
	EnrichmentEnabled bool
}

// Pipeline wires together C1-C7 for single-file ingestion.
type Pipeline struct {
	cfg Config

	vault      *vault.Vault
	extractor  *extract.Registry
	chunks     *chunkstore.Store
	bm25Index  *bm25.Index
	vectors    vectorstore.Store
	tracker    *tracker.Tracker
	embedder   *llmclient.Client
	enrichment *queue.Queue
	progress   *progress.Tracker
}

// New creates a Pipeline from its collaborators.
func New(cfg Config, v *vault.Vault, extractor *extract.Registry, chunks *chunkstore.Store,
	bm25Index *bm25.Index, vectors vectorstore.Store, trk *tracker.Tracker,
	embedder *llmclient.Client, enrichment *queue.Queue, prog *progress.Tracker) *Pipeline {
	return &Pipeline{
		cfg: cfg, vault: v, extractor: extractor, chunks: chunks, bm25Index: bm25Index,
		vectors: vectors, tracker: trk, embedder: embedder, enrichment: enrichment, progress: prog,
	}
}

// Ingest runs one file through the full pipeline.
func (p *Pipeline) Ingest(ctx context.Context, in Input) (*Result, error) {
	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	_ = p.progress.Start(ctx, sessionID, "uploading")

	// Steps 1+3: hash (streaming inside Vault.Put) and content-address the
	// file; failures here leave no persistent state, per spec §4.6.
	putResult, err := p.vault.Put(in.Path, "")
	if err != nil {
		_ = p.progress.Error(ctx, sessionID, err.Error())
		return nil, err
	}

	// Hold the per-hash document lock across the duplicate check and the
	// commit below, so two concurrent imports of the same file content
	// can't both observe "not a duplicate" and each write a document row
	// (spec §9 open question 2).
	release, err := p.acquireDocLock(ctx, putResult.Hash)
	if err != nil {
		_ = p.progress.Error(ctx, sessionID, err.Error())
		return nil, err
	}
	defer release()

	if putResult.Existed {
		existingIDs, queryErr := p.tracker.QueryByFilters(ctx, map[string]string{"file_hash": putResult.Hash})
		if queryErr == nil && len(existingIDs) > 0 {
			_ = p.progress.Cleanup(ctx, sessionID)
			return &Result{
				Duplicate:          true,
				ExistingDocumentID: existingIDs[0],
				Hash:               putResult.Hash,
			}, nil
		}
	}

	// Step 4: allocate the document id. Everything from here on writes
	// document-scoped state, so failures must be recorded as status=failed
	// rather than silently dropped.
	documentID := in.DocumentID
	if documentID == "" {
		documentID = uuid.NewString()
	}

	result, ingestErr := p.ingestDocument(ctx, sessionID, documentID, in, putResult)
	if ingestErr != nil {
		_ = p.tracker.UpdateFullMetadata(ctx, documentID, map[string]any{
			"status":        "failed",
			"error_message": ingestErr.Error(),
		}, tracker.UpdateModeUpdate)
		_ = p.progress.Update(ctx, sessionID, progress.StageError, 0, ingestErr.Error())
		return nil, ingestErr
	}
	return result, nil
}

func (p *Pipeline) ingestDocument(ctx context.Context, sessionID, documentID string, in Input, putResult *vault.PutResult) (*Result, error) {
	// Step 2: MIME determination, hint overrides autodetection.
	mimeType := in.MimeHint
	if mimeType == "" {
		mimeType = detectMIME(in.Path, putResult.Path)
	}

	_ = p.progress.Update(ctx, sessionID, progress.StageExtract, 20, "extracting text")

	// Step 5: text + format metadata extraction (never fails the pipeline).
	textResult := p.extractor.ExtractText(ctx, mimeType, putResult.Path)
	formatMetadata := p.extractor.ExtractMetadata(ctx, mimeType, putResult.Path)

	_ = p.progress.Update(ctx, sessionID, progress.StageExtract, 40, "building metadata")

	// Step 6: assemble full metadata, reserved keys win over caller overrides.
	fullMetadata := buildFullMetadata(documentID, putResult, mimeType, in, formatMetadata)

	_ = p.progress.Update(ctx, sessionID, progress.StageIndex, 60, "chunking and indexing")

	payload := chunkstore.Payload{
		DocumentID: documentID,
		Title:      stringField(fullMetadata["title"]),
		MimeType:   mimeType,
		Status:     "processing",
		UploadedDate: stringField(fullMetadata["uploaded_at"]),
	}
	chunks := chunkstore.Split(textResult.Text, chunkstore.SplitterConfig{
		TargetSize: p.cfg.ChunkSize,
		Overlap:    p.cfg.ChunkOverlap,
	}, documentID, payload)

	nodeIDs := make([]string, len(chunks))
	for i, c := range chunks {
		nodeIDs[i] = c.NodeID
	}

	// Step 7: index into vector store, BM25, and the tracker, in that
	// order. Zero chunks is a valid outcome (e.g. an empty scanned image);
	// a non-empty vector insertion against zero registered chunks would be
	// an invariant violation, so that combination fails hard.
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, embedErr := p.embedder.EmbedBatch(ctx, texts)
		if embedErr != nil {
			return nil, p.rollback(ctx, putResult, fmt.Errorf("embed chunks: %w", embedErr))
		}
		if addErr := p.vectors.Add(ctx, nodeIDs, vectors); addErr != nil {
			return nil, p.rollback(ctx, putResult, fmt.Errorf("index chunk vectors: %w", addErr))
		}
	}

	if err := p.bm25Index.Add(ctx, documentID, textResult.Text); err != nil {
		return nil, p.rollback(ctx, putResult, fmt.Errorf("index bm25: %w", err))
	}

	if err := p.tracker.Add(ctx, documentID, nodeIDs); err != nil {
		return nil, p.rollback(ctx, putResult, fmt.Errorf("register document: %w", err))
	}
	if err := p.tracker.StoreFullMetadata(ctx, documentID, fullMetadata); err != nil {
		return nil, p.rollback(ctx, putResult, fmt.Errorf("store metadata: %w", err))
	}

	p.chunks.Put(chunks)

	// Step 8: mark ready, append import provenance.
	provenanceEntry := map[string]any{
		"action":    "import",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.tracker.UpdateFullMetadata(ctx, documentID, map[string]any{
		"status":     "ready",
		"provenance": []any{provenanceEntry},
	}, tracker.UpdateModeUpdate); err != nil {
		return nil, err
	}

	// Step 9: enqueue enrichment, non-blocking and non-fatal on failure.
	textLen := len(textResult.Text)
	if p.enrichment != nil {
		if textLen >= dateExtractionMinChars {
			_ = p.enrichment.Enqueue(ctx, queue.Task{
				Type: "date_extraction", DocumentID: documentID, MaxRetries: p.cfg.MaxRetries,
			})
		}
		if textLen >= autoTaggingMinChars && p.cfg.EnrichmentEnabled {
			_ = p.enrichment.Enqueue(ctx, queue.Task{
				Type: "auto_tagging", DocumentID: documentID, MaxRetries: p.cfg.MaxRetries,
			})
		}
	}

	// Step 10: report completion.
	_ = p.progress.Complete(ctx, sessionID, map[string]any{
		"document_id": documentID,
		"chunk_count": len(chunks),
	})

	return &Result{
		DocumentID: documentID,
		Status:     "ready",
		Hash:       putResult.Hash,
		MimeType:   mimeType,
		ChunkCount: len(chunks),
	}, nil
}

// acquireDocLock takes the tracker's per-hash document lock, retrying on
// contention (another ingest already holds it for this hash) until
// docLockMaxWait elapses. The returned release func is always safe to call,
// including after a failed acquisition, and never blocks on ctx since a
// crashed caller must not wedge the lock for other ingests past its TTL.
func (p *Pipeline) acquireDocLock(ctx context.Context, hash string) (func(), error) {
	noop := func() {}
	deadline := time.Now().Add(docLockMaxWait)
	for {
		ok, err := p.tracker.AcquireLock(ctx, hash, docLockTTL)
		if err != nil {
			return noop, err
		}
		if ok {
			return func() { _ = p.tracker.ReleaseLock(context.WithoutCancel(ctx), hash) }, nil
		}
		if time.Now().After(deadline) {
			return noop, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis,
				fmt.Sprintf("timed out waiting for ingest lock on hash %s", hash), nil)
		}
		select {
		case <-ctx.Done():
			return noop, ctx.Err()
		case <-time.After(docLockRetryDelay):
		}
	}
}

// rollback deletes the vault object only if this call created it (it did
// not pre-exist), per spec §4.6 step 7's failure contract.
func (p *Pipeline) rollback(ctx context.Context, putResult *vault.PutResult, cause error) error {
	if !putResult.Existed {
		p.vault.Delete(putResult.Hash, filepath.Ext(putResult.Path))
	}
	return archerr.InternalErrorOf("ingestion failed", cause)
}

func buildFullMetadata(documentID string, putResult *vault.PutResult, mimeType string, in Input, formatMetadata map[string]any) map[string]any {
	full := make(map[string]any, len(formatMetadata)+len(in.Metadata)+8)
	for k, v := range formatMetadata {
		full[k] = v
	}
	for k, v := range in.Metadata {
		if _, reserved := reservedMetadataKeys[k]; reserved {
			continue
		}
		full[k] = v
	}

	full["document_id"] = documentID
	full["file_hash"] = putResult.Hash
	full["size_bytes"] = putResult.Size
	full["uploaded_at"] = time.Now().UTC().Format(time.RFC3339)
	full["mime_type"] = mimeType
	full["status"] = "processing"
	if len(in.Tags) > 0 {
		full["tags"] = in.Tags
	}
	if _, hasTitle := full["title"]; !hasTitle {
		full["title"] = filepath.Base(in.Path)
	}
	return full
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

// detectMIME applies the spec's mime_hint-overrides-autodetection rule: the
// extension-based guess is preferred when available, falling back to
// content sniffing of the stored file's first 512 bytes.
func detectMIME(originalPath, storedPath string) string {
	if ext := strings.ToLower(filepath.Ext(originalPath)); ext != "" {
		if guessed := mime.TypeByExtension(ext); guessed != "" {
			return normalizeMIME(guessed)
		}
	}

	f, err := os.Open(storedPath)
	if err != nil {
		return "application/octet-stream"
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	return normalizeMIME(http.DetectContentType(buf[:n]))
}

func normalizeMIME(m string) string {
	if idx := strings.Index(m, ";"); idx >= 0 {
		m = m[:idx]
	}
	return strings.TrimSpace(m)
}
