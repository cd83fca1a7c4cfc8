package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lifearchivist/core/internal/activity"
	"github.com/lifearchivist/core/internal/bm25"
	"github.com/lifearchivist/core/internal/chunkstore"
	"github.com/lifearchivist/core/internal/config"
	"github.com/lifearchivist/core/internal/extract"
	"github.com/lifearchivist/core/internal/ingest"
	"github.com/lifearchivist/core/internal/llmclient"
	"github.com/lifearchivist/core/internal/progress"
	"github.com/lifearchivist/core/internal/query"
	"github.com/lifearchivist/core/internal/queue"
	"github.com/lifearchivist/core/internal/search"
	"github.com/lifearchivist/core/internal/toolsurface"
	"github.com/lifearchivist/core/internal/tracker"
	"github.com/lifearchivist/core/internal/vault"
	"github.com/lifearchivist/core/internal/vectorstore"
	"github.com/lifearchivist/core/internal/watch"
)

// app holds the fully wired dependency graph for one CLI invocation. Every
// subcommand builds one via newApp and closes over the pieces it needs.
type app struct {
	cfg      *config.Config
	redis    *redis.Client
	vault    *vault.Vault
	llm      *llmclient.Client
	registry *toolsurface.Registry

	pipeline *ingest.Pipeline
	search   *search.Service
	query    *query.Service
	watcher  *watch.Watcher
	tracker  *tracker.Tracker
	queue    *queue.Queue
	activity *activity.Log
}

// newApp wires C1-C15 plus the tool registry from cfg, per SPEC_FULL.md's
// dependency graph (spec §2's data-flow line: C12 -> C8 -> {C1,C3,C2,C7,C4,
// C5,C6} -> C11 -> C15, read path C9 -> {C5,C6,C4} -> C10).
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr(cfg.Redis.URL)})

	v, err := vault.New(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}

	llm, err := llmclient.New(ctx, llmclient.Config{
		Host:           cfg.LLM.OllamaURL,
		ChatModel:      cfg.LLM.Model,
		EmbeddingModel: cfg.Embeddings.Model,
		RequestTimeout: time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect llm client: %w", err)
	}

	vectors, err := vectorstore.New(vectorstore.Config{Dimensions: cfg.Vector.Dimensions})
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	extractor := extract.NewRegistry()
	chunks := chunkstore.NewStore()
	bm25Index, err := bm25.LoadFromRedis(ctx, bm25.Config{}, redisClient)
	if err != nil {
		return nil, fmt.Errorf("load bm25 index: %w", err)
	}
	trk := tracker.New(redisClient)
	enrichmentQueue := queue.New(redisClient, "enrichment")
	prog := progress.New(redisClient)
	activityLog := activity.New(redisClient)

	// Reconcile any BM25 rows left orphaned by a crash between indexing and
	// the tracker commit, per spec §9 open question 1, before serving traffic.
	if stats, err := trk.Reconcile(ctx, bm25Index); err != nil {
		return nil, fmt.Errorf("reconcile bm25 index: %w", err)
	} else if stats.OrphansRemoved > 0 {
		slog.Warn("reconcile removed orphaned bm25 documents", slog.Int("count", stats.OrphansRemoved))
	}

	pipeline := ingest.New(ingest.Config{
		ChunkSize:         cfg.Chunk.Size,
		ChunkOverlap:      cfg.Chunk.Overlap,
		MaxRetries:        cfg.Queue.MaxRetries,
		EnrichmentEnabled: true,
	}, v, extractor, chunks, bm25Index, vectors, trk, llm, enrichmentQueue, prog)

	searchSvc := search.New(vectors, bm25Index, trk, chunks, llm)
	querySvc := query.New(query.Config{}, searchSvc, llm, activityLog)

	watcher := watch.New(watch.Config{
		IngestionConcurrency: cfg.Watch.IngestionConcurrency,
		DebounceWindow:       time.Duration(cfg.Watch.DebounceSeconds * float64(time.Second)),
	}, redisClient, v, pipeline, activityLog)

	registry := toolsurface.NewRegistry(toolsurface.Deps{
		Vault:     v,
		Tracker:   trk,
		Extractor: extractor,
		Pipeline:  pipeline,
		Search:    searchSvc,
		Query:     querySvc,
		Watcher:   watcher,
		LLM:       llm,
	})

	return &app{
		cfg: cfg, redis: redisClient, vault: v, llm: llm, registry: registry,
		pipeline: pipeline, search: searchSvc, query: querySvc, watcher: watcher,
		tracker: trk, queue: enrichmentQueue, activity: activityLog,
	}, nil
}

func (a *app) Close() {
	a.watcher.Close()
	a.llm.Close()
	_ = a.redis.Close()
}

// redisAddr accepts either a bare host:port or a redis:// URL, since spec
// §6.6 names the config key redis_url but go-redis.Options wants a host:port
// address for the simple client constructor used here.
func redisAddr(url string) string {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return url
	}
	return opts.Addr
}
