package search

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lifearchivist/core/internal/bm25"
	"github.com/lifearchivist/core/internal/chunkstore"
	"github.com/lifearchivist/core/internal/filter"
	"github.com/lifearchivist/core/internal/llmclient"
	"github.com/lifearchivist/core/internal/tracker"
	"github.com/lifearchivist/core/internal/vectorstore"
)

// neighbourCacheSize bounds the neighbour-query result cache (see
// GetDocumentNeighbours): one entry per (documentID, topK) pair.
const neighbourCacheSize = 256

// Default thresholds and weights, per spec §4.7.
const (
	defaultSimilarityThreshold   = 0.7
	neighbourDiscoveryThreshold  = 0.3
	qaContextThreshold           = 0.45
	hybridSemanticThreshold      = 0.3
	defaultSemanticWeight        = 0.6
	maxResultTextChars           = 500
	neighbourQueryChars          = 2000
)

// Mode is a search mode accepted by Search.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
	ModeHybrid   Mode = "hybrid"
)

// Result is a single search hit, per spec §4.7.
type Result struct {
	DocumentID string
	NodeID     string
	Text       string
	Score      float64
	Metadata   map[string]any
	SearchType string
}

// Service implements semantic, keyword, and hybrid retrieval over the
// vector store, BM25 index, and tracker.
type Service struct {
	vectors  vectorstore.Store
	bm25     *bm25.Index
	tracker  *tracker.Tracker
	chunks   *chunkstore.Store
	embedder *llmclient.Client

	neighbourCache *lru.Cache[string, []Result]
}

// New creates a Service from its collaborators.
func New(vectors vectorstore.Store, bm25Index *bm25.Index, trk *tracker.Tracker, chunks *chunkstore.Store, embedder *llmclient.Client) *Service {
	cache, _ := lru.New[string, []Result](neighbourCacheSize)
	return &Service{vectors: vectors, bm25: bm25Index, tracker: trk, chunks: chunks, embedder: embedder, neighbourCache: cache}
}

// Search dispatches to the requested mode.
func (s *Service) Search(ctx context.Context, mode Mode, query string, topK int, filters filter.Filters) ([]Result, error) {
	switch mode {
	case ModeKeyword:
		return s.Keyword(ctx, query, topK, filters)
	case ModeHybrid:
		return s.Hybrid(ctx, query, topK, filters)
	default:
		return s.Semantic(ctx, query, topK, defaultSimilarityThreshold, filters)
	}
}

// Semantic embeds query, retrieves up to 2*topK nearest chunks, filters by
// similarity >= threshold and by metadata filter, then truncates to topK,
// per spec §4.7.
func (s *Service) Semantic(ctx context.Context, query string, topK int, threshold float64, filters filter.Filters) ([]Result, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	widened := topK * 2
	if widened < topK {
		widened = topK
	}
	hits, err := s.vectors.Search(ctx, vec, widened)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		if float64(hit.Score) < threshold {
			continue
		}
		chunk, ok := s.chunks.Get(hit.ChunkID)
		if !ok {
			continue
		}
		metadata, err := s.tracker.GetFullMetadata(ctx, chunk.DocumentID)
		if err != nil || !filter.Matches(metadata, filters) {
			continue
		}
		results = append(results, Result{
			DocumentID: chunk.DocumentID,
			NodeID:     chunk.NodeID,
			Text:       truncate(chunk.Text, maxResultTextChars),
			Score:      float64(hit.Score),
			Metadata:   metadata,
			SearchType: "semantic",
		})
		if len(results) >= topK {
			break
		}
	}
	return results, nil
}

// Keyword runs the BM25 index over 2*topK candidates, joins each hit
// against the tracker for document-level metadata, applies the metadata
// filter, then truncates to topK, per spec §4.7.
func (s *Service) Keyword(ctx context.Context, query string, topK int, filters filter.Filters) ([]Result, error) {
	widened := topK * 2
	if widened < topK {
		widened = topK
	}
	hits := s.bm25.Search(ctx, query, widened, 0)

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		metadata, err := s.tracker.GetFullMetadata(ctx, hit.DocumentID)
		if err != nil || !filter.Matches(metadata, filters) {
			continue
		}
		nodeID, text := s.representativeChunk(hit.DocumentID)
		results = append(results, Result{
			DocumentID: hit.DocumentID,
			NodeID:     nodeID,
			Text:       truncate(text, maxResultTextChars),
			Score:      hit.Score,
			Metadata:   metadata,
			SearchType: "keyword",
		})
		if len(results) >= topK {
			break
		}
	}
	return results, nil
}

// Hybrid runs semantic (at the lower neighbour-discovery threshold) and
// keyword search, dedupes by document_id, and fuses per spec §4.7.
func (s *Service) Hybrid(ctx context.Context, query string, topK int, filters filter.Filters) ([]Result, error) {
	semanticHits, err := s.Semantic(ctx, query, topK*2, hybridSemanticThreshold, filters)
	if err != nil {
		return nil, err
	}
	keywordHits, err := s.Keyword(ctx, query, topK*2, filters)
	if err != nil {
		return nil, err
	}

	semanticByDoc := make(map[string]float64, len(semanticHits))
	contextByDoc := make(map[string]Result, len(semanticHits)+len(keywordHits))
	for _, r := range semanticHits {
		semanticByDoc[r.DocumentID] = r.Score
		contextByDoc[r.DocumentID] = r
	}
	keywordByDoc := make(map[string]float64, len(keywordHits))
	for _, r := range keywordHits {
		keywordByDoc[r.DocumentID] = r.Score
		if _, exists := contextByDoc[r.DocumentID]; !exists {
			contextByDoc[r.DocumentID] = r
		}
	}

	fused := newHybridFuser(defaultSemanticWeight).fuse(semanticByDoc, keywordByDoc)

	results := make([]Result, 0, len(fused))
	for _, hit := range fused {
		base := contextByDoc[hit.documentID]
		results = append(results, Result{
			DocumentID: hit.documentID,
			NodeID:     base.NodeID,
			Text:       base.Text,
			Score:      hit.score,
			Metadata:   base.Metadata,
			SearchType: hit.searchType,
		})
		if len(results) >= topK {
			break
		}
	}
	return results, nil
}

// GetDocumentNeighbours uses up to 2000 characters of documentID's first
// chunk as a semantic query, filtering out documentID itself, per spec
// §4.7. Results are cached per (documentID, topK) since re-embedding and
// re-searching for the same document is otherwise repeated on every call.
func (s *Service) GetDocumentNeighbours(ctx context.Context, documentID string, topK int) ([]Result, error) {
	cacheKey := fmt.Sprintf("%s:%d", documentID, topK)
	if cached, ok := s.neighbourCache.Get(cacheKey); ok {
		return cached, nil
	}

	chunks := s.chunks.ByDocument(documentID)
	if len(chunks) == 0 {
		return nil, nil
	}
	query := truncate(chunks[0].Text, neighbourQueryChars)

	hits, err := s.Semantic(ctx, query, topK+1, neighbourDiscoveryThreshold, nil)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, topK)
	for _, hit := range hits {
		if hit.DocumentID == documentID {
			continue
		}
		results = append(results, hit)
		if len(results) >= topK {
			break
		}
	}
	s.neighbourCache.Add(cacheKey, results)
	return results, nil
}

// representativeChunk returns the node-id and text of a document's first
// chunk, used as the display chunk for document-level (BM25) hits.
func (s *Service) representativeChunk(documentID string) (string, string) {
	chunks := s.chunks.ByDocument(documentID)
	if len(chunks) == 0 {
		return "", ""
	}
	return chunks[0].NodeID, chunks[0].Text
}

func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max]
}

