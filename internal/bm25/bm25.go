// Package bm25 implements the Okapi BM25 keyword index (C5): an in-memory
// tokenized corpus aligned 1:1 with document IDs, scored with the standard
// BM25 formula, and persisted to Redis as an exact-round-trip serialization
// of the corpus rather than a black-box on-disk index — the teacher's Bleve
// wrapper cannot expose its corpus for that round trip, so the scoring math
// is hand-rolled here while keeping the teacher's tokenizer/index shape.
package bm25

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/lifearchivist/core/internal/archerr"
)

const (
	defaultK1 = 1.5
	defaultB  = 0.75

	redisKeyCorpus  = "archive:bm25:corpus"
	redisKeyDocIDs  = "archive:bm25:doc_ids"
	redisKeyCount   = "archive:bm25:count"
)

// Scored is a single search hit.
type Scored struct {
	DocumentID string
	Score      float64
}

// Config tunes BM25 scoring and tokenization.
type Config struct {
	K1    float64
	B     float64
	Stem  bool
}

func (c Config) withDefaults() Config {
	if c.K1 == 0 {
		c.K1 = defaultK1
	}
	if c.B == 0 {
		c.B = defaultB
	}
	return c
}

// Index holds the in-memory corpus and serves BM25 queries.
type Index struct {
	mu sync.RWMutex

	cfg Config

	corpus      [][]string // tokenized documents, aligned with documentIDs
	documentIDs []string
	idPosition  map[string]int // documentID -> index in corpus/documentIDs

	avgDocLen float64
	docFreq   map[string]int // token -> number of documents containing it

	redis *redis.Client
}

// New creates an empty BM25 index. redisClient may be nil for in-process-only use.
func New(cfg Config, redisClient *redis.Client) *Index {
	return &Index{
		cfg:        cfg.withDefaults(),
		idPosition: make(map[string]int),
		docFreq:    make(map[string]int),
		redis:      redisClient,
	}
}

// Add tokenizes text and appends it to the corpus under documentID. Adding a
// document whose tokenization is empty is permitted, keeping corpus/ID
// alignment intact (logged by the caller, per spec §4.4).
func (idx *Index) Add(ctx context.Context, documentID, text string) error {
	tokens := Tokenize(text, idx.cfg.Stem)

	idx.mu.Lock()
	if pos, exists := idx.idPosition[documentID]; exists {
		idx.removeFromDocFreqLocked(idx.corpus[pos])
		idx.corpus[pos] = tokens
		idx.addToDocFreqLocked(tokens)
	} else {
		idx.idPosition[documentID] = len(idx.corpus)
		idx.corpus = append(idx.corpus, tokens)
		idx.documentIDs = append(idx.documentIDs, documentID)
		idx.addToDocFreqLocked(tokens)
	}
	idx.recomputeAvgDocLenLocked()
	idx.mu.Unlock()

	return idx.persist(ctx)
}

// Remove deletes documentID from the corpus, compacting the slices so
// corpus/documentIDs stay aligned by index (invariant I4).
func (idx *Index) Remove(ctx context.Context, documentID string) error {
	idx.mu.Lock()
	pos, exists := idx.idPosition[documentID]
	if !exists {
		idx.mu.Unlock()
		return nil
	}

	idx.removeFromDocFreqLocked(idx.corpus[pos])
	idx.corpus = append(idx.corpus[:pos], idx.corpus[pos+1:]...)
	idx.documentIDs = append(idx.documentIDs[:pos], idx.documentIDs[pos+1:]...)

	idx.idPosition = make(map[string]int, len(idx.documentIDs))
	for i, id := range idx.documentIDs {
		idx.idPosition[id] = i
	}
	idx.recomputeAvgDocLenLocked()
	idx.mu.Unlock()

	return idx.persist(ctx)
}

func (idx *Index) addToDocFreqLocked(tokens []string) {
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		idx.docFreq[t]++
	}
}

func (idx *Index) removeFromDocFreqLocked(tokens []string) {
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		idx.docFreq[t]--
		if idx.docFreq[t] <= 0 {
			delete(idx.docFreq, t)
		}
	}
}

func (idx *Index) recomputeAvgDocLenLocked() {
	if len(idx.corpus) == 0 {
		idx.avgDocLen = 0
		return
	}
	total := 0
	for _, doc := range idx.corpus {
		total += len(doc)
	}
	idx.avgDocLen = float64(total) / float64(len(idx.corpus))
}

// Search tokenizes query, scores it against the whole corpus, and returns
// hits with score >= minScore, sorted descending, ties broken by insertion
// order (stable sort over the original corpus order).
func (idx *Index) Search(ctx context.Context, query string, topK int, minScore float64) []Scored {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	queryTokens := Tokenize(query, idx.cfg.Stem)
	if len(queryTokens) == 0 || len(idx.corpus) == 0 {
		return nil
	}

	n := float64(len(idx.corpus))
	scores := make([]float64, len(idx.corpus))

	for _, qt := range queryTokens {
		df := float64(idx.docFreq[qt])
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))

		for docIdx, doc := range idx.corpus {
			tf := termFrequency(doc, qt)
			if tf == 0 {
				continue
			}
			docLen := float64(len(doc))
			denom := tf + idx.cfg.K1*(1-idx.cfg.B+idx.cfg.B*docLen/idx.avgDocLen)
			scores[docIdx] += idf * (tf * (idx.cfg.K1 + 1)) / denom
		}
	}

	results := make([]Scored, 0, len(scores))
	for i, score := range scores {
		if score >= minScore && score > 0 {
			results = append(results, Scored{DocumentID: idx.documentIDs[i], Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func termFrequency(doc []string, token string) float64 {
	count := 0
	for _, t := range doc {
		if t == token {
			count++
		}
	}
	return float64(count)
}

// Count returns the number of documents in the corpus.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.corpus)
}

// DocumentIDs returns a snapshot of every document ID currently in the
// corpus, used by the startup reconciliation sweep to detect drift against
// the tracker.
func (idx *Index) DocumentIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, len(idx.documentIDs))
	copy(out, idx.documentIDs)
	return out
}

// corpusSnapshot is the exact wire format persisted to Redis, chosen so
// serialization round-trips the corpus + doc_ids exactly (spec §4.4).
type corpusSnapshot struct {
	Corpus      [][]string `json:"corpus"`
	DocumentIDs []string   `json:"doc_ids"`
}

func (idx *Index) persist(ctx context.Context) error {
	if idx.redis == nil {
		return nil
	}

	idx.mu.RLock()
	snapshot := corpusSnapshot{Corpus: idx.corpus, DocumentIDs: idx.documentIDs}
	count := len(idx.corpus)
	idx.mu.RUnlock()

	corpusJSON, err := json.Marshal(snapshot.Corpus)
	if err != nil {
		return archerr.StorageError(archerr.CodeStorageTracker, "serialize bm25 corpus", err)
	}
	idsJSON, err := json.Marshal(snapshot.DocumentIDs)
	if err != nil {
		return archerr.StorageError(archerr.CodeStorageTracker, "serialize bm25 doc ids", err)
	}

	pipe := idx.redis.TxPipeline()
	pipe.Set(ctx, redisKeyCorpus, corpusJSON, 0)
	pipe.Set(ctx, redisKeyDocIDs, idsJSON, 0)
	pipe.Set(ctx, redisKeyCount, count, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "persist bm25 corpus", err)
	}
	return nil
}

// LoadFromRedis rebuilds the index from its Redis-persisted snapshot, used
// on startup. A missing snapshot leaves the index empty, not an error.
func LoadFromRedis(ctx context.Context, cfg Config, redisClient *redis.Client) (*Index, error) {
	idx := New(cfg, redisClient)
	if redisClient == nil {
		return idx, nil
	}

	corpusJSON, err := redisClient.Get(ctx, redisKeyCorpus).Bytes()
	if err == redis.Nil {
		return idx, nil
	}
	if err != nil {
		return nil, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "load bm25 corpus", err)
	}
	idsJSON, err := redisClient.Get(ctx, redisKeyDocIDs).Bytes()
	if err != nil {
		return nil, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "load bm25 doc ids", err)
	}

	var corpus [][]string
	if err := json.Unmarshal(corpusJSON, &corpus); err != nil {
		return nil, archerr.StorageError(archerr.CodeStorageTracker, "deserialize bm25 corpus", err)
	}
	var ids []string
	if err := json.Unmarshal(idsJSON, &ids); err != nil {
		return nil, archerr.StorageError(archerr.CodeStorageTracker, "deserialize bm25 doc ids", err)
	}
	if len(corpus) != len(ids) {
		return nil, archerr.InternalErrorOf("bm25 corpus/doc_ids length mismatch on load", nil)
	}

	idx.corpus = corpus
	idx.documentIDs = ids
	idx.idPosition = make(map[string]int, len(ids))
	for i, id := range ids {
		idx.idPosition[id] = i
		idx.addToDocFreqLocked(corpus[i])
	}
	idx.recomputeAvgDocLenLocked()

	return idx, nil
}
