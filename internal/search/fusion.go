// Package search implements hybrid retrieval (C9): semantic search over the
// vector store, keyword search over the BM25 index, and a hybrid mode that
// fuses both with the spec's weighted-overlap formula (not Reciprocal Rank
// Fusion — the fuser here keeps the teacher's struct-based
// getOrCreate/deterministic-sort shape from its original RRF fuser, but the
// scoring formula itself is spec §4.7's boost/weight/overlap-bonus scheme).
package search

import "sort"

// fusionCandidate accumulates a document's semantic and keyword score prior
// to fusion, mirroring the teacher RRF fuser's per-document accumulator.
type fusionCandidate struct {
	documentID string
	semScore   float64
	hasSem     bool
	kwScore    float64
	hasKW      bool
}

// hybridFuser applies spec §4.7's weighted-fusion rule to a set of
// documents that may have a semantic score, a keyword score, or both.
type hybridFuser struct {
	wSem float64
}

func newHybridFuser(wSem float64) *hybridFuser {
	if wSem <= 0 || wSem >= 1 {
		wSem = defaultSemanticWeight
	}
	return &hybridFuser{wSem: wSem}
}

// fuse combines semantic and keyword hits keyed by document_id, per spec
// §4.7:
//   - semantic-only: score := sem_score * 1.2, tag hybrid_semantic
//   - keyword-only:  score := kw_score * (1 - w_sem), tag hybrid_keyword
//   - both:          score := w_sem*sem_score + (1-w_sem)*kw_score + 0.1, tag hybrid_both
func (f *hybridFuser) fuse(semantic map[string]float64, keyword map[string]float64) []fusedHit {
	candidates := make(map[string]*fusionCandidate, len(semantic)+len(keyword))

	for docID, score := range semantic {
		c := f.getOrCreate(candidates, docID)
		c.semScore = score
		c.hasSem = true
	}
	for docID, score := range keyword {
		c := f.getOrCreate(candidates, docID)
		c.kwScore = score
		c.hasKW = true
	}

	hits := make([]fusedHit, 0, len(candidates))
	for _, c := range candidates {
		var score float64
		var tag string
		switch {
		case c.hasSem && c.hasKW:
			score = f.wSem*c.semScore + (1-f.wSem)*c.kwScore + 0.1
			tag = "hybrid_both"
		case c.hasSem:
			score = c.semScore * 1.2
			tag = "hybrid_semantic"
		default:
			score = c.kwScore * (1 - f.wSem)
			tag = "hybrid_keyword"
		}
		hits = append(hits, fusedHit{documentID: c.documentID, score: score, searchType: tag})
	}

	f.toSortedSlice(hits)
	return hits
}

func (f *hybridFuser) getOrCreate(m map[string]*fusionCandidate, documentID string) *fusionCandidate {
	if c, ok := m[documentID]; ok {
		return c
	}
	c := &fusionCandidate{documentID: documentID}
	m[documentID] = c
	return c
}

// toSortedSlice sorts hits descending by score, tie-broken lexicographically
// by document_id for determinism.
func (f *hybridFuser) toSortedSlice(hits []fusedHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].documentID < hits[j].documentID
	})
}

type fusedHit struct {
	documentID string
	score      float64
	searchType string
}
