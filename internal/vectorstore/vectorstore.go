// Package vectorstore provides a pure-Go approximate nearest-neighbor index
// (HNSW) over chunk embeddings, used by the hybrid search component (C6/C9).
package vectorstore

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/lifearchivist/core/internal/archerr"
)

// Result is a single nearest-neighbor hit.
type Result struct {
	ChunkID  string
	Distance float32 // lower is more similar
	Score    float32 // normalized similarity in [0,1]
}

// Config configures the index.
type Config struct {
	Dimensions int
	Metric     string // "cos" or "l2", default "cos"
	M          int
	EfSearch   int
}

func (c Config) withDefaults() Config {
	if c.Metric == "" {
		c.Metric = "cos"
	}
	if c.M == 0 {
		c.M = 16
	}
	if c.EfSearch == 0 {
		c.EfSearch = 20
	}
	return c
}

// ErrDimensionMismatch is returned when a vector's length does not match the
// configured dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Store is the interface consumed by the search component, allowing a fake
// in test doubles without pulling in the HNSW graph.
type Store interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
	Delete(ctx context.Context, ids []string) error
	Contains(id string) bool
	Count() int
}

// HNSWStore implements Store on top of coder/hnsw, with gob-encoded ID
// mapping persistence alongside the graph's own binary export format.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config Config

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

type hnswMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  Config
}

// New creates an empty HNSW-backed vector store.
func New(cfg Config) (*HNSWStore, error) {
	cfg = cfg.withDefaults()
	if cfg.Dimensions <= 0 {
		return nil, archerr.ValidationError("vector store dimensions must be positive", nil)
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

// Add inserts or replaces vectors keyed by chunk ID.
func (s *HNSWStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return archerr.ValidationError(fmt.Sprintf("ids/vectors length mismatch: %d vs %d", len(ids), len(vectors)), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return archerr.InternalErrorOf("vector store is closed", nil)
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if existingKey, exists := s.idMap[id]; exists {
			// Lazy deletion: orphan the old node rather than mutate the graph,
			// avoiding coder/hnsw's last-node-delete edge case.
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalize(vec)
		}

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}
	return nil
}

// Search returns the k nearest chunks to query.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, archerr.InternalErrorOf("vector store is closed", nil)
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 {
		return []Result{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if s.config.Metric == "cos" {
		normalize(q)
	}

	nodes := s.graph.Search(q, k)
	results := make([]Result, 0, len(nodes))
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		distance := s.graph.Distance(q, node.Value)
		results = append(results, Result{
			ChunkID:  id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
	}
	return results, nil
}

// Delete lazily removes vectors by chunk ID.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return archerr.InternalErrorOf("vector store is closed", nil)
	}
	for _, id := range ids {
		if key, ok := s.idMap[id]; ok {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
	return nil
}

// Contains reports whether id is currently indexed.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idMap[id]
	return ok
}

// Count returns the number of live (non-orphaned) vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// AllIDs returns every indexed chunk ID.
func (s *HNSWStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Save persists the graph (binary export) and ID mapping (gob) atomically.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return archerr.InternalErrorOf("vector store is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return archerr.StorageError(archerr.CodeStorageVault, "create vector index directory", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return archerr.StorageError(archerr.CodeStorageVault, "create vector index file", err)
	}
	if err := s.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return archerr.StorageError(archerr.CodeStorageVault, "export hnsw graph", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return archerr.StorageError(archerr.CodeStorageVault, "close vector index file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return archerr.StorageError(archerr.CodeStorageVault, "rename vector index file", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *HNSWStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create vector metadata temp file: %w", err)
	}
	meta := hnswMetadata{IDMap: s.idMap, NextKey: s.nextKey, Config: s.config}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode vector metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close vector metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and ID mapping previously written by Save.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return archerr.InternalErrorOf("vector store is closed", nil)
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("load vector metadata: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return archerr.StorageError(archerr.CodeStorageVault, "open vector index file", err)
	}
	defer func() { _ = f.Close() }()

	if err := s.graph.Import(bufio.NewReader(f)); err != nil {
		return archerr.StorageError(archerr.CodeStorageVault, "import hnsw graph", err)
	}
	return nil
}

func (s *HNSWStore) loadMetadata(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var meta hnswMetadata
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return err
	}
	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close marks the store as closed, rejecting further operations.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func normalize(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range v {
		v[i] /= norm
	}
}

func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return float32(1.0 / (1.0 + float64(distance)))
	default: // cosine distance is in [0, 2]
		score := 1.0 - float64(distance)/2.0
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		return float32(score)
	}
}
