package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
)

type memEntry struct {
	chunk  models.Chunk
	vector []float32
}

type memIndex struct {
	dim     int
	entries []memEntry
	byID    map[string]int
}

// MemoryStore is a process-local index with brute-force cosine search.
type MemoryStore struct {
	mu      sync.RWMutex
	indexes map[string]*memIndex
	current string
}

func NewMemory() *MemoryStore {
	return &MemoryStore{indexes: make(map[string]*memIndex)}
}

func (m *MemoryStore) EnsureIndex(_ context.Context, spec types.IndexSpec, recreate bool) error {
	if err := checkSpec(spec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.indexes[spec.Name]
	if ok && !recreate && idx.dim != spec.Dimension {
		return fmt.Errorf("%w: index %s has %d dimensions, want %d", ErrDimensionMismatch, spec.Name, idx.dim, spec.Dimension)
	}
	if !ok || recreate {
		m.indexes[spec.Name] = &memIndex{dim: spec.Dimension, byID: make(map[string]int)}
	}
	m.current = spec.Name
	return nil
}

func (m *MemoryStore) Upsert(_ context.Context, chunks []models.Chunk, vectors [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.indexes[m.current]
	if !ok {
		return ErrNoIndex
	}
	if err := checkUpsert(chunks, vectors, idx.dim); err != nil {
		return err
	}

	for i, c := range chunks {
		entry := memEntry{chunk: c, vector: append([]float32(nil), vectors[i]...)}
		if pos, ok := idx.byID[c.ID]; ok && c.ID != "" {
			idx.entries[pos] = entry
			continue
		}
		idx.byID[c.ID] = len(idx.entries)
		idx.entries = append(idx.entries, entry)
	}
	return nil
}

func (m *MemoryStore) Query(_ context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.indexes[m.current]
	if !ok {
		return nil, ErrNoIndex
	}
	if err := checkQuery(vector, idx.dim); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	scored := make([]models.ScoredChunk, len(idx.entries))
	for i, e := range idx.entries {
		scored[i] = models.ScoredChunk{
			ID:       e.chunk.ID,
			Source:   e.chunk.Source,
			Content:  e.chunk.Content,
			Metadata: e.chunk.Metadata,
			Score:    cosine(vector, e.vector),
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Len reports the number of vectors in the current index.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx, ok := m.indexes[m.current]; ok {
		return len(idx.entries)
	}
	return 0
}

func (m *MemoryStore) Close() {}
