package embedding

import (
	"context"
	"sort"
	"sync"

	"github.com/brunobiangulo/thesaurus/phrase"
)

// Neighbor is one nearest-neighbour hit.
type Neighbor struct {
	ID         phrase.ID
	Similarity float64
}

// MemoryIndex is a brute-force cosine index over phrase vectors.
type MemoryIndex struct {
	mu   sync.RWMutex
	ids  []phrase.ID
	vecs [][]float32
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

// Add indexes vec under id. Zero vectors are not indexed.
func (m *MemoryIndex) Add(id phrase.ID, vec []float32) bool {
	if IsZero(vec) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, id)
	m.vecs = append(m.vecs, vec)
	return true
}

// Len returns the number of indexed vectors.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Nearest returns up to k neighbours by descending cosine similarity. Ties
// keep insertion order.
func (m *MemoryIndex) Nearest(ctx context.Context, vec []float32, k int) ([]Neighbor, error) {
	if k <= 0 || IsZero(vec) {
		return nil, nil
	}
	m.mu.RLock()
	hits := make([]Neighbor, len(m.ids))
	for i, v := range m.vecs {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				m.mu.RUnlock()
				return nil, err
			}
		}
		hits[i] = Neighbor{ID: m.ids[i], Similarity: Cosine(vec, v)}
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
