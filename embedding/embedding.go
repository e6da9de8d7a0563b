// Package embedding turns phrases into dense vectors by averaging the
// vectors of their known words, and provides cosine nearest-neighbour
// search over phrase vectors.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/thesaurus/llm"
	"github.com/brunobiangulo/thesaurus/phrase"
)

// WordSource returns one vector per word. Unknown words yield a nil entry.
type WordSource interface {
	WordVectors(ctx context.Context, words []string) ([][]float32, error)
}

// ProviderSource fetches word vectors from an embedding endpoint.
type ProviderSource struct {
	Provider llm.Provider
}

// WordVectors embeds words through the provider. Empty or all-zero vectors
// are reported as unknown.
func (s ProviderSource) WordVectors(ctx context.Context, words []string) ([][]float32, error) {
	vecs, err := s.Provider.Embed(ctx, words)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(words) {
		return nil, fmt.Errorf("embedding: provider returned %d vectors for %d words", len(vecs), len(words))
	}
	for i, v := range vecs {
		if IsZero(v) {
			vecs[i] = nil
		}
	}
	return vecs, nil
}

// Embedder computes phrase vectors as the mean of known word vectors.
// Word vectors are cached for the lifetime of the Embedder.
type Embedder struct {
	src       WordSource
	batchSize int
	workers   int

	mu    sync.RWMutex
	cache map[string][]float32
	dim   int
}

// NewEmbedder creates an Embedder. batchSize and workers default to 256
// and 4 when not positive.
func NewEmbedder(src WordSource, batchSize, workers int) *Embedder {
	if batchSize <= 0 {
		batchSize = 256
	}
	if workers <= 0 {
		workers = 4
	}
	return &Embedder{
		src:       src,
		batchSize: batchSize,
		workers:   workers,
		cache:     make(map[string][]float32),
	}
}

// Dim returns the vector dimension observed so far, or 0.
func (e *Embedder) Dim() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dim
}

// Embed returns the phrase vector for text, or nil when no word is known.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedAll(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedAll embeds texts, fetching uncached words in parallel batches.
// The result is index-aligned with texts.
func (e *Embedder) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	tokens := make([][]string, len(texts))
	var missing []string
	seen := make(map[string]bool)

	e.mu.RLock()
	for i, t := range texts {
		tokens[i] = phrase.Tokens(t)
		for _, w := range tokens[i] {
			if _, ok := e.cache[w]; ok || seen[w] {
				continue
			}
			seen[w] = true
			missing = append(missing, w)
		}
	}
	e.mu.RUnlock()

	if err := e.fetch(ctx, missing); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i, words := range tokens {
		out[i] = e.mean(words)
	}
	return out, nil
}

func (e *Embedder) fetch(ctx context.Context, words []string) error {
	if len(words) == 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for start := 0; start < len(words); start += e.batchSize {
		batch := words[start:min(start+e.batchSize, len(words))]
		g.Go(func() error {
			vecs, err := e.src.WordVectors(ctx, batch)
			if err != nil {
				return fmt.Errorf("fetching word vectors: %w", err)
			}
			e.store(batch, vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Debug("embedding: word vectors fetched", "words", len(words))
	return nil
}

func (e *Embedder) store(words []string, vecs [][]float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, w := range words {
		var v []float32
		if i < len(vecs) {
			v = vecs[i]
		}
		if len(v) > 0 && e.dim == 0 {
			e.dim = len(v)
		}
		if len(v) != e.dim {
			v = nil
		}
		e.cache[w] = v
	}
}

// mean must be called with e.mu held.
func (e *Embedder) mean(words []string) []float32 {
	var sum []float64
	n := 0
	for _, w := range words {
		v := e.cache[w]
		if v == nil {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(v))
		}
		for j, x := range v {
			sum[j] += float64(x)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, len(sum))
	for j := range sum {
		out[j] = float32(sum[j] / float64(n))
	}
	return out
}

// Cosine returns the cosine similarity of a and b, or 0 when either has
// zero norm or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// IsZero reports whether v is empty or all zeros.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
