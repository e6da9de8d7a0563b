// Package voting ranks hypernym candidates for a phrase by letting its
// nearest taxonomy neighbours vote for their own shorter sub-phrases.
package voting

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/thesaurus/embedding"
	"github.com/brunobiangulo/thesaurus/graph"
	"github.com/brunobiangulo/thesaurus/phrase"
	"github.com/brunobiangulo/thesaurus/taxonomy"
)

// Embedder maps a phrase to a vector. A nil or zero vector means the
// phrase has no known vocabulary.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NeighborIndex finds taxonomy phrases closest to a vector.
type NeighborIndex interface {
	Nearest(ctx context.Context, vec []float32, k int) ([]embedding.Neighbor, error)
}

// Options holds the voting constants.
type Options struct {
	Neighbors         int     `json:"neighbors" yaml:"neighbors"`
	// SecondOrderWeight scales votes for sub-spans of a neighbour. Zero
	// turns them off.
	SecondOrderWeight float64 `json:"second_order_weight" yaml:"second_order_weight"`
	MinOOF            float64 `json:"min_oof" yaml:"min_oof"`
	TopN              int     `json:"top_n" yaml:"top_n"`
	Workers           int     `json:"workers" yaml:"workers"`
}

// DefaultOptions returns 100 neighbours, 0.5 second-order decay, a 0.05
// quality gate and the top 10 candidates.
func DefaultOptions() Options {
	return Options{
		Neighbors:         100,
		SecondOrderWeight: 0.5,
		MinOOF:            0.05,
		TopN:              10,
		Workers:           8,
	}
}

// Hypernym is one ranked candidate.
type Hypernym struct {
	Hypernym     string   `json:"hypernym"`
	Vote         float64  `json:"vote"`
	IsTermManual *int     `json:"is_term_manual"`
	OOFProbClass *float64 `json:"oof_prob_class"`
}

// Result is the ranking for one query.
type Result struct {
	Query     string     `json:"query"`
	Hypernyms []Hypernym `json:"hypernyms"`
}

// Output is the voting artifact.
type Output struct {
	Results []Result `json:"results"`
}

// Voter ranks hypernym candidates.
type Voter struct {
	tax   *taxonomy.Taxonomy
	emb   Embedder
	index NeighborIndex
	opts  Options

	mu    sync.RWMutex
	spans map[phrase.ID][]phrase.ID
}

// New creates a Voter. Zero option fields take their defaults, except
// SecondOrderWeight where zero disables second-order votes and only a
// negative value selects the default.
func New(tax *taxonomy.Taxonomy, emb Embedder, index NeighborIndex, opts Options) *Voter {
	def := DefaultOptions()
	if opts.Neighbors <= 0 {
		opts.Neighbors = def.Neighbors
	}
	if opts.SecondOrderWeight < 0 {
		opts.SecondOrderWeight = def.SecondOrderWeight
	}
	if opts.TopN <= 0 {
		opts.TopN = def.TopN
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	return &Voter{
		tax:   tax,
		emb:   emb,
		index: index,
		opts:  opts,
		spans: make(map[phrase.ID][]phrase.ID),
	}
}

// SubSpans returns the taxonomy members that are contiguous token
// sub-spans of id with strictly fewer tokens, in (start, end) order.
func (v *Voter) SubSpans(id phrase.ID) []phrase.ID {
	v.mu.RLock()
	spans, ok := v.spans[id]
	v.mu.RUnlock()
	if ok {
		return spans
	}

	tab := v.tax.Phrases()
	tokens := strings.Fields(tab.Normalized(id))
	n := len(tokens)
	seen := make(map[phrase.ID]bool)
	for i := 0; i < n; i++ {
		for j := i + 1; j <= n; j++ {
			if j-i >= n {
				continue
			}
			sub, ok := tab.Lookup(strings.Join(tokens[i:j], " "))
			if !ok || !v.tax.Has(sub) || seen[sub] {
				continue
			}
			seen[sub] = true
			spans = append(spans, sub)
		}
	}

	v.mu.Lock()
	v.spans[id] = spans
	v.mu.Unlock()
	return spans
}

// tally accumulates votes keeping first-appearance order.
type tally struct {
	votes map[phrase.ID]float64
	order []phrase.ID
}

func (t *tally) add(id phrase.ID, w float64) {
	if _, ok := t.votes[id]; !ok {
		t.order = append(t.order, id)
	}
	t.votes[id] += w
}

// vote adds one neighbour's first- and second-order votes to t.
func (v *Voter) vote(t *tally, neighbor embedding.Neighbor) {
	for _, first := range v.SubSpans(neighbor.ID) {
		t.add(first, neighbor.Similarity)
		if v.opts.SecondOrderWeight == 0 {
			continue
		}
		for _, second := range v.SubSpans(first) {
			t.add(second, neighbor.Similarity*v.opts.SecondOrderWeight)
		}
	}
}

// Rank returns the top hypernym candidates for query. An unknown
// vocabulary yields an empty result, not an error.
func (v *Voter) Rank(ctx context.Context, query string) ([]Hypernym, error) {
	vec, err := v.emb.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if embedding.IsZero(vec) {
		return nil, nil
	}
	neighbors, err := v.index.Nearest(ctx, vec, v.opts.Neighbors)
	if err != nil {
		return nil, err
	}
	return v.rankNeighbors(neighbors), nil
}

func (v *Voter) rankNeighbors(neighbors []embedding.Neighbor) []Hypernym {
	t := &tally{votes: make(map[phrase.ID]float64)}
	for _, nb := range neighbors {
		v.vote(t, nb)
	}

	gate := taxonomy.Gate{MinOOF: v.opts.MinOOF}
	kept := make([]phrase.ID, 0, len(t.order))
	for _, id := range t.order {
		e, _ := v.tax.Entry(id)
		if gate.Pass(e) {
			kept = append(kept, id)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return t.votes[kept[i]] > t.votes[kept[j]]
	})
	if len(kept) > v.opts.TopN {
		kept = kept[:v.opts.TopN]
	}

	out := make([]Hypernym, len(kept))
	for i, id := range kept {
		e, _ := v.tax.Entry(id)
		out[i] = Hypernym{
			Hypernym:     e.Phrase,
			Vote:         t.votes[id],
			IsTermManual: e.IsTermManual,
			OOFProbClass: e.OOFProbClass,
		}
	}
	return out
}

// RankAll ranks every query on a bounded worker pool. Results keep input
// order; a query whose ranking fails is logged and left empty.
func (v *Voter) RankAll(ctx context.Context, queries []string) (*Output, error) {
	results := make([]Result, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.Workers)

	for i, q := range queries {
		results[i] = Result{Query: q, Hypernyms: []Hypernym{}}
		g.Go(func() error {
			hyps, err := v.Rank(gctx, q)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				slog.Warn("voting: skipping query", "query", q, "error", err)
				return nil
			}
			if hyps != nil {
				results[i].Hypernyms = hyps
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	withCandidates := 0
	for _, r := range results {
		if len(r.Hypernyms) > 0 {
			withCandidates++
		}
	}
	slog.Info("voting: complete", "queries", len(queries), "with_candidates", withCandidates)
	return &Output{Results: results}, nil
}

// Edges converts rankings into hypernym evidence: each candidate is a
// hypernym of its query.
func (o *Output) Edges() []graph.Edge {
	var edges []graph.Edge
	for _, r := range o.Results {
		for _, h := range r.Hypernyms {
			edges = append(edges, graph.Edge{
				Source:     r.Query,
				Target:     h.Hypernym,
				Type:       graph.Hypernym,
				Confidence: h.Vote,
				Origin:     "voting",
			})
		}
	}
	return edges
}
