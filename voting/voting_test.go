package voting

import (
	"context"
	"errors"
	"math"
	"testing"

	"pgregory.net/rapid"

	"github.com/brunobiangulo/thesaurus/embedding"
	"github.com/brunobiangulo/thesaurus/graph"
	"github.com/brunobiangulo/thesaurus/phrase"
	"github.com/brunobiangulo/thesaurus/taxonomy"
)

type stubEmbedder map[string][]float32

func (s stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s[text]; ok {
		return v, nil
	}
	return nil, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("backend down")
}

// fixedIndex returns the same neighbours for every query.
type fixedIndex struct {
	tax  *taxonomy.Taxonomy
	hits map[string]float64
	keys []string
}

func (f fixedIndex) Nearest(_ context.Context, _ []float32, k int) ([]embedding.Neighbor, error) {
	var out []embedding.Neighbor
	for _, key := range f.keys {
		id, _ := f.tax.Phrases().Lookup(key)
		out = append(out, embedding.Neighbor{ID: id, Similarity: f.hits[key]})
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func newTaxonomy(entries ...taxonomy.Entry) *taxonomy.Taxonomy {
	tax := taxonomy.New(phrase.NewTable())
	for _, e := range entries {
		tax.Add(e)
	}
	return tax
}

func term(p string) taxonomy.Entry {
	return taxonomy.Entry{Phrase: p, IsTermManual: taxonomy.IntPtr(1), OOFProbClass: taxonomy.FloatPtr(0.9)}
}

func TestRankScenario(t *testing.T) {
	tax := newTaxonomy(term("neural network"), term("network"), term("convolutional neural network"))
	idx := fixedIndex{tax: tax, keys: []string{"convolutional neural network"},
		hits: map[string]float64{"convolutional neural network": 0.9}}
	v := New(tax, stubEmbedder{"convolutional neural network": {1, 0}}, idx, DefaultOptions())

	got, err := v.Rank(context.Background(), "convolutional neural network")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %+v", got)
	}
	// network: first-order 0.9 plus second-order 0.45 via "neural network".
	if got[0].Hypernym != "network" || math.Abs(got[0].Vote-1.35) > 1e-9 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Hypernym != "neural network" || math.Abs(got[1].Vote-0.9) > 1e-9 {
		t.Errorf("second = %+v", got[1])
	}
	if got[0].IsTermManual == nil || *got[0].IsTermManual != 1 {
		t.Errorf("metadata missing: %+v", got[0])
	}
}

func TestRankZeroSecondOrderWeight(t *testing.T) {
	tax := newTaxonomy(term("neural network"), term("network"), term("convolutional neural network"))
	idx := fixedIndex{tax: tax, keys: []string{"convolutional neural network"},
		hits: map[string]float64{"convolutional neural network": 0.9}}
	opts := DefaultOptions()
	opts.SecondOrderWeight = 0
	v := New(tax, stubEmbedder{"q": {1, 0}}, idx, opts)

	got, err := v.Rank(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %+v", got)
	}
	// Only first-order votes count: both sub-spans tie at the neighbour's similarity.
	for _, c := range got {
		if math.Abs(c.Vote-0.9) > 1e-9 {
			t.Errorf("%s vote = %v, want 0.9", c.Hypernym, c.Vote)
		}
	}

	opts.SecondOrderWeight = -1
	if w := New(tax, nil, nil, opts).opts.SecondOrderWeight; w != DefaultOptions().SecondOrderWeight {
		t.Errorf("negative weight = %v, want default", w)
	}
}

func TestRankGateAndTopN(t *testing.T) {
	tax := newTaxonomy(
		term("a b c d"),
		taxonomy.Entry{Phrase: "a", IsTermManual: taxonomy.IntPtr(0), OOFProbClass: taxonomy.FloatPtr(0.01)},
		taxonomy.Entry{Phrase: "b", IsTermManual: taxonomy.IntPtr(0), OOFProbClass: taxonomy.FloatPtr(0.2)},
		term("c"),
		term("d"),
	)
	idx := fixedIndex{tax: tax, keys: []string{"a b c d"}, hits: map[string]float64{"a b c d": 1}}
	opts := DefaultOptions()
	opts.TopN = 2
	v := New(tax, stubEmbedder{"q": {1}}, idx, opts)

	got, err := v.Rank(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %+v", got)
	}
	// Equal votes keep first-appearance order; "a" is gated out.
	if got[0].Hypernym != "b" || got[1].Hypernym != "c" {
		t.Errorf("got %s, %s", got[0].Hypernym, got[1].Hypernym)
	}
}

func TestRankUnknownVocabulary(t *testing.T) {
	tax := newTaxonomy(term("x y"), term("x"))
	idx := fixedIndex{tax: tax, keys: []string{"x y"}, hits: map[string]float64{"x y": 1}}
	v := New(tax, stubEmbedder{"zero": {0, 0}}, idx, DefaultOptions())
	for _, q := range []string{"unknown", "zero"} {
		got, err := v.Rank(context.Background(), q)
		if err != nil || len(got) != 0 {
			t.Errorf("Rank(%q) = %v, %v; want empty", q, got, err)
		}
	}
}

func TestSubSpans(t *testing.T) {
	tax := newTaxonomy(term("a b c"), term("a b"), term("b c"), term("b"), term("x"))
	v := New(tax, nil, nil, DefaultOptions())
	id, _ := tax.Phrases().Lookup("a b c")
	var got []string
	for _, s := range v.SubSpans(id) {
		got = append(got, tax.Phrases().Display(s))
	}
	want := []string{"a b", "b", "b c"}
	if len(got) != len(want) {
		t.Fatalf("spans = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("spans = %v, want %v", got, want)
		}
	}
	bid, _ := tax.Phrases().Lookup("b")
	if spans := v.SubSpans(bid); len(spans) != 0 {
		t.Errorf("single token has no strictly shorter spans: %v", spans)
	}
}

func TestRankAllKeepsOrderAndSkipsFailures(t *testing.T) {
	tax := newTaxonomy(term("a b"), term("b"))
	idx := fixedIndex{tax: tax, keys: []string{"a b"}, hits: map[string]float64{"a b": 0.8}}
	v := New(tax, stubEmbedder{"q1": {1}, "q3": {1}}, idx, DefaultOptions())

	out, err := v.RankAll(context.Background(), []string{"q1", "q2", "q3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 3 || out.Results[1].Query != "q2" {
		t.Fatalf("results = %+v", out.Results)
	}
	if len(out.Results[0].Hypernyms) != 1 || len(out.Results[1].Hypernyms) != 0 {
		t.Errorf("results = %+v", out.Results)
	}

	edges := out.Edges()
	if len(edges) != 2 || edges[0].Type != graph.Hypernym || edges[0].Source != "q1" || edges[0].Target != "b" {
		t.Errorf("edges = %+v", edges)
	}

	broken := New(tax, failingEmbedder{}, idx, DefaultOptions())
	out, err = broken.RankAll(context.Background(), []string{"q1"})
	if err != nil {
		t.Fatalf("per-query failure should be skipped, got %v", err)
	}
	if len(out.Results[0].Hypernyms) != 0 {
		t.Errorf("failed query should be empty")
	}
}

func TestDecayAndDeterminismProperty(t *testing.T) {
	tax := newTaxonomy(term("a b c"), term("a b"), term("b"))
	v := New(tax, nil, nil, DefaultOptions())
	id, _ := tax.Phrases().Lookup("a b c")

	rapid.Check(t, func(rt *rapid.T) {
		sim := rapid.Float64Range(0.01, 1).Draw(rt, "sim")
		nb := []embedding.Neighbor{{ID: id, Similarity: sim}}

		first := v.rankNeighbors(nb)
		again := v.rankNeighbors(nb)
		if len(first) != 2 || len(again) != 2 {
			rt.Fatalf("got %+v", first)
		}
		for i := range first {
			if first[i].Hypernym != again[i].Hypernym || first[i].Vote != again[i].Vote {
				rt.Fatalf("non-deterministic: %+v vs %+v", first, again)
			}
		}
		votes := map[string]float64{}
		for _, h := range first {
			votes[h.Hypernym] = h.Vote
		}
		// "b" is first-order from "a b c" and second-order through "a b".
		if math.Abs(votes["a b"]-sim) > 1e-12 {
			rt.Fatalf("first-order vote %v, want %v", votes["a b"], sim)
		}
		if math.Abs(votes["b"]-sim-sim/2) > 1e-12 {
			rt.Fatalf("second-order contribution %v, want %v", votes["b"]-sim, sim/2)
		}
	})
}
