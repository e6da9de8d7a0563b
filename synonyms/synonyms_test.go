package synonyms

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/thesaurus/embedding"
	"github.com/brunobiangulo/thesaurus/graph"
	"github.com/brunobiangulo/thesaurus/phrase"
	"github.com/brunobiangulo/thesaurus/taxonomy"
)

func entry(p string, manual int, oof float64) taxonomy.Entry {
	return taxonomy.Entry{Phrase: p, IsTermManual: taxonomy.IntPtr(manual), OOFProbClass: taxonomy.FloatPtr(oof)}
}

func newTaxonomy(entries ...taxonomy.Entry) *taxonomy.Taxonomy {
	tax := taxonomy.New(phrase.NewTable())
	for _, e := range entries {
		tax.Add(e)
	}
	return tax
}

func TestDecodeFormats(t *testing.T) {
	opts := DefaultOptions()
	tests := []struct {
		name   string
		format Format
		data   string
		want   int
		check  func(t *testing.T, r Record)
	}{
		{
			name:   "neighbors",
			format: FormatNeighbors,
			data: `{"машинное обучение": {"key": "машинное обучение", "is_term_manual": 1, "oof_prob_class": 0.9,
				"synonyms": [{"key": "машинный обучение", "is_term_manual": 0, "oof_prob_class": 0.2}]}}`,
			want: 1,
			check: func(t *testing.T, r Record) {
				if len(r.Synonyms) != 1 || r.Synonyms[0] != "машинный обучение" {
					t.Errorf("synonyms = %v", r.Synonyms)
				}
			},
		},
		{
			name:   "neighbors filtered",
			format: FormatNeighbors,
			data: `{"шум": {"key": "шум", "is_term_manual": 0, "oof_prob_class": 0.1,
				"synonyms": [{"key": "помеха", "is_term_manual": 0, "oof_prob_class": 0.3}]}}`,
			want: 0,
		},
		{
			name:   "paraphrase",
			format: FormatParaphrase,
			data: `{"граф знаний": {"key": "граф знаний", "is_term_manual": 0, "oof_prob_class": 0.1,
				"top_paraphrases": ["граф знания", "граф"],
				"found_in_data": [{"key": "онтология", "is_term_manual": 1, "oof_prob_class": 0.8}]}}`,
			want: 1,
			check: func(t *testing.T, r Record) {
				if len(r.UsageVariants) != 1 || r.UsageVariants[0] != "граф знания" {
					t.Errorf("usage variants = %v", r.UsageVariants)
				}
				if len(r.Synonyms) != 1 || r.Synonyms[0] != "онтология" {
					t.Errorf("synonyms = %v", r.Synonyms)
				}
			},
		},
		{
			name:   "masked",
			format: FormatMasked,
			data: `{"быстрый поиск": {"key": "быстрый поиск", "is_term_manual": 1, "oof_prob_class": 0.7,
				"synonyms": [{"new_phrase": "скорый поиск", "similarity_for_masked_word": 0.7},
				             {"new_phrase": "долгий поиск", "similarity_for_masked_word": 0.3}]}}`,
			want: 1,
			check: func(t *testing.T, r Record) {
				if len(r.Synonyms) != 1 || r.Synonyms[0] != "скорый поиск" {
					t.Errorf("synonyms = %v", r.Synonyms)
				}
				if len(r.SimilarPhrases) != 1 || r.SimilarPhrases[0] != "долгий поиск" {
					t.Errorf("similar = %v", r.SimilarPhrases)
				}
			},
		},
		{
			name:   "usage variants",
			format: FormatUsage,
			data: `[{"phrase": "нейронная сеть", "is_term_manual": 1, "oof_prob_class": 0.9,
				"usage_variants": [{"phrase": "глубокая нейронная сеть", "is_term_manual": 1, "oof_prob_class": 0.8}]}]`,
			want: 1,
			check: func(t *testing.T, r Record) {
				if r.Key != "нейронная сеть" || len(r.UsageVariants) != 1 {
					t.Errorf("record = %+v", r)
				}
			},
		},
		{
			name:   "unified",
			format: FormatUnified,
			data:   `[{"key": "a", "synonyms": ["b"], "usage_variants": [], "similar_phrases": []}]`,
			want:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := Decode([]byte(tt.data), tt.format, opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(recs) != tt.want {
				t.Fatalf("records = %+v, want %d", recs, tt.want)
			}
			if tt.check != nil {
				tt.check(t, recs[0])
			}
		})
	}

	if _, err := Decode([]byte(`[]`), "bogus", opts); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestMerge(t *testing.T) {
	a := []Record{{
		Key: "Граф", IsTermManual: taxonomy.IntPtr(0), OOFProbClass: taxonomy.FloatPtr(0.3),
		Synonyms: []string{"сеть"}, UsageVariants: []string{"граф знаний"},
	}}
	b := []Record{
		{Key: "граф", IsTermManual: taxonomy.IntPtr(1), OOFProbClass: taxonomy.FloatPtr(0.2),
			Synonyms: []string{"Сеть", "диаграмма"}, SimilarPhrases: []string{"дерево"}},
		{Key: "дерево", OOFProbClass: taxonomy.FloatPtr(0.5)},
	}
	got := Merge(a, b)
	if len(got) != 2 {
		t.Fatalf("merged = %+v", got)
	}
	g := got[0]
	if g.Key != "Граф" || *g.IsTermManual != 1 || *g.OOFProbClass != 0.3 {
		t.Errorf("merged metadata = %+v", g)
	}
	if len(g.Synonyms) != 2 || g.Synonyms[0] != "сеть" || g.Synonyms[1] != "диаграмма" {
		t.Errorf("synonyms = %v", g.Synonyms)
	}
	if len(g.UsageVariants) != 1 || len(g.SimilarPhrases) != 1 {
		t.Errorf("lists = %+v", g)
	}
	if got[1].IsTermManual != nil {
		t.Errorf("missing manual should stay missing: %+v", got[1])
	}

	edges := Edges(got)
	counts := map[graph.Relation]int{}
	for _, e := range edges {
		counts[e.Type]++
	}
	if counts[graph.Synonym] != 2 || counts[graph.UsageVariant] != 1 || counts[graph.Related] != 1 {
		t.Errorf("edge counts = %v", counts)
	}
}

func TestUsageVariants(t *testing.T) {
	tax := newTaxonomy(
		entry("нейронная сеть", 1, 0.9),
		entry("глубокая нейронная сеть", 1, 0.8),
		entry("нейронная сеть прямого распространения", 1, 0.7),
		entry("нейронная сетка для рыбы", 0, 0.1),
		entry("граф знаний", 1, 0.9),
		entry("сеть", 1, 0.9),
	)
	groups, err := UsageVariants(context.Background(), tax, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 {
		t.Fatalf("groups = %+v", groups)
	}
	g := groups[0]
	if g.Phrase != "нейронная сеть" || len(g.UsageVariants) != 2 {
		t.Errorf("group = %+v", g)
	}
	if g.UsageVariants[0].Phrase != "глубокая нейронная сеть" {
		t.Errorf("variants not in taxonomy order: %+v", g.UsageVariants)
	}
	rec := g.Record()
	if rec.Key != "нейронная сеть" || len(rec.UsageVariants) != 2 {
		t.Errorf("record = %+v", rec)
	}
}

type stubEmbedder map[string][]float32

func (s stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "сломанный" {
		return nil, errors.New("backend down")
	}
	return s[text], nil
}

func TestNeighbors(t *testing.T) {
	tax := newTaxonomy(
		entry("машинное обучение", 1, 0.9),
		entry("машинный обучение", 0, 0.2),
		entry("граф", 1, 0.9),
		entry("сломанный", 1, 0.9),
	)
	vecs := stubEmbedder{
		"машинное обучение": {1, 0},
		"машинный обучение": {0.95, 0.05},
		"граф":              {0, 1},
	}
	index := embedding.NewMemoryIndex()
	for _, id := range tax.IDs() {
		index.Add(id, vecs[tax.Phrases().Display(id)])
	}

	recs, err := Neighbors(context.Background(), tax, vecs, index, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].Key != "машинное обучение" || len(recs[0].Synonyms) != 1 || recs[0].Synonyms[0] != "машинный обучение" {
		t.Errorf("first = %+v", recs[0])
	}
}

func TestSetRelationAndLabelledEdges(t *testing.T) {
	list, changed := SetRelation(nil, "метод", "градиентный метод", graph.Hyponym)
	if !changed || len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list[1].Key != "градиентный метод" || list[1].Phrases[0].Relation != "hypernym" {
		t.Errorf("inverse not recorded: %+v", list[1])
	}
	if _, changed = SetRelation(list, "Метод", "градиентный  метод", graph.Hyponym); changed {
		t.Error("same label should not report a change")
	}
	list, changed = SetRelation(list, "метод", "градиентный метод", graph.Related)
	if !changed || list[0].Phrases[0].Relation != "related" || list[1].Phrases[0].Relation != "related" {
		t.Errorf("update failed: %+v", list)
	}

	list = append(list, Labelled{Key: "x", Phrases: []LabelledPhrase{
		{Phrase: "X", Relation: "synonym"},
		{Phrase: "y", Relation: "cousin"},
		{Phrase: "z", Relation: "is_hypernym"},
	}})
	path := filepath.Join(t.TempDir(), "manual.json")
	if err := SaveLabelled(path, list); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadLabelled(path)
	if err != nil {
		t.Fatal(err)
	}
	edges := LabelledEdges(loaded)
	if len(edges) != 3 {
		t.Fatalf("edges = %+v", edges)
	}
	last := edges[2]
	if last.Source != "x" || last.Target != "z" || last.Type != graph.Hypernym || last.Origin != "manual" {
		t.Errorf("last edge = %+v", last)
	}
}

func TestSaveLabelledConcurrentReads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manual.json")

	var list []Labelled
	for i := range 200 {
		list, _ = SetRelation(list, fmt.Sprintf("ключ %d", i), fmt.Sprintf("фраза %d", i), graph.Synonym)
	}
	if err := SaveLabelled(path, list[:2]); err != nil {
		t.Fatal(err)
	}

	var g errgroup.Group
	g.Go(func() error {
		for i := range 50 {
			if err := SaveLabelled(path, list[:2+i*4]); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for range 200 {
			if _, err := LoadLabelled(path); err != nil {
				return err
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("reader saw a partial file: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory holds %d files, want only the labelled file", len(entries))
	}
}
