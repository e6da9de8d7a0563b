package eval

import (
	"math"
	"testing"

	"github.com/brunobiangulo/thesaurus/graph"
	"github.com/brunobiangulo/thesaurus/phrase"
	"github.com/brunobiangulo/thesaurus/synonyms"
)

func testGraph() *graph.Graph {
	return graph.FromEntries(phrase.NewTable(), []graph.Entry{
		{Key: "нейронная сеть", Phrases: []graph.Target{
			{Phrase: "сеть", Flags: graph.FlagsOf(graph.Hypernym)},
			{Phrase: "нейросеть", Flags: graph.FlagsOf(graph.Synonym)},
			{Phrase: "граф", Flags: graph.FlagsOf(graph.Related)},
		}},
	})
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEvaluate(t *testing.T) {
	gold := []synonyms.Labelled{
		{Key: "Нейронная  сеть", Phrases: []synonyms.LabelledPhrase{
			{Phrase: "сеть", Relation: "is_hypernym"},   // hit
			{Phrase: "нейросеть", Relation: "synonym"},  // hit
			{Phrase: "граф", Relation: "not_related"},   // false related
			{Phrase: "перцептрон", Relation: "hyponym"}, // missed
			{Phrase: "сеть", Relation: "synonym"},       // duplicate, ignored
			{Phrase: "кошка", Relation: "not_related"},  // correct absence
			{Phrase: "модель", Relation: "meronym"},     // unparseable, skipped
		}},
	}

	r := Evaluate(testGraph(), gold)
	if r.Pairs != 5 || r.Correct != 3 {
		t.Fatalf("pairs/correct = %d/%d, want 5/3", r.Pairs, r.Correct)
	}
	if !almost(r.Accuracy, 0.6) {
		t.Errorf("accuracy = %v, want 0.6", r.Accuracy)
	}

	tests := []struct {
		rel                      graph.Relation
		support, predicted, hits int
		f1                       float64
	}{
		{graph.Hypernym, 1, 1, 1, 1},
		{graph.Synonym, 1, 1, 1, 1},
		{graph.Related, 0, 1, 0, 0},
		{graph.Hyponym, 1, 0, 0, 0},
	}
	for _, tt := range tests {
		m, ok := r.Relations[tt.rel]
		if !ok {
			t.Errorf("%s: missing metrics", tt.rel)
			continue
		}
		if m.Support != tt.support || m.Predicted != tt.predicted || m.Hits != tt.hits || !almost(m.F1, tt.f1) {
			t.Errorf("%s: metrics = %+v", tt.rel, m)
		}
	}
	if len(r.Relations) != 4 || !almost(r.MacroF1, 0.5) {
		t.Errorf("macro F1 = %v over %d relations, want 0.5 over 4", r.MacroF1, len(r.Relations))
	}

	if len(r.Errors) != 2 {
		t.Fatalf("errors = %+v", r.Errors)
	}
	// Sorted by expected label: "" (none) before hyponym.
	if r.Errors[0].Phrase != "граф" || r.Errors[0].Predicted != graph.Related {
		t.Errorf("first error = %+v", r.Errors[0])
	}
	if r.Errors[1].Expected != graph.Hyponym || r.Errors[1].Predicted != graph.None {
		t.Errorf("second error = %+v", r.Errors[1])
	}
}

func TestEvaluateEmptyGold(t *testing.T) {
	r := Evaluate(testGraph(), nil)
	if r.Pairs != 0 || r.Accuracy != 0 || r.MacroF1 != 0 || len(r.Errors) != 0 {
		t.Errorf("report = %+v", r)
	}
}
