package trigger

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/brunobiangulo/thesaurus/corpus"
	"github.com/brunobiangulo/thesaurus/graph"
	"github.com/brunobiangulo/thesaurus/phrase"
	"github.com/brunobiangulo/thesaurus/taxonomy"
)

func entry(p string, manual int, oof float64) taxonomy.Entry {
	return taxonomy.Entry{Phrase: p, IsTermManual: taxonomy.IntPtr(manual), OOFProbClass: taxonomy.FloatPtr(oof)}
}

func newExtractor(entries ...taxonomy.Entry) *Extractor {
	tax := taxonomy.New(phrase.NewTable())
	for _, e := range entries {
		tax.Add(e)
	}
	return New(tax, DefaultOptions())
}

func pairs(rels []Relation) []string {
	out := make([]string, len(rels))
	for i, r := range rels {
		out[i] = r.Subject.Phrase + " > " + r.Predicate.Phrase
	}
	return out
}

func TestWithinSentence(t *testing.T) {
	x := newExtractor(
		entry("свёрточная сеть", 1, 0.9),
		entry("метод глубокого обучения", 1, 0.8),
	)
	c := corpus.New([]corpus.Sentence{{
		DocNum: 1, SentNum: 1,
		NormalizedStr: "Свёрточная сеть это метод глубокого обучения",
		Keys:          []string{"свёрточная сеть", "метод глубокого обучения"},
	}})
	got := pairs(x.ExtractAt(c, 0))
	if len(got) != 1 || got[0] != "свёрточная сеть > метод глубокого обучения" {
		t.Errorf("relations = %v", got)
	}
}

func TestWithinSentenceGapAndGate(t *testing.T) {
	tests := []struct {
		name     string
		sentence string
		keys     []string
		want     int
	}{
		{"subject too far", "сеть очень и очень часто это метод обучения", []string{"сеть", "обучения"}, 0},
		{"predicate too far", "сеть это метод для очень быстрого обучения", []string{"сеть", "обучения"}, 0},
		{"two word gap", "сеть обычно всегда это метод быстрого обучения", []string{"сеть", "обучения"}, 1},
		{"gated subject", "шум это метод обучения", []string{"шум", "обучения"}, 0},
	}
	x := newExtractor(entry("шум", 0, 0.01))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := corpus.New([]corpus.Sentence{{DocNum: 1, SentNum: 1, NormalizedStr: tt.sentence, Keys: tt.keys}})
			if got := x.ExtractAt(c, 0); len(got) != tt.want {
				t.Errorf("relations = %v, want %d", pairs(got), tt.want)
			}
		})
	}
}

func TestFirstTriggerInListOrder(t *testing.T) {
	x := newExtractor()
	c := corpus.New([]corpus.Sentence{{
		DocNum: 1, SentNum: 1,
		NormalizedStr: "сеть это алгоритм поиска и граф это метод кластеризации",
		Keys:          []string{"сеть", "поиска", "граф", "кластеризации"},
	}})
	got := pairs(x.ExtractAt(c, 0))
	for _, p := range got {
		if strings.HasSuffix(p, "> поиска") {
			t.Errorf("second trigger should be ignored: %v", got)
		}
	}
	if len(got) != 2 || got[0] != "поиска > кластеризации" || got[1] != "граф > кластеризации" {
		t.Errorf("relations = %v", got)
	}
}

func TestCrossSentence(t *testing.T) {
	x := newExtractor(
		entry("нейронная сеть", 1, 0.9),
		entry("сеть", 1, 0.9),
		entry("обучения", 1, 0.6),
	)
	c := corpus.New([]corpus.Sentence{
		{DocNum: 1, SentNum: 2, NormalizedStr: "да это метод обучения", OriginalStr: "Да, это метод обучения.",
			Keys: []string{"обучения"}},
		{DocNum: 1, SentNum: 1, NormalizedStr: "мы используем нейронная сеть", OriginalStr: "Мы используем нейронную сеть.",
			Keys: []string{"сеть", "нейронная сеть"}},
	})
	rels := x.ExtractAt(c, 1)
	if len(rels) != 1 {
		t.Fatalf("relations = %v", pairs(rels))
	}
	if rels[0].Subject.Phrase != "нейронная сеть" || rels[0].Predicate.Phrase != "обучения" {
		t.Errorf("relation = %v", pairs(rels))
	}
	if rels[0].PrevSentence == nil || rels[0].PrevSentence.SentNum != 1 {
		t.Errorf("missing previous sentence snapshot: %+v", rels[0])
	}
}

func TestCrossSentenceSkips(t *testing.T) {
	x := newExtractor(entry("обучения", 0, 0.12))
	tests := []struct {
		name      string
		sentences []corpus.Sentence
	}{
		{"latin first word", []corpus.Sentence{
			{DocNum: 1, SentNum: 1, NormalizedStr: "модель", Keys: []string{"модель"}},
			{DocNum: 1, SentNum: 2, NormalizedStr: "это метод анализа", OriginalStr: "SVM это метод анализа", Keys: []string{"анализа"}},
		}},
		{"other document", []corpus.Sentence{
			{DocNum: 1, SentNum: 9, NormalizedStr: "модель", Keys: []string{"модель"}},
			{DocNum: 2, SentNum: 1, NormalizedStr: "это метод анализа", OriginalStr: "Это метод анализа", Keys: []string{"анализа"}},
		}},
		{"predicate gate", []corpus.Sentence{
			{DocNum: 1, SentNum: 1, NormalizedStr: "модель", Keys: []string{"модель"}},
			{DocNum: 1, SentNum: 2, NormalizedStr: "это метод обучения", OriginalStr: "Это метод обучения", Keys: []string{"обучения"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := corpus.New(tt.sentences)
			if got := x.ExtractAt(c, 1); len(got) != 0 {
				t.Errorf("relations = %v", pairs(got))
			}
		})
	}
}

func TestTopTwo(t *testing.T) {
	x := newExtractor(
		entry("альфа бета гамма", 1, 0.2),
		entry("бета гамма", 1, 0.5),
		entry("гамма", 1, 0.9),
		entry("дельта", 1, 0.5),
	)
	c := corpus.New([]corpus.Sentence{{
		DocNum: 1, SentNum: 1,
		NormalizedStr: "альфа бета гамма это метод дельта",
		Keys:          []string{"альфа бета гамма", "бета гамма", "гамма", "дельта"},
	}})
	got := pairs(x.ExtractAt(c, 0))
	want := []string{"гамма > дельта", "бета гамма > дельта"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("relations = %v, want %v", got, want)
	}
}

func TestExtractOutput(t *testing.T) {
	x := newExtractor()
	c := corpus.New([]corpus.Sentence{
		{DocNum: 1, SentNum: 1, NormalizedStr: "граф это концепция математики", Keys: []string{"граф", "математики"}},
		{DocNum: 1, SentNum: 2, NormalizedStr: "без триггера", Keys: []string{"триггера"}},
	})
	out := x.Extract(c)
	if len(out.Sentences) != 1 {
		t.Fatalf("sentences = %+v", out.Sentences)
	}

	data, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"is-a"`, `"docNum":1`, `"subject"`, `"predicate"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("output missing %s: %s", field, data)
		}
	}
	if strings.Contains(string(data), "prev_sentence") {
		t.Errorf("within-sentence relation should not carry a snapshot: %s", data)
	}

	edges := out.Edges()
	if len(edges) != 1 || edges[0].Source != "граф" || edges[0].Target != "математики" || edges[0].Type != graph.Hypernym {
		t.Errorf("edges = %+v", edges)
	}
}
