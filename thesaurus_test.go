//go:build cgo

package thesaurus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/brunobiangulo/thesaurus/graph"
	"github.com/brunobiangulo/thesaurus/llm"
	"github.com/brunobiangulo/thesaurus/synonyms"
)

const testTaxonomy = `[
	{"key": "нейронная сеть", "is_term_manual": 1, "oof_prob_class": 0.9},
	{"key": "глубокая нейронная сеть", "is_term_manual": 1, "oof_prob_class": 0.8},
	{"key": "сеть", "is_term_manual": 1, "oof_prob_class": 0.9},
	{"key": "метод", "is_term_manual": 1, "oof_prob_class": 0.7},
	{"key": "метод оптимизация", "is_term_manual": 1, "oof_prob_class": 0.6},
	{"key": "оптимизация", "is_term_manual": 1, "oof_prob_class": 0.8}
]`

const testCorpus = `{"sentences": [
	{"docNum": 1, "sentNum": 2, "normalizedStr": "сеть глубокая нейронная сеть",
	 "originalStr": "Сеть: глубокая нейронная сеть.", "keys": ["сеть", "глубокая нейронная сеть"]},
	{"docNum": 1, "sentNum": 1, "normalizedStr": "глубокая нейронная сеть это метод оптимизация",
	 "originalStr": "Глубокая нейронная сеть это метод оптимизации.",
	 "keys": ["глубокая нейронная сеть", "метод оптимизация"]}
]}`

const testVectors = `6 3
нейронная 1 0 0
сеть 0 1 0
глубокая 0.9 0.1 0
метод 0 0 1
оптимизация 0 0.2 1
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// nliServer answers every classification request with a confident
// entailment and counts the calls.
func nliServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `[{"label":"entailment","score":0.9},{"label":"contradiction","score":0.05},{"label":"neutral","score":0.05}]`)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(dir, "thesaurus.db")
	cfg.ArtifactDir = filepath.Join(dir, "artifacts")
	cfg.TaxonomyPath = writeFile(t, dir, "taxonomy.json", testTaxonomy)
	cfg.CorpusPath = writeFile(t, dir, "corpus.json", testCorpus)
	cfg.VectorsPath = writeFile(t, dir, "words.vec", testVectors)
	cfg.LabelledPath = filepath.Join(dir, "manual.json")
	cfg.EmbeddingDim = 3
	cfg.Embedding = llm.Config{}
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) Engine {
	t.Helper()
	eng, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func hasTarget(targets []graph.Target, text string, rel graph.Relation) bool {
	for _, tg := range targets {
		if tg.Phrase == text && tg.Relation() == rel {
			return true
		}
	}
	return false
}

func TestPipeline(t *testing.T) {
	cfg := testConfig(t)
	srv, calls := nliServer(t)
	cfg.Classifier = llm.ClassifierConfig{Kind: "nli", Endpoint: llm.Config{BaseURL: srv.URL}}
	eng := newTestEngine(t, cfg)
	ctx := context.Background()

	vote, err := eng.Vote(ctx)
	if err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if vote.Edges == 0 || vote.Artifact == "" {
		t.Errorf("vote run = %+v", vote)
	}

	entail, err := eng.Entail(ctx)
	if err != nil {
		t.Fatalf("Entail: %v", err)
	}
	if entail.Edges != 2 {
		t.Errorf("entailment edges = %d, want 2", entail.Edges)
	}
	if n := calls.Load(); n != 6 {
		t.Errorf("classifier calls = %d, want 2 pairs x 3 templates", n)
	}

	trig, err := eng.Triggers(ctx)
	if err != nil {
		t.Fatalf("Triggers: %v", err)
	}
	if trig.Edges != 1 {
		t.Errorf("trigger edges = %d, want 1", trig.Edges)
	}

	usage, err := eng.UsageVariants(ctx)
	if err != nil {
		t.Fatalf("UsageVariants: %v", err)
	}
	if usage.Edges != 1 {
		t.Errorf("usage variant edges = %d, want 1", usage.Edges)
	}

	changed, err := eng.SetRelation("метод", "метод оптимизация", graph.Hyponym)
	if err != nil || !changed {
		t.Fatalf("SetRelation = %v, %v", changed, err)
	}

	merged, err := eng.Merge(ctx)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	data, err := os.ReadFile(merged.Artifact)
	if err != nil {
		t.Fatal(err)
	}
	var entries []graph.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("merged artifact: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("merged artifact is empty")
	}

	targets, err := eng.Relations(ctx, "Глубокая нейронная сеть")
	if err != nil {
		t.Fatal(err)
	}
	if !hasTarget(targets, "сеть", graph.Hypernym) {
		t.Errorf("сеть should be a hypernym: %+v", targets)
	}
	if !hasTarget(targets, "нейронная сеть", graph.UsageVariant) {
		t.Errorf("нейронная сеть should be a usage variant: %+v", targets)
	}
	targets, err = eng.Relations(ctx, "метод")
	if err != nil {
		t.Fatal(err)
	}
	if !hasTarget(targets, "метод оптимизация", graph.Hyponym) {
		t.Errorf("manual label lost: %+v", targets)
	}

	levels, err := eng.Hypernyms(ctx, "глубокая нейронная сеть", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(levels) == 0 || !slices.Contains(levels[0].Phrases, "сеть") {
		t.Errorf("hypernym levels = %+v", levels)
	}

	stats, err := eng.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Graph == nil || stats.Graph.Keys == 0 || stats.Store.Runs != 5 || stats.Store.Phrases != 6 {
		t.Errorf("stats = %+v", stats)
	}

	gold := writeFile(t, t.TempDir(), "gold.json", `[
		{"key": "глубокая нейронная сеть", "phrases": [
			{"phrase": "сеть", "relation": "is_hypernym"},
			{"phrase": "кошка", "relation": "not_related"}
		]}
	]`)
	report, err := eng.Evaluate(ctx, gold)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.Pairs != 2 || report.Correct != 2 || report.Relations[graph.Hypernym].F1 != 1 {
		t.Errorf("report = %+v", report)
	}
	if _, err := eng.Evaluate(ctx, ""); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("empty gold path err = %v", err)
	}

	// A manual not_related removes the usage-variant pair found above.
	if _, err := eng.SetRelation("нейронная сеть", "глубокая нейронная сеть", graph.NotRelated); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Merge(ctx); err != nil {
		t.Fatalf("second Merge: %v", err)
	}
	targets, err = eng.Relations(ctx, "глубокая нейронная сеть")
	if err != nil {
		t.Fatal(err)
	}
	for _, tg := range targets {
		if tg.Phrase == "нейронная сеть" {
			t.Errorf("not_related pair survived merge as %s", tg.Relation())
		}
	}
	if !hasTarget(targets, "сеть", graph.Hypernym) {
		t.Errorf("unlabelled pair lost: %+v", targets)
	}
}

func TestReopenServesStoredGraph(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first := newTestEngine(t, cfg)
	if _, err := first.UsageVariants(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := first.Merge(ctx); err != nil {
		t.Fatal(err)
	}
	first.Close()

	cfg.TaxonomyPath = ""
	cfg.CorpusPath = ""
	second := newTestEngine(t, cfg)
	targets, err := second.Relations(ctx, "нейронная сеть")
	if err != nil {
		t.Fatal(err)
	}
	if !hasTarget(targets, "глубокая нейронная сеть", graph.UsageVariant) {
		t.Errorf("targets = %+v", targets)
	}
	if _, err := second.Relations(ctx, "граф"); !errors.Is(err, ErrUnknownPhrase) {
		t.Errorf("unknown phrase err = %v", err)
	}
	if _, err := second.UsageVariants(ctx); err != nil {
		t.Errorf("taxonomy should load from the store: %v", err)
	}
}

func TestSmallerTaxonomyOnReusedDB(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first := newTestEngine(t, cfg)
	if _, err := first.Vote(ctx); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	first.Close()

	cfg.TaxonomyPath = writeFile(t, t.TempDir(), "small.json", `[
		{"key": "сеть", "is_term_manual": 1, "oof_prob_class": 0.9},
		{"key": "метод", "is_term_manual": 1, "oof_prob_class": 0.7},
		{"key": "оптимизация", "is_term_manual": 1, "oof_prob_class": 0.8}
	]`)
	second := newTestEngine(t, cfg).(*engine)
	tax, err := second.taxonomy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	emb, err := second.embedder()
	if err != nil {
		t.Fatal(err)
	}
	index, err := second.neighborIndex(ctx, tax, emb)
	if err != nil {
		t.Fatal(err)
	}
	vec, err := emb.Embed(ctx, "нейронная сеть")
	if err != nil {
		t.Fatal(err)
	}
	hits, err := index.Nearest(ctx, vec, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d neighbours, want 3", len(hits))
	}
	for _, h := range hits {
		if !tax.Has(h.ID) {
			t.Errorf("neighbour %q is not in the taxonomy", tax.Phrases().Display(h.ID))
		}
	}

	stats, err := second.store.DBStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Phrases != 3 || stats.Embeddings != 3 {
		t.Errorf("stats = %+v, want 3 phrases and 3 embeddings", stats)
	}
}

func TestNeighborsMemoryIndex(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index = "memory"
	eng := newTestEngine(t, cfg)

	run, err := eng.Neighbors(context.Background())
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	data, err := os.ReadFile(run.Artifact)
	if err != nil {
		t.Fatal(err)
	}
	var recs []synonyms.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, r := range recs {
		if r.Key == "нейронная сеть" && slices.Contains(r.Synonyms, "глубокая нейронная сеть") {
			found = true
		}
	}
	if !found || run.Edges == 0 {
		t.Errorf("records = %+v", recs)
	}
}

func TestSynonymSources(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	cfg.SynonymSources = []synonyms.Source{
		{Path: writeFile(t, dir, "a.json", `[{"key": "сеть", "is_term_manual": 1, "synonyms": ["граф"]}]`), Format: synonyms.FormatUnified},
		{Path: writeFile(t, dir, "b.json", `[{"key": "Сеть", "synonyms": ["граф", "network"], "similar_phrases": ["дерево"]}]`), Format: synonyms.FormatUnified},
	}
	eng := newTestEngine(t, cfg)

	run, err := eng.Synonyms(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if run.Edges != 3 {
		t.Errorf("edges = %d, want 3", run.Edges)
	}
}

func TestEngineErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := New(Config{DBPath: filepath.Join(t.TempDir(), "x.db"), Index: "faiss"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("bad index err = %v", err)
	}

	empty := newTestEngine(t, Config{DBPath: filepath.Join(t.TempDir(), "empty.db")})
	if _, err := empty.Triggers(ctx); !errors.Is(err, ErrTaxonomyUnavailable) {
		t.Errorf("Triggers err = %v, want ErrTaxonomyUnavailable", err)
	}
	if _, err := empty.Relations(ctx, "сеть"); !errors.Is(err, ErrNoGraph) {
		t.Errorf("Relations err = %v, want ErrNoGraph", err)
	}
	if _, err := empty.SetRelation("a", "b", graph.Synonym); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("SetRelation err = %v, want ErrInvalidConfig", err)
	}
	if _, err := empty.Synonyms(ctx); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Synonyms err = %v, want ErrInvalidConfig", err)
	}
	if _, err := empty.Merge(ctx); !errors.Is(err, ErrNoEvidence) {
		t.Errorf("Merge err = %v, want ErrNoEvidence", err)
	}
	stats, err := empty.Stats(ctx)
	if err != nil || stats.Graph != nil || stats.Store.Runs != 1 {
		t.Errorf("stats = %+v, %v", stats, err)
	}

	cfg := testConfig(t)
	cfg.VectorsPath = ""
	eng := newTestEngine(t, cfg)
	if _, err := eng.Vote(ctx); !errors.Is(err, ErrEmbedderUnavailable) {
		t.Errorf("Vote err = %v, want ErrEmbedderUnavailable", err)
	}
	if _, err := eng.SetRelation("сеть", " Сеть ", graph.Synonym); !errors.Is(err, ErrInvalidRelation) {
		t.Errorf("self relation err = %v", err)
	}
	if _, err := eng.SetRelation("сеть", "граф", graph.None); !errors.Is(err, ErrInvalidRelation) {
		t.Errorf("empty label err = %v", err)
	}
	cfg.Classifier = llm.ClassifierConfig{Kind: "nli"}
	noClf := newTestEngine(t, cfg)
	if _, err := noClf.Entail(ctx); !errors.Is(err, ErrClassifierUnavailable) {
		t.Errorf("Entail err = %v, want ErrClassifierUnavailable", err)
	}
}
