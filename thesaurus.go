// Package thesaurus induces lexical-semantic relations among terminology
// phrases from several noisy evidence sources and merges them into one
// symmetric relation graph with a single label per phrase pair.
package thesaurus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/thesaurus/corpus"
	"github.com/brunobiangulo/thesaurus/embedding"
	"github.com/brunobiangulo/thesaurus/entailment"
	"github.com/brunobiangulo/thesaurus/eval"
	"github.com/brunobiangulo/thesaurus/graph"
	"github.com/brunobiangulo/thesaurus/lexicon"
	"github.com/brunobiangulo/thesaurus/llm"
	"github.com/brunobiangulo/thesaurus/phrase"
	"github.com/brunobiangulo/thesaurus/store"
	"github.com/brunobiangulo/thesaurus/synonyms"
	"github.com/brunobiangulo/thesaurus/taxonomy"
	"github.com/brunobiangulo/thesaurus/trigger"
	"github.com/brunobiangulo/thesaurus/voting"
)

// Engine runs the relation pipeline. Every evidence stage records a run with
// its edges in the store and writes a JSON artifact; Merge combines the
// latest run of each stage into the terminal graph.
type Engine interface {
	// Vote ranks hypernym candidates for every taxonomy phrase by
	// neighbour voting.
	Vote(ctx context.Context) (*Run, error)

	// Entail verifies co-occurring phrase pairs with the entailment
	// classifier.
	Entail(ctx context.Context) (*Run, error)

	// Triggers extracts is-a pairs around lexical trigger expressions.
	Triggers(ctx context.Context) (*Run, error)

	// UsageVariants links two-word phrases to the longer phrases
	// containing them.
	UsageVariants(ctx context.Context) (*Run, error)

	// Neighbors proposes synonyms from embedding similarity.
	Neighbors(ctx context.Context) (*Run, error)

	// Synonyms merges the configured synonym candidate files.
	Synonyms(ctx context.Context) (*Run, error)

	// Merge resolves all evidence into the terminal graph and stores it.
	Merge(ctx context.Context) (*Run, error)

	// SetRelation records a manual label for (key, phrase) and its inverse
	// for (phrase, key). It reports whether the labelled file changed. The
	// label takes effect at the next Merge.
	SetRelation(key, phrase string, rel graph.Relation) (bool, error)

	// Relations returns the merged relations of key.
	Relations(ctx context.Context, key string) ([]graph.Target, error)

	// Hypernyms walks hypernym chains upward from key.
	Hypernyms(ctx context.Context, key string, depth int) ([]graph.Level, error)

	// Stats summarises the stored graph and database.
	Stats(ctx context.Context) (*Stats, error)

	// Evaluate scores the merged graph against a labelled gold file.
	Evaluate(ctx context.Context, goldPath string) (*eval.Report, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// Run reports one completed stage run.
type Run struct {
	ID        string `json:"id"`
	Stage     string `json:"stage"`
	Edges     int    `json:"edges"`
	Artifact  string `json:"artifact,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// Stats combines graph statistics with database counts.
type Stats struct {
	Graph           *graph.Stats   `json:"graph,omitempty"`
	SynonymClusters int            `json:"synonym_clusters"`
	LargestCluster  int            `json:"largest_cluster"`
	Store           *store.DBStats `json:"store"`
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg     Config
	store   *store.Store
	phrases *phrase.Table
	lex     *lexicon.Lexicon

	mu     sync.Mutex
	tax    *taxonomy.Taxonomy
	corp   *corpus.Corpus
	emb    *embedding.Embedder
	merged *graph.Graph
}

// New creates an engine with the given configuration. Inputs, the embedder
// and the classifier are loaded on first use.
func New(cfg Config) (Engine, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	lex, err := lexicon.Load(cfg.VocabularyPath)
	if err != nil {
		return nil, fmt.Errorf("loading vocabulary: %w", err)
	}

	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return &engine{
		cfg:     cfg,
		store:   s,
		phrases: phrase.NewTable(),
		lex:     lex,
	}, nil
}

// --- Inputs ---

func (e *engine) taxonomy(ctx context.Context) (*taxonomy.Taxonomy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tax != nil {
		return e.tax, nil
	}

	var tax *taxonomy.Taxonomy
	if e.cfg.TaxonomyPath != "" {
		t, err := taxonomy.Load(e.cfg.TaxonomyPath, e.phrases)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTaxonomyUnavailable, err)
		}
		if err := e.store.SavePhrases(ctx, t.Entries()); err != nil {
			return nil, fmt.Errorf("saving phrases: %w", err)
		}
		removed, err := e.store.PrunePhrases(ctx, t.Entries())
		if err != nil {
			return nil, fmt.Errorf("pruning phrases: %w", err)
		}
		if removed > 0 {
			slog.Info("removed phrases missing from taxonomy", "path", e.cfg.TaxonomyPath, "removed", removed)
		}
		tax = t
	} else {
		t, err := e.store.LoadTaxonomy(ctx, e.phrases)
		if err != nil {
			return nil, fmt.Errorf("loading taxonomy: %w", err)
		}
		tax = t
	}
	if tax.Len() == 0 {
		return nil, ErrTaxonomyUnavailable
	}
	e.tax = tax
	return tax, nil
}

func (e *engine) corpus(ctx context.Context) (*corpus.Corpus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.corp != nil {
		return e.corp, nil
	}

	var c *corpus.Corpus
	if e.cfg.CorpusPath != "" {
		loaded, err := corpus.Load(e.cfg.CorpusPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorpusUnavailable, err)
		}
		if err := e.store.SaveSentences(ctx, loaded.Sentences()); err != nil {
			return nil, fmt.Errorf("saving sentences: %w", err)
		}
		c = loaded
	} else {
		loaded, err := e.store.LoadCorpus(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading corpus: %w", err)
		}
		c = loaded
	}
	if c.Len() == 0 {
		return nil, ErrCorpusUnavailable
	}
	e.corp = c
	return c, nil
}

func (e *engine) embedder() (*embedding.Embedder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.emb != nil {
		return e.emb, nil
	}

	var src embedding.WordSource
	switch {
	case e.cfg.VectorsPath != "":
		v, err := embedding.LoadVecFile(e.cfg.VectorsPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbedderUnavailable, err)
		}
		if v.Dim() != e.cfg.EmbeddingDim {
			return nil, fmt.Errorf("%w: vectors have dimension %d, embedding_dim is %d",
				ErrInvalidConfig, v.Dim(), e.cfg.EmbeddingDim)
		}
		src = v
	case e.cfg.Embedding.Provider != "":
		p, err := llm.NewProvider(e.cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbedderUnavailable, err)
		}
		src = embedding.ProviderSource{Provider: p}
	default:
		return nil, ErrEmbedderUnavailable
	}
	e.emb = embedding.NewEmbedder(src, e.cfg.EmbedBatchSize, e.cfg.Voting.Workers)
	return e.emb, nil
}

// neighborIndex returns the nearest-neighbour index over taxonomy phrases.
// The sqlite index embeds only phrases without a stored vector.
func (e *engine) neighborIndex(ctx context.Context, tax *taxonomy.Taxonomy, emb *embedding.Embedder) (voting.NeighborIndex, error) {
	ids := tax.IDs()
	tab := tax.Phrases()

	if e.cfg.Index == "memory" {
		vecs, err := emb.EmbedAll(ctx, displays(tab, ids))
		if err != nil {
			return nil, fmt.Errorf("embedding taxonomy: %w", err)
		}
		idx := embedding.NewMemoryIndex()
		for i, id := range ids {
			idx.Add(id, vecs[i])
		}
		slog.Info("memory index built", "phrases", len(ids), "indexed", idx.Len())
		return idx, nil
	}

	var missing []string
	for _, id := range ids {
		text := tab.Display(id)
		ok, err := e.store.HasEmbedding(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("checking embedding: %w", err)
		}
		if !ok {
			missing = append(missing, text)
		}
	}
	if len(missing) > 0 {
		vecs, err := emb.EmbedAll(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("embedding taxonomy: %w", err)
		}
		stored := 0
		for i, text := range missing {
			if embedding.IsZero(vecs[i]) {
				continue
			}
			if err := e.store.UpsertEmbedding(ctx, text, vecs[i]); err != nil {
				return nil, fmt.Errorf("storing embedding for %q: %w", text, err)
			}
			stored++
		}
		slog.Info("embeddings stored", "phrases", len(ids), "missing", len(missing), "stored", stored)
	}
	return store.PhraseIndex{Store: e.store, Phrases: tab, Members: tax.Has}, nil
}

func displays(tab *phrase.Table, ids []phrase.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = tab.Display(id)
	}
	return out
}

// --- Stages ---

// stageFunc computes a stage's artifact and evidence edges.
type stageFunc func(ctx context.Context, runID string) (artifact any, edges []graph.Edge, err error)

// run records a stage run around fn: the artifact is written, the edges are
// stored and the run is marked completed or failed.
func (e *engine) run(ctx context.Context, stage string, opts any, fn stageFunc) (*Run, error) {
	start := time.Now()
	runID, err := e.store.BeginRun(ctx, stage, opts)
	if err != nil {
		return nil, fmt.Errorf("recording %s run: %w", stage, err)
	}
	slog.Info("stage started", "stage", stage, "run_id", runID)

	var path string
	artifact, edges, err := fn(ctx, runID)
	if err == nil {
		path, err = e.writeArtifact(stage, artifact)
	}
	if err == nil && len(edges) > 0 {
		err = e.store.InsertEdges(ctx, runID, toStoreEdges(edges))
	}

	status := "completed"
	if err != nil {
		status = "failed"
	}
	if ferr := e.store.FinishRun(context.WithoutCancel(ctx), runID, status); ferr != nil {
		slog.Warn("finishing run failed", "stage", stage, "run_id", runID, "error", ferr)
	}
	if err != nil {
		slog.Error("stage failed", "stage", stage, "run_id", runID, "error", err)
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	elapsed := time.Since(start)
	slog.Info("stage complete",
		"stage", stage,
		"run_id", runID,
		"edges", len(edges),
		"artifact", path,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return &Run{ID: runID, Stage: stage, Edges: len(edges), Artifact: path, ElapsedMs: elapsed.Milliseconds()}, nil
}

func (e *engine) Vote(ctx context.Context) (*Run, error) {
	tax, err := e.taxonomy(ctx)
	if err != nil {
		return nil, err
	}
	emb, err := e.embedder()
	if err != nil {
		return nil, err
	}
	return e.run(ctx, StageVoting, e.cfg.Voting, func(ctx context.Context, _ string) (any, []graph.Edge, error) {
		index, err := e.neighborIndex(ctx, tax, emb)
		if err != nil {
			return nil, nil, err
		}
		v := voting.New(tax, emb, index, e.cfg.Voting)
		out, err := v.RankAll(ctx, displays(tax.Phrases(), tax.IDs()))
		if err != nil {
			return nil, nil, err
		}
		return out, out.Edges(), nil
	})
}

func (e *engine) Entail(ctx context.Context) (*Run, error) {
	tax, err := e.taxonomy(ctx)
	if err != nil {
		return nil, err
	}
	c, err := e.corpus(ctx)
	if err != nil {
		return nil, err
	}
	clf, err := llm.NewClassifier(e.cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}
	return e.run(ctx, StageEntailment, e.cfg.Entailment, func(ctx context.Context, _ string) (any, []graph.Edge, error) {
		out, err := entailment.New(tax, clf, e.cfg.Entailment).Verify(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		return out, out.Edges(), nil
	})
}

func (e *engine) Triggers(ctx context.Context) (*Run, error) {
	tax, err := e.taxonomy(ctx)
	if err != nil {
		return nil, err
	}
	c, err := e.corpus(ctx)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, StageTriggers, e.cfg.Trigger, func(context.Context, string) (any, []graph.Edge, error) {
		out := trigger.New(tax, e.cfg.Trigger).Extract(c)
		return out, out.Edges(), nil
	})
}

func (e *engine) UsageVariants(ctx context.Context) (*Run, error) {
	tax, err := e.taxonomy(ctx)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, StageUsageVariants, e.cfg.Synonyms, func(ctx context.Context, _ string) (any, []graph.Edge, error) {
		groups, err := synonyms.UsageVariants(ctx, tax, e.cfg.Synonyms.Workers)
		if err != nil {
			return nil, nil, err
		}
		recs := make([]synonyms.Record, len(groups))
		for i, g := range groups {
			recs[i] = g.Record()
		}
		return groups, synonyms.Edges(recs), nil
	})
}

func (e *engine) Neighbors(ctx context.Context) (*Run, error) {
	tax, err := e.taxonomy(ctx)
	if err != nil {
		return nil, err
	}
	emb, err := e.embedder()
	if err != nil {
		return nil, err
	}
	return e.run(ctx, StageNeighbors, e.cfg.Synonyms, func(ctx context.Context, _ string) (any, []graph.Edge, error) {
		index, err := e.neighborIndex(ctx, tax, emb)
		if err != nil {
			return nil, nil, err
		}
		recs, err := synonyms.Neighbors(ctx, tax, emb, index, e.cfg.Synonyms)
		if err != nil {
			return nil, nil, err
		}
		return recs, synonyms.Edges(recs), nil
	})
}

func (e *engine) Synonyms(ctx context.Context) (*Run, error) {
	if len(e.cfg.SynonymSources) == 0 {
		return nil, fmt.Errorf("%w: no synonym sources configured", ErrInvalidConfig)
	}
	return e.run(ctx, StageSynonyms, e.cfg.SynonymSources, func(context.Context, string) (any, []graph.Edge, error) {
		all := make([][]synonyms.Record, 0, len(e.cfg.SynonymSources))
		for _, src := range e.cfg.SynonymSources {
			recs, err := synonyms.LoadSource(src, e.cfg.Synonyms)
			if err != nil {
				return nil, nil, err
			}
			all = append(all, recs)
		}
		merged := synonyms.Merge(all...)
		return merged, synonyms.Edges(merged), nil
	})
}

// --- Merge and manual labels ---

func (e *engine) Merge(ctx context.Context) (*Run, error) {
	opts := graph.MergeOptions{}
	if e.cfg.Merge.Correct {
		opts.Corrector = e.lex
	}
	if e.cfg.Merge.Antonyms {
		opts.Antonyms = e.lex
	}
	if e.cfg.Merge.TaxonomyOnly {
		tax, err := e.taxonomy(ctx)
		if err != nil {
			return nil, err
		}
		opts.Members = tax.Has
	}

	return e.run(ctx, StageMerge, e.cfg.Merge, func(ctx context.Context, runID string) (any, []graph.Edge, error) {
		arena := graph.NewArena(e.phrases)
		accepted := 0
		for _, stage := range e.cfg.Merge.Stages {
			r, err := e.store.LatestRun(ctx, stage)
			if errors.Is(err, store.ErrNoRun) {
				slog.Warn("merge: no completed run", "stage", stage)
				continue
			}
			if err != nil {
				return nil, nil, err
			}
			rows, err := e.store.EdgesByRun(ctx, r.ID)
			if err != nil {
				return nil, nil, fmt.Errorf("loading %s edges: %w", stage, err)
			}
			n := arena.Accumulate(toGraphEdges(rows)...)
			accepted += n
			slog.Info("merge: evidence loaded", "stage", stage, "run_id", r.ID, "edges", len(rows), "accepted", n)
		}
		if e.cfg.LabelledPath != "" {
			e.mu.Lock()
			list, err := e.labelled()
			e.mu.Unlock()
			if err != nil {
				return nil, nil, err
			}
			n := arena.Accumulate(synonyms.LabelledEdges(list)...)
			accepted += n
			slog.Info("merge: manual labels loaded", "keys", len(list), "accepted", n)
		}
		if accepted == 0 {
			return nil, nil, ErrNoEvidence
		}

		g := arena.Merge(opts)
		if v := g.Validate(); len(v) > 0 {
			return nil, nil, fmt.Errorf("merged graph has %d violations, first: %s", len(v), v[0])
		}
		entries := g.Entries()
		if err := e.store.ReplaceRelations(ctx, runID, relationRows(entries)); err != nil {
			return nil, nil, fmt.Errorf("storing merged graph: %w", err)
		}

		e.mu.Lock()
		e.merged = g
		e.mu.Unlock()
		return entries, nil, nil
	})
}

// labelled reads the manual relations file; a missing file is empty. The
// caller holds e.mu.
func (e *engine) labelled() ([]synonyms.Labelled, error) {
	list, err := synonyms.LoadLabelled(e.cfg.LabelledPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return list, err
}

func (e *engine) SetRelation(key, text string, rel graph.Relation) (bool, error) {
	if e.cfg.LabelledPath == "" {
		return false, fmt.Errorf("%w: labelled_path is not set", ErrInvalidConfig)
	}
	if rel != graph.NotRelated && !rel.Semantic() {
		return false, fmt.Errorf("%w: unsupported label %q", ErrInvalidRelation, rel)
	}
	key, text = strings.TrimSpace(key), strings.TrimSpace(text)
	nk, nt := phrase.Normalize(key), phrase.Normalize(text)
	if nk == "" || nt == "" || nk == nt {
		return false, fmt.Errorf("%w: %q -> %q", ErrInvalidRelation, key, text)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	list, err := e.labelled()
	if err != nil {
		return false, err
	}
	list, changed := synonyms.SetRelation(list, key, text, rel)
	if !changed {
		slog.Info("manual relation unchanged", "key", key, "phrase", text, "relation", rel)
		return false, nil
	}
	if err := synonyms.SaveLabelled(e.cfg.LabelledPath, list); err != nil {
		return false, fmt.Errorf("saving labelled relations: %w", err)
	}
	slog.Info("manual relation set", "key", key, "phrase", text, "relation", rel, "inverse", rel.Inverse())
	return true, nil
}

// --- Lookups ---

// mergedGraph returns the last merged graph, loading it from the store when
// this engine has not merged yet.
func (e *engine) mergedGraph(ctx context.Context) (*graph.Graph, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.merged != nil {
		return e.merged, nil
	}
	rows, err := e.store.AllRelations(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading merged graph: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoGraph
	}
	e.merged = graph.FromEntries(e.phrases, entriesFromRows(rows))
	return e.merged, nil
}

func (e *engine) Relations(ctx context.Context, key string) ([]graph.Target, error) {
	g, err := e.mergedGraph(ctx)
	if err != nil {
		return nil, err
	}
	targets := g.Targets(key)
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPhrase, key)
	}
	return targets, nil
}

func (e *engine) Hypernyms(ctx context.Context, key string, depth int) ([]graph.Level, error) {
	g, err := e.mergedGraph(ctx)
	if err != nil {
		return nil, err
	}
	if len(g.Targets(key)) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPhrase, key)
	}
	return g.Hypernyms(key, depth), nil
}

func (e *engine) Evaluate(ctx context.Context, goldPath string) (*eval.Report, error) {
	if goldPath == "" {
		return nil, fmt.Errorf("%w: gold file path is required", ErrInvalidConfig)
	}
	gold, err := synonyms.LoadLabelled(goldPath)
	if err != nil {
		return nil, err
	}
	g, err := e.mergedGraph(ctx)
	if err != nil {
		return nil, err
	}
	report := eval.Evaluate(g, gold)
	report.Dataset = goldPath
	slog.Info("evaluation complete",
		"gold", goldPath,
		"pairs", report.Pairs,
		"accuracy", report.Accuracy,
		"macro_f1", report.MacroF1,
	)
	return report, nil
}

func (e *engine) Stats(ctx context.Context) (*Stats, error) {
	db, err := e.store.DBStats(ctx)
	if err != nil {
		return nil, err
	}
	out := &Stats{Store: db}

	g, err := e.mergedGraph(ctx)
	if errors.Is(err, ErrNoGraph) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	gs := g.Stats(e.cfg.Merge.StatsTop)
	out.Graph = &gs
	clusters := g.SynonymClusters()
	out.SynonymClusters = len(clusters)
	for _, c := range clusters {
		out.LargestCluster = max(out.LargestCluster, len(c))
	}
	return out, nil
}

// Store returns the underlying store for diagnostic access.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close shuts down the engine.
func (e *engine) Close() error {
	return e.store.Close()
}
