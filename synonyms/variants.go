package synonyms

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/thesaurus/embedding"
	"github.com/brunobiangulo/thesaurus/phrase"
	"github.com/brunobiangulo/thesaurus/taxonomy"
)

// VariantGroup is a two-word base phrase with the longer taxonomy phrases
// that contain it.
type VariantGroup struct {
	taxonomy.Entry
	UsageVariants []taxonomy.Entry `json:"usage_variants"`
}

// Record converts the group to a unified record.
func (g VariantGroup) Record() Record {
	rec := Record{
		Key:            g.Phrase,
		IsTermManual:   g.IsTermManual,
		OOFProbClass:   g.OOFProbClass,
		UsageVariants:  make([]string, 0, len(g.UsageVariants)),
		Synonyms:       []string{},
		SimilarPhrases: []string{},
	}
	for _, v := range g.UsageVariants {
		rec.UsageVariants = append(rec.UsageVariants, v.Phrase)
	}
	return rec
}

// UsageVariants finds, for every two-token taxonomy phrase, the taxonomy
// phrases of three or more tokens containing it as a contiguous token run.
// Bases without variants are omitted; groups keep taxonomy order.
func UsageVariants(ctx context.Context, tax *taxonomy.Taxonomy, workers int) ([]VariantGroup, error) {
	tab := tax.Phrases()
	var bases, longer []phrase.ID
	for _, id := range tax.IDs() {
		switch n := phrase.TokenCount(tab.Normalized(id)); {
		case n == 2:
			bases = append(bases, id)
		case n > 2:
			longer = append(longer, id)
		}
	}
	padded := make([]string, len(longer))
	for i, id := range longer {
		padded[i] = " " + tab.Normalized(id) + " "
	}

	groups := make([]VariantGroup, len(bases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, base := range bases {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			needle := " " + tab.Normalized(base) + " "
			e, _ := tax.Entry(base)
			group := VariantGroup{Entry: e}
			for j, long := range longer {
				if strings.Contains(padded[j], needle) {
					v, _ := tax.Entry(long)
					group.UsageVariants = append(group.UsageVariants, v)
				}
			}
			groups[i] = group
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := groups[:0]
	for _, grp := range groups {
		if len(grp.UsageVariants) > 0 {
			out = append(out, grp)
		}
	}
	slog.Info("synonyms: usage variants", "bases", len(bases), "longer", len(longer), "groups", len(out))
	return out, nil
}

// Embedder maps a phrase to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NeighborIndex finds taxonomy phrases closest to a vector.
type NeighborIndex interface {
	Nearest(ctx context.Context, vec []float32, k int) ([]embedding.Neighbor, error)
}

// Neighbors proposes as synonyms the taxonomy phrases whose embedding
// similarity to a phrase is at least opts.NeighborSimilarity. Records that
// fail the quality filter are dropped, as are phrases whose embedding
// fails.
func Neighbors(ctx context.Context, tax *taxonomy.Taxonomy, emb Embedder, index NeighborIndex, opts Options) ([]Record, error) {
	ids := tax.IDs()
	found := make([][]taxonomy.Entry, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for i, id := range ids {
		g.Go(func() error {
			text := tax.Phrases().Display(id)
			vec, err := emb.Embed(gctx, text)
			if err == nil && !embedding.IsZero(vec) {
				var nbs []embedding.Neighbor
				nbs, err = index.Nearest(gctx, vec, opts.Neighbors)
				for _, nb := range nbs {
					if nb.ID == id || nb.Similarity < opts.NeighborSimilarity {
						continue
					}
					if e, ok := tax.Entry(nb.ID); ok {
						found[i] = append(found[i], e)
					}
				}
			}
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				slog.Warn("synonyms: skipping phrase", "phrase", text, "error", err)
				found[i] = nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var recs []Record
	for i, id := range ids {
		if len(found[i]) == 0 {
			continue
		}
		key, _ := tax.Entry(id)
		cands := make([]candidate, len(found[i]))
		for j, e := range found[i] {
			cands[j] = candidate{Key: e.Phrase, IsTermManual: e.IsTermManual, OOFProbClass: e.OOFProbClass}
		}
		if !keep(key, cands, opts.MinOOF) {
			continue
		}
		rec := Record{
			Key:            key.Phrase,
			IsTermManual:   key.IsTermManual,
			OOFProbClass:   key.OOFProbClass,
			UsageVariants:  []string{},
			SimilarPhrases: []string{},
		}
		for _, c := range cands {
			rec.Synonyms = append(rec.Synonyms, c.Key)
		}
		recs = append(recs, rec)
	}
	slog.Info("synonyms: embedding neighbours", "phrases", len(ids), "records", len(recs))
	return recs, nil
}
