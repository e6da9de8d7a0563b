package store

import (
	"context"

	"github.com/brunobiangulo/thesaurus/embedding"
	"github.com/brunobiangulo/thesaurus/phrase"
)

// maxKNN is the largest k sqlite-vec accepts for a vec0 query.
const maxKNN = 4096

// PhraseIndex serves nearest-neighbour queries from the vec0 table,
// reporting hits as IDs of a phrase table.
type PhraseIndex struct {
	Store   *Store
	Phrases *phrase.Table
	// Members, when set, limits hits to the phrases it accepts.
	Members func(phrase.ID) bool
}

// Nearest returns up to k neighbours of vec. Hits whose phrase is not in the
// table or not a member are dropped, and the search widens until k hits
// remain or the table is exhausted.
func (ix PhraseIndex) Nearest(ctx context.Context, vec []float32, k int) ([]embedding.Neighbor, error) {
	if k <= 0 || embedding.IsZero(vec) {
		return nil, nil
	}
	fetch := min(k, maxKNN)
	for {
		hits, err := ix.Store.Nearest(ctx, vec, fetch)
		if err != nil {
			return nil, err
		}
		out := make([]embedding.Neighbor, 0, min(len(hits), k))
		for _, h := range hits {
			id, ok := ix.Phrases.Lookup(h.Display)
			if !ok || (ix.Members != nil && !ix.Members(id)) {
				continue
			}
			out = append(out, embedding.Neighbor{ID: id, Similarity: h.Similarity})
			if len(out) == k {
				break
			}
		}
		if len(out) == k || len(hits) < fetch || fetch == maxKNN {
			return out, nil
		}
		fetch = min(fetch*2, maxKNN)
	}
}
