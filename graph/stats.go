package graph

import (
	"sort"

	"github.com/brunobiangulo/thesaurus/phrase"
)

// PhraseCount is a phrase with its number of occurrences as a target.
type PhraseCount struct {
	Phrase string `json:"phrase"`
	Count  int    `json:"count"`
}

// Stats summarises a merged graph.
type Stats struct {
	Relations        map[Relation]int `json:"relations"`
	Keys             int              `json:"keys"`
	AvgPhrasesPerKey float64          `json:"avg_phrases_per_key"`
	MaxPhrasesPerKey int              `json:"max_phrases_per_key"`
	MinPhrasesPerKey int              `json:"min_phrases_per_key"`
	UniquePhrases    int              `json:"unique_phrases"`
	TopPhrases       []PhraseCount    `json:"top_phrases"`
}

// Stats counts labels per relation, phrases per key and the topN most
// frequent target phrases.
func (g *Graph) Stats(topN int) Stats {
	s := Stats{Relations: make(map[Relation]int)}
	occurrences := make(map[phrase.ID]int)
	total := 0

	for _, k := range g.keyIDs() {
		m := g.adj[k]
		n := len(m)
		s.Keys++
		total += n
		if n > s.MaxPhrasesPerKey {
			s.MaxPhrasesPerKey = n
		}
		if s.MinPhrasesPerKey == 0 || n < s.MinPhrasesPerKey {
			s.MinPhrasesPerKey = n
		}
		for t, f := range m {
			s.Relations[Resolve(f)]++
			occurrences[t]++
		}
	}
	if s.Keys > 0 {
		s.AvgPhrasesPerKey = float64(total) / float64(s.Keys)
	}
	s.UniquePhrases = len(occurrences)

	counts := make([]PhraseCount, 0, len(occurrences))
	for id, c := range occurrences {
		counts = append(counts, PhraseCount{Phrase: g.phrases.Display(id), Count: c})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return phrase.Compare(counts[i].Phrase, counts[j].Phrase) < 0
	})
	if topN >= 0 && len(counts) > topN {
		counts = counts[:topN]
	}
	s.TopPhrases = counts
	return s
}
