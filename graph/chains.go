package graph

import (
	"github.com/brunobiangulo/thesaurus/phrase"
)

// Level is the set of phrases reached at one hop distance.
type Level struct {
	Depth   int      `json:"depth"`
	Phrases []string `json:"phrases"`
}

// Hypernyms walks hypernym links upward from key, breadth first, for at
// most maxDepth hops. Each phrase appears once, at its shortest distance.
func (g *Graph) Hypernyms(key string, maxDepth int) []Level {
	return g.Walk(key, Hypernym, maxDepth)
}

// Hyponyms walks hyponym links downward from key.
func (g *Graph) Hyponyms(key string, maxDepth int) []Level {
	return g.Walk(key, Hyponym, maxDepth)
}

// Walk follows pairs labelled rel from key for at most maxDepth hops.
func (g *Graph) Walk(key string, rel Relation, maxDepth int) []Level {
	start, ok := g.phrases.Lookup(key)
	if !ok || maxDepth <= 0 {
		return nil
	}

	visited := map[phrase.ID]bool{start: true}
	queue := []phrase.ID{start}
	var levels []Level

	for depth := 1; depth <= maxDepth && len(queue) > 0; depth++ {
		var next []phrase.ID
		for _, id := range queue {
			for t, f := range g.adj[id] {
				if Resolve(f) == rel && !visited[t] {
					visited[t] = true
					next = append(next, t)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		g.sortIDs(next)
		names := make([]string, len(next))
		for i, id := range next {
			names[i] = g.phrases.Display(id)
		}
		levels = append(levels, Level{Depth: depth, Phrases: names})
		queue = next
	}
	return levels
}
