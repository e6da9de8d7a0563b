package graph

import (
	"log/slog"

	"github.com/brunobiangulo/thesaurus/phrase"
)

// SynonymClusters groups phrases into connected components of the synonym
// relation. Singletons are omitted. Members and clusters are sorted
// case-insensitively.
func (g *Graph) SynonymClusters() [][]string {
	visited := make(map[phrase.ID]bool)
	var clusters [][]string

	for _, start := range g.keyIDs() {
		if visited[start] {
			continue
		}
		var comp []phrase.ID
		queue := []phrase.ID{start}
		visited[start] = true
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			comp = append(comp, node)
			for next, f := range g.adj[node] {
				if f.Synonym && !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		if len(comp) < 2 {
			continue
		}
		g.sortIDs(comp)
		names := make([]string, len(comp))
		for i, id := range comp {
			names[i] = g.phrases.Display(id)
		}
		clusters = append(clusters, names)
	}

	slog.Debug("graph: synonym clusters", "clusters", len(clusters), "largest", largest(clusters))
	return clusters
}

func largest(clusters [][]string) int {
	n := 0
	for _, c := range clusters {
		n = max(n, len(c))
	}
	return n
}
