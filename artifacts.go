package thesaurus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/brunobiangulo/thesaurus/graph"
	"github.com/brunobiangulo/thesaurus/phrase"
	"github.com/brunobiangulo/thesaurus/store"
)

// writeArtifact writes v as indented JSON to <ArtifactDir>/<name>.json and
// returns the path. Non-ASCII text is written as is.
func (e *engine) writeArtifact(name string, v any) (string, error) {
	if e.cfg.ArtifactDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(e.cfg.ArtifactDir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encoding %s artifact: %w", name, err)
	}

	path := filepath.Join(e.cfg.ArtifactDir, name+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("writing %s artifact: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("writing %s artifact: %w", name, err)
	}
	return path, nil
}

func toStoreEdges(edges []graph.Edge) []store.Edge {
	out := make([]store.Edge, len(edges))
	for i, e := range edges {
		out[i] = store.Edge{
			Source:     e.Source,
			Target:     e.Target,
			Relation:   string(e.Type),
			Confidence: e.Confidence,
			Origin:     e.Origin,
		}
	}
	return out
}

func toGraphEdges(rows []store.Edge) []graph.Edge {
	out := make([]graph.Edge, len(rows))
	for i, r := range rows {
		out[i] = graph.Edge{
			Source:     r.Source,
			Target:     r.Target,
			Type:       graph.Relation(r.Relation),
			Confidence: r.Confidence,
			Origin:     r.Origin,
		}
	}
	return out
}

// relationRows flattens artifact entries into one row per directed pair.
func relationRows(entries []graph.Entry) []store.Relation {
	var rows []store.Relation
	for _, en := range entries {
		for _, t := range en.Phrases {
			rows = append(rows, store.Relation{Key: en.Key, Phrase: t.Phrase, Relation: string(t.Relation())})
		}
	}
	return rows
}

// entriesFromRows groups stored rows by normalised key, keeping row order.
func entriesFromRows(rows []store.Relation) []graph.Entry {
	index := make(map[string]int)
	var out []graph.Entry
	for _, r := range rows {
		norm := phrase.Normalize(r.Key)
		i, ok := index[norm]
		if !ok {
			i = len(out)
			index[norm] = i
			out = append(out, graph.Entry{Key: r.Key})
		}
		out[i].Phrases = append(out[i].Phrases, graph.Target{
			Phrase: r.Phrase,
			Flags:  graph.FlagsOf(graph.Relation(r.Relation)),
		})
	}
	return out
}
