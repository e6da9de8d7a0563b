package synonyms

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/brunobiangulo/thesaurus/graph"
	"github.com/brunobiangulo/thesaurus/phrase"
)

// LabelledPhrase is one manually labelled target.
type LabelledPhrase struct {
	Phrase   string `json:"phrase"`
	Relation string `json:"relation"`
}

// Labelled holds the manual labels of one key.
type Labelled struct {
	Key     string           `json:"key"`
	Phrases []LabelledPhrase `json:"phrases"`
}

// LoadLabelled reads a manual relations file.
func LoadLabelled(path string) ([]Labelled, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading labelled relations: %w", err)
	}
	var out []Labelled
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding labelled relations %s: %w", path, err)
	}
	return out, nil
}

// SaveLabelled writes a manual relations file. The file is replaced by
// rename so readers never see a partial write.
func SaveLabelled(path string, list []Labelled) error {
	data, err := json.MarshalIndent(list, "", "    ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating labelled relations: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing labelled relations: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LabelledEdges converts manual labels into evidence. Self references are
// dropped and unknown labels are logged and skipped.
func LabelledEdges(list []Labelled) []graph.Edge {
	var edges []graph.Edge
	for _, l := range list {
		for _, p := range l.Phrases {
			if phrase.Normalize(p.Phrase) == phrase.Normalize(l.Key) {
				continue
			}
			rel, err := graph.ParseRelation(p.Relation)
			if err != nil {
				slog.Warn("synonyms: skipping labelled relation", "key", l.Key, "phrase", p.Phrase, "error", err)
				continue
			}
			edges = append(edges, graph.Edge{Source: l.Key, Target: p.Phrase, Type: rel, Confidence: 1, Origin: graph.OriginManual})
		}
	}
	return edges
}

// SetRelation labels (key, text) with rel and (text, key) with its inverse,
// inserting entries as needed. It reports whether anything changed.
func SetRelation(list []Labelled, key, text string, rel graph.Relation) ([]Labelled, bool) {
	list, a := upsert(list, key, text, rel)
	list, b := upsert(list, text, key, rel.Inverse())
	return list, a || b
}

func upsert(list []Labelled, key, text string, rel graph.Relation) ([]Labelled, bool) {
	nk, nt := phrase.Normalize(key), phrase.Normalize(text)
	for i := range list {
		if phrase.Normalize(list[i].Key) != nk {
			continue
		}
		for j := range list[i].Phrases {
			p := &list[i].Phrases[j]
			if phrase.Normalize(p.Phrase) != nt {
				continue
			}
			if p.Relation == string(rel) {
				return list, false
			}
			p.Relation = string(rel)
			return list, true
		}
		list[i].Phrases = append(list[i].Phrases, LabelledPhrase{Phrase: text, Relation: string(rel)})
		return list, true
	}
	return append(list, Labelled{Key: key, Phrases: []LabelledPhrase{{Phrase: text, Relation: string(rel)}}}), true
}
