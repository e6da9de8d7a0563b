package graph

import (
	"fmt"
	"sort"

	"github.com/brunobiangulo/thesaurus/phrase"
)

// Graph is a merged relation graph: phrase -> related phrase -> flags.
type Graph struct {
	phrases *phrase.Table
	adj     map[phrase.ID]map[phrase.ID]Flags
}

// New creates an empty graph over tab.
func New(tab *phrase.Table) *Graph {
	return &Graph{phrases: tab, adj: make(map[phrase.ID]map[phrase.ID]Flags)}
}

// Target is one related phrase in an artifact entry.
type Target struct {
	Phrase string `json:"phrase"`
	Flags
}

// Entry is one key of the merged graph artifact.
type Entry struct {
	Key     string   `json:"key"`
	Phrases []Target `json:"phrases"`
}

// set writes r on (a, b) and its inverse on (b, a).
func (g *Graph) set(a, b phrase.ID, r Relation) {
	g.put(a, b, FlagsOf(r))
	g.put(b, a, FlagsOf(r.Inverse()))
}

func (g *Graph) put(a, b phrase.ID, f Flags) {
	m := g.adj[a]
	if m == nil {
		m = make(map[phrase.ID]Flags)
		g.adj[a] = m
	}
	m[b] = f
}

// FromEntries rebuilds a graph from artifact entries as written, without
// resolving or symmetrising. Use Validate to check the result.
func FromEntries(tab *phrase.Table, entries []Entry) *Graph {
	g := New(tab)
	for _, e := range entries {
		k, ok := tab.Intern(e.Key)
		if !ok {
			continue
		}
		for _, t := range e.Phrases {
			p, ok := tab.Intern(t.Phrase)
			if !ok {
				continue
			}
			g.put(k, p, t.Flags)
		}
	}
	return g
}

// Phrases returns the graph's phrase table.
func (g *Graph) Phrases() *phrase.Table { return g.phrases }

// Pairs returns the number of directed pairs.
func (g *Graph) Pairs() int {
	n := 0
	for _, m := range g.adj {
		n += len(m)
	}
	return n
}

// Relation returns the label of (a, b), or None.
func (g *Graph) Relation(a, b string) Relation {
	ia, ok := g.phrases.Lookup(a)
	if !ok {
		return None
	}
	ib, ok := g.phrases.Lookup(b)
	if !ok {
		return None
	}
	return g.adj[ia][ib].Relation()
}

func (g *Graph) sortIDs(ids []phrase.ID) {
	sort.Slice(ids, func(i, j int) bool { return g.phrases.Less(ids[i], ids[j]) })
}

func (g *Graph) keyIDs() []phrase.ID {
	ids := make([]phrase.ID, 0, len(g.adj))
	for id, m := range g.adj {
		if len(m) > 0 {
			ids = append(ids, id)
		}
	}
	g.sortIDs(ids)
	return ids
}

// Keys returns every phrase with at least one relation, sorted
// case-insensitively.
func (g *Graph) Keys() []string {
	ids := g.keyIDs()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.phrases.Display(id)
	}
	return out
}

func (g *Graph) targets(id phrase.ID) []Target {
	m := g.adj[id]
	ids := make([]phrase.ID, 0, len(m))
	for t := range m {
		ids = append(ids, t)
	}
	g.sortIDs(ids)
	out := make([]Target, len(ids))
	for i, t := range ids {
		out[i] = Target{Phrase: g.phrases.Display(t), Flags: m[t]}
	}
	return out
}

// Targets returns the relations of key sorted case-insensitively, or nil
// when key is unknown.
func (g *Graph) Targets(key string) []Target {
	id, ok := g.phrases.Lookup(key)
	if !ok {
		return nil
	}
	return g.targets(id)
}

// Entries returns the artifact form of the graph.
func (g *Graph) Entries() []Entry {
	ids := g.keyIDs()
	out := make([]Entry, len(ids))
	for i, id := range ids {
		out[i] = Entry{Key: g.phrases.Display(id), Phrases: g.targets(id)}
	}
	return out
}

// Violation describes a broken graph invariant on one directed pair.
type Violation struct {
	Key     string `json:"key"`
	Phrase  string `json:"phrase"`
	Problem string `json:"problem"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s -> %s: %s", v.Key, v.Phrase, v.Problem)
}

// Validate checks that no phrase relates to itself, every pair carries
// exactly one label, and every pair is mirrored by its inverse.
func (g *Graph) Validate() []Violation {
	var out []Violation
	for _, a := range g.keyIDs() {
		for _, t := range g.targets(a) {
			b, _ := g.phrases.Lookup(t.Phrase)
			key := g.phrases.Display(a)
			if a == b {
				out = append(out, Violation{key, t.Phrase, "self reference"})
				continue
			}
			if n := t.Flags.Count(); n != 1 {
				out = append(out, Violation{key, t.Phrase, fmt.Sprintf("%d labels set", n)})
				continue
			}
			back, ok := g.adj[b][a]
			if !ok {
				out = append(out, Violation{key, t.Phrase, "missing reverse pair"})
				continue
			}
			if want := t.Flags.Relation().Inverse(); back.Relation() != want {
				out = append(out, Violation{key, t.Phrase,
					fmt.Sprintf("reverse is %q, want %q", back.Relation(), want)})
			}
		}
	}
	return out
}
