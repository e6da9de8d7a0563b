// Package taxonomy holds candidate terminology phrases and the quality
// metadata (is_term_manual, oof_prob_class) that gates their participation
// in relations.
package taxonomy

import (
	"github.com/brunobiangulo/thesaurus/phrase"
)

// Entry is one taxonomy row. Missing metadata is nil and serialises as null.
type Entry struct {
	Phrase       string   `json:"phrase"`
	IsTermManual *int     `json:"is_term_manual"`
	OOFProbClass *float64 `json:"oof_prob_class"`
}

// NotTerm reports whether the row is explicitly marked as a non-term.
func (e Entry) NotTerm() bool {
	return e.IsTermManual != nil && *e.IsTermManual == 0
}

// OOF returns oof_prob_class, treating a missing value as 0.
func (e Entry) OOF() float64 {
	if e.OOFProbClass == nil {
		return 0
	}
	return *e.OOFProbClass
}

// Manual returns is_term_manual, treating a missing value as 0.
func (e Entry) Manual() int {
	if e.IsTermManual == nil {
		return 0
	}
	return *e.IsTermManual
}

// Gate rejects rows marked as non-terms whose oof_prob_class is below MinOOF.
type Gate struct {
	MinOOF float64
}

// Pass reports whether e clears the gate.
func (g Gate) Pass(e Entry) bool {
	return !(e.NotTerm() && e.OOF() < g.MinOOF)
}

// Taxonomy is the set of candidate phrases keyed by interned ID.
type Taxonomy struct {
	phrases *phrase.Table
	entries map[phrase.ID]Entry
	order   []phrase.ID
}

// New creates an empty taxonomy interning into tab.
func New(tab *phrase.Table) *Taxonomy {
	return &Taxonomy{
		phrases: tab,
		entries: make(map[phrase.ID]Entry),
	}
}

// Add inserts or overwrites a row. Rows with an empty phrase are ignored.
func (t *Taxonomy) Add(e Entry) (phrase.ID, bool) {
	id, ok := t.phrases.Intern(e.Phrase)
	if !ok {
		return phrase.None, false
	}
	if _, exists := t.entries[id]; !exists {
		t.order = append(t.order, id)
	}
	e.Phrase = t.phrases.Display(id)
	t.entries[id] = e
	return id, true
}

// Entry returns the row for id.
func (t *Taxonomy) Entry(id phrase.ID) (Entry, bool) {
	e, ok := t.entries[id]
	return e, ok
}

// Info returns the row for text, or an entry with nil metadata when the
// phrase is not part of the taxonomy.
func (t *Taxonomy) Info(text string) Entry {
	if id, ok := t.phrases.Lookup(text); ok {
		if e, ok := t.entries[id]; ok {
			return e
		}
	}
	return Entry{Phrase: text}
}

// Contains reports whether text (in any casing) is a taxonomy member.
func (t *Taxonomy) Contains(text string) bool {
	id, ok := t.phrases.Lookup(text)
	if !ok {
		return false
	}
	_, ok = t.entries[id]
	return ok
}

// Has reports whether id is a taxonomy member.
func (t *Taxonomy) Has(id phrase.ID) bool {
	_, ok := t.entries[id]
	return ok
}

// IDs returns member IDs in insertion order.
func (t *Taxonomy) IDs() []phrase.ID {
	out := make([]phrase.ID, len(t.order))
	copy(out, t.order)
	return out
}

// Entries returns rows in insertion order.
func (t *Taxonomy) Entries() []Entry {
	out := make([]Entry, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.entries[id])
	}
	return out
}

// Len returns the number of members.
func (t *Taxonomy) Len() int { return len(t.order) }

// Phrases returns the underlying phrase table.
func (t *Taxonomy) Phrases() *phrase.Table { return t.phrases }

// IntPtr and FloatPtr build optional metadata values.
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 { return &v }
