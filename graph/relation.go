package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Relation is the label of an ordered phrase pair (A, B). Hypernym means B
// is a hypernym of A; Hyponym means B is a hyponym of A.
type Relation string

// Relation labels.
const (
	None         Relation = ""
	Synonym      Relation = "synonym"
	UsageVariant Relation = "usage_variant"
	Related      Relation = "related"
	Hypernym     Relation = "hypernym"
	Hyponym      Relation = "hyponym"
	Antonym      Relation = "antonym"
	NotRelated   Relation = "not_related"
)

// ErrUnknownRelation is returned by ParseRelation.
var ErrUnknownRelation = errors.New("graph: unknown relation")

// ParseRelation accepts a label with or without the "is_" prefix.
func ParseRelation(s string) (Relation, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "is_")
	switch r := Relation(s); r {
	case Synonym, UsageVariant, Related, Hypernym, Hyponym, Antonym, NotRelated:
		return r, nil
	case "similar_phrase", "similar_phrases":
		return Related, nil
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownRelation, s)
}

// Inverse returns the label of the reversed pair.
func (r Relation) Inverse() Relation {
	switch r {
	case Hypernym:
		return Hyponym
	case Hyponym:
		return Hypernym
	}
	return r
}

// Semantic reports whether r is one of the labels kept in a merged graph.
func (r Relation) Semantic() bool {
	switch r {
	case Synonym, UsageVariant, Related, Hypernym, Hyponym, Antonym:
		return true
	}
	return false
}

// Flags is the per-pair boolean view of relations used in artifacts.
type Flags struct {
	Synonym      bool `json:"is_synonym"`
	UsageVariant bool `json:"is_usage_variant"`
	Related      bool `json:"is_related"`
	Hypernym     bool `json:"is_hypernym"`
	Hyponym      bool `json:"is_hyponym"`
	Antonym      bool `json:"is_antonym"`
	NotRelated   bool `json:"-"`
}

// FlagsOf returns flags with only r set.
func FlagsOf(r Relation) Flags {
	var f Flags
	f.Set(r)
	return f
}

// Set raises the flag for r.
func (f *Flags) Set(r Relation) {
	switch r {
	case Synonym:
		f.Synonym = true
	case UsageVariant:
		f.UsageVariant = true
	case Related:
		f.Related = true
	case Hypernym:
		f.Hypernym = true
	case Hyponym:
		f.Hyponym = true
	case Antonym:
		f.Antonym = true
	case NotRelated:
		f.NotRelated = true
	}
}

// Union returns the flags set in f or o.
func (f Flags) Union(o Flags) Flags {
	return Flags{
		Synonym:      f.Synonym || o.Synonym,
		UsageVariant: f.UsageVariant || o.UsageVariant,
		Related:      f.Related || o.Related,
		Hypernym:     f.Hypernym || o.Hypernym,
		Hyponym:      f.Hyponym || o.Hyponym,
		Antonym:      f.Antonym || o.Antonym,
		NotRelated:   f.NotRelated || o.NotRelated,
	}
}

// Mirror returns the flags as seen from the reversed pair.
func (f Flags) Mirror() Flags {
	f.Hypernym, f.Hyponym = f.Hyponym, f.Hypernym
	return f
}

// Count returns the number of semantic flags set.
func (f Flags) Count() int {
	n := 0
	for _, b := range []bool{f.Synonym, f.UsageVariant, f.Related, f.Hypernym, f.Hyponym, f.Antonym} {
		if b {
			n++
		}
	}
	return n
}

// Relation returns the single semantic label of f, or None when zero or
// several flags are set.
func (f Flags) Relation() Relation {
	if f.Count() != 1 {
		return None
	}
	return Resolve(f)
}

// Resolve reduces a flag set to one label. Antonym beats everything; the
// rest follow related, synonym, usage_variant, hypernym, hyponym. A set
// holding only not_related (or nothing) resolves to None; a curated
// not_related is applied by Arena.Merge before Resolve is reached.
func Resolve(f Flags) Relation {
	switch {
	case f.Antonym:
		return Antonym
	case f.Related:
		return Related
	case f.Synonym:
		return Synonym
	case f.UsageVariant:
		return UsageVariant
	case f.Hypernym:
		return Hypernym
	case f.Hyponym:
		return Hyponym
	}
	return None
}

// Edge is one piece of relation evidence between two phrases.
type Edge struct {
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	Type       Relation `json:"type"`
	Confidence float64  `json:"confidence"`
	Origin     string   `json:"origin"`
}
