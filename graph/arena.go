// Package graph merges relation evidence from every extraction stage into a
// single symmetric relation graph with exactly one label per phrase pair.
package graph

import (
	"log/slog"
	"sync"

	"github.com/brunobiangulo/thesaurus/phrase"
)

// Corrector relabels a resolved pair. It returns current when no rule
// applies.
type Corrector interface {
	Correct(key, phrase string, current Relation) Relation
}

// AntonymDetector reports whether two phrases are antonyms.
type AntonymDetector interface {
	IsAntonym(a, b string) bool
}

// MergeOptions configures Arena.Merge. Nil fields disable the step.
type MergeOptions struct {
	Corrector Corrector
	Antonyms  AntonymDetector
	// Members restricts the output to pairs whose phrases both pass.
	Members func(phrase.ID) bool
}

// OriginManual marks curated evidence. A pair with manual evidence ignores
// every automatic edge, and a manual not_related removes the pair.
const OriginManual = "manual"

type pair struct {
	a, b phrase.ID
}

// Arena accumulates relation flags per ordered phrase pair.
type Arena struct {
	mu      sync.Mutex
	phrases *phrase.Table
	flags   map[pair]Flags
	manual  map[pair]Flags
	edges   int
	dropped int
}

// NewArena creates an empty arena interning phrases into tab.
func NewArena(tab *phrase.Table) *Arena {
	return &Arena{phrases: tab, flags: make(map[pair]Flags), manual: make(map[pair]Flags)}
}

// Accumulate records edges and returns how many were accepted. Edges with
// an empty side, a self reference or an unknown type are dropped.
func (a *Arena) Accumulate(edges ...Edge) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	accepted := 0
	for _, e := range edges {
		if e.Type != NotRelated && !e.Type.Semantic() {
			a.dropped++
			continue
		}
		src, ok1 := a.phrases.Intern(e.Source)
		dst, ok2 := a.phrases.Intern(e.Target)
		if !ok1 || !ok2 || src == dst {
			a.dropped++
			continue
		}
		into := a.flags
		if e.Origin == OriginManual {
			into = a.manual
		}
		p := pair{src, dst}
		f := into[p]
		f.Set(e.Type)
		into[p] = f
		accepted++
	}
	a.edges += accepted
	return accepted
}

// Len returns the number of ordered pairs holding evidence.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.flags)
	for p := range a.manual {
		if _, ok := a.flags[p]; !ok {
			n++
		}
	}
	return n
}

// Merge resolves every unordered pair to one label and writes it in both
// directions. Evidence on (B, A) is mirrored onto (A, B) first, so a
// hypernym edge on one side and a hyponym edge on the other agree, and
// contradicting evidence is settled by Resolve. Manual evidence replaces
// automatic evidence for its pair and is not corrected. The arena is not
// modified.
func (a *Arena) Merge(opts MergeOptions) *Graph {
	a.mu.Lock()
	defer a.mu.Unlock()

	g := New(a.phrases)
	done := make(map[pair]bool, len(a.flags)+len(a.manual))
	var skipped, corrected, antonyms, manual, suppressed int

	pairs := make([]pair, 0, len(a.flags)+len(a.manual))
	for p := range a.flags {
		pairs = append(pairs, p)
	}
	for p := range a.manual {
		pairs = append(pairs, p)
	}

	for _, p := range pairs {
		lo, hi := p.a, p.b
		if a.phrases.Less(hi, lo) {
			lo, hi = hi, lo
		}
		canon := pair{lo, hi}
		if done[canon] {
			continue
		}
		done[canon] = true

		if opts.Members != nil && (!opts.Members(lo) || !opts.Members(hi)) {
			skipped++
			continue
		}

		labels, curated := a.curated(lo, hi)
		if curated {
			manual++
			if labels.NotRelated {
				suppressed++
				continue
			}
			if r := Resolve(labels); r != None {
				g.set(lo, hi, r)
				continue
			}
		}

		evidence := a.flags[canon].Union(a.flags[pair{hi, lo}].Mirror())
		r := Resolve(evidence)
		if r == None {
			skipped++
			continue
		}

		loText, hiText := a.phrases.Display(lo), a.phrases.Display(hi)
		if opts.Corrector != nil && r != Antonym {
			if c := correct(opts.Corrector, loText, hiText, r); c != r {
				r = c
				corrected++
			}
		}
		if opts.Antonyms != nil && r != Antonym && opts.Antonyms.IsAntonym(loText, hiText) {
			r = Antonym
			antonyms++
		}
		g.set(lo, hi, r)
	}

	slog.Info("graph: merged",
		"edges", a.edges,
		"dropped_edges", a.dropped,
		"pairs", g.Pairs(),
		"skipped_pairs", skipped,
		"corrected", corrected,
		"antonyms", antonyms,
		"manual_pairs", manual,
		"suppressed_pairs", suppressed)
	return g
}

// curated returns the manual flags of (lo, hi) seen from lo, and whether
// any exist.
func (a *Arena) curated(lo, hi phrase.ID) (Flags, bool) {
	fwd, ok1 := a.manual[pair{lo, hi}]
	back, ok2 := a.manual[pair{hi, lo}]
	if !ok1 && !ok2 {
		return Flags{}, false
	}
	return fwd.Union(back.Mirror()), true
}

// correct asks c about (lo, hi) and, failing a change, about (hi, lo).
func correct(c Corrector, lo, hi string, r Relation) Relation {
	if got := c.Correct(lo, hi, r); got != r && got.Semantic() {
		return got
	}
	inv := r.Inverse()
	if got := c.Correct(hi, lo, inv); got != inv && got.Semantic() {
		return got.Inverse()
	}
	return r
}
