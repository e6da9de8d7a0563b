// Package phrase owns phrase identity: one normalisation function shared by
// every stage and an interning table that maps normalised text to a compact
// ID. Stages never compare raw strings; they compare IDs.
package phrase

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns the matching form of s: Unicode NFC, whitespace
// collapsed to single spaces, case folded.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	return cases.Fold().String(s)
}

// Tokens splits the normalised form of s on whitespace.
func Tokens(s string) []string {
	return strings.Fields(Normalize(s))
}

// TokenCount returns the number of whitespace tokens in s.
func TokenCount(s string) int {
	return len(strings.Fields(s))
}

// SharedTokens counts distinct tokens present in both a and b.
func SharedTokens(a, b string) int {
	seen := make(map[string]bool)
	for _, t := range Tokens(a) {
		seen[t] = true
	}
	n := 0
	for _, t := range Tokens(b) {
		if seen[t] {
			n++
			seen[t] = false
		}
	}
	return n
}

// Compare orders display strings case-insensitively, falling back to the
// raw bytes so the order is total.
func Compare(a, b string) int {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if c := strings.Compare(la, lb); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// ID identifies an interned phrase within a Table.
type ID int32

// None is returned for empty or unknown phrases.
const None ID = -1

// Table interns phrases. The first display form seen for a normalised key
// is kept for output.
type Table struct {
	mu      sync.RWMutex
	ids     map[string]ID
	display []string
	norm    []string
}

// NewTable creates an empty phrase table.
func NewTable() *Table {
	return &Table{ids: make(map[string]ID)}
}

// Intern returns the ID for text, adding it if needed. Empty text yields
// (None, false).
func (t *Table) Intern(text string) (ID, bool) {
	key := Normalize(text)
	if key == "" {
		return None, false
	}

	t.mu.RLock()
	id, ok := t.ids[key]
	t.mu.RUnlock()
	if ok {
		return id, true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[key]; ok {
		return id, true
	}
	id = ID(len(t.norm))
	t.ids[key] = id
	t.norm = append(t.norm, key)
	t.display = append(t.display, strings.Join(strings.Fields(text), " "))
	return id, true
}

// Lookup returns the ID for text without inserting it.
func (t *Table) Lookup(text string) (ID, bool) {
	key := Normalize(text)
	if key == "" {
		return None, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.ids[key]
	if !ok {
		return None, false
	}
	return id, true
}

// Display returns the display form of id.
func (t *Table) Display(id ID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id < 0 || int(id) >= len(t.display) {
		return ""
	}
	return t.display[id]
}

// Normalized returns the matching form of id.
func (t *Table) Normalized(id ID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id < 0 || int(id) >= len(t.norm) {
		return ""
	}
	return t.norm[id]
}

// Len returns the number of interned phrases.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.norm)
}

// Less orders two IDs by their display forms, case-insensitively.
func (t *Table) Less(a, b ID) bool {
	return Compare(t.Display(a), t.Display(b)) < 0
}
