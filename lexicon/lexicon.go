// Package lexicon applies vocabulary-driven rules to relation labels: it
// corrects labels of pairs that differ by a marker word and detects
// antonyms by negation or by a fixed list of opposite words.
package lexicon

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/thesaurus/graph"
	"github.com/brunobiangulo/thesaurus/phrase"
)

//go:embed vocab.yaml
var defaultVocabulary []byte

// Vocabulary is the data behind the rules.
type Vocabulary struct {
	ActionNouns          []string   `yaml:"action_nouns" json:"action_nouns"`
	ConcretizationNouns  []string   `yaml:"concretization_nouns" json:"concretization_nouns"`
	PositionalAdjectives []string   `yaml:"positional_adjectives" json:"positional_adjectives"`
	NegationPrefix       string     `yaml:"negation_prefix" json:"negation_prefix"`
	Antonyms             [][]string `yaml:"antonyms" json:"antonyms"`
}

type antonymPair struct {
	a, b []string
}

// Lexicon is a compiled Vocabulary. It is safe for concurrent use.
type Lexicon struct {
	action     map[string]bool
	concrete   map[string]bool
	positional map[string]bool
	negation   string
	antonyms   []antonymPair
}

// Default returns the lexicon built from the embedded vocabulary.
func Default() *Lexicon {
	l, err := Parse(defaultVocabulary)
	if err != nil {
		panic(fmt.Sprintf("lexicon: embedded vocabulary: %v", err))
	}
	return l
}

// Load reads a YAML vocabulary from path. An empty path returns Default.
func Load(path string) (*Lexicon, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing vocabulary %s: %w", path, err)
	}
	return l, nil
}

// Parse compiles a YAML vocabulary.
func Parse(data []byte) (*Lexicon, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return Compile(v)
}

// Compile builds a Lexicon from v. Every antonym entry must hold exactly
// two phrases.
func Compile(v Vocabulary) (*Lexicon, error) {
	l := &Lexicon{
		action:     set(v.ActionNouns),
		concrete:   set(v.ConcretizationNouns),
		positional: set(v.PositionalAdjectives),
		negation:   phrase.Normalize(v.NegationPrefix),
	}
	for i, p := range v.Antonyms {
		if len(p) != 2 {
			return nil, fmt.Errorf("antonym entry %d: want 2 phrases, got %d", i, len(p))
		}
		a, b := phrase.Tokens(p[0]), phrase.Tokens(p[1])
		if len(a) == 0 || len(b) == 0 {
			return nil, fmt.Errorf("antonym entry %d: empty phrase", i)
		}
		l.antonyms = append(l.antonyms, antonymPair{a: a, b: b})
	}
	return l, nil
}

func set(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		if n := phrase.Normalize(w); n != "" {
			m[n] = true
		}
	}
	return m
}

// prefixOf returns the marker when full is "<marker> base".
func prefixOf(full, base string) (string, bool) {
	if len(full) <= len(base)+1 || !strings.HasSuffix(full, " "+base) {
		return "", false
	}
	return full[:len(full)-len(base)-1], true
}

// Correct returns the relation of phrase to key after applying the rules
// in order: an action-noun prefix makes the pair related; a concretisation
// prefix makes the prefixed side the hyponym; one extra positional
// adjective makes the modified side the hyponym. Otherwise current is
// returned unchanged.
func (l *Lexicon) Correct(key, text string, current graph.Relation) graph.Relation {
	nk, np := phrase.Normalize(key), phrase.Normalize(text)
	if nk == "" || np == "" || nk == np {
		return current
	}

	mk, keyPrefixed := prefixOf(nk, np)
	mp, phrasePrefixed := prefixOf(np, nk)

	if (keyPrefixed && l.action[mk]) || (phrasePrefixed && l.action[mp]) {
		return graph.Related
	}
	if keyPrefixed && l.concrete[mk] {
		return graph.Hypernym
	}
	if phrasePrefixed && l.concrete[mp] {
		return graph.Hyponym
	}

	tk, tp := strings.Fields(nk), strings.Fields(np)
	if l.extraAdjective(tk, tp) {
		return graph.Hypernym
	}
	if l.extraAdjective(tp, tk) {
		return graph.Hyponym
	}
	return current
}

// extraAdjective reports whether long equals short with one positional
// adjective inserted.
func (l *Lexicon) extraAdjective(long, short []string) bool {
	if len(long) != len(short)+1 {
		return false
	}
	for i, w := range long {
		if !l.positional[w] {
			continue
		}
		if equalWithout(long, i, short) {
			return true
		}
	}
	return false
}

func equalWithout(long []string, skip int, short []string) bool {
	j := 0
	for i, w := range long {
		if i == skip {
			continue
		}
		if w != short[j] {
			return false
		}
		j++
	}
	return true
}

// IsAntonym reports whether a and b are opposites: the first word of one
// is the negated first word of the other with the rest equal, or
// substituting one side of a listed pair in a yields b.
func (l *Lexicon) IsAntonym(a, b string) bool {
	ta, tb := phrase.Tokens(a), phrase.Tokens(b)
	if len(ta) == 0 || len(tb) == 0 || strings.Join(ta, " ") == strings.Join(tb, " ") {
		return false
	}
	if l.negated(ta, tb) || l.negated(tb, ta) {
		return true
	}
	target := strings.Join(tb, " ")
	for _, p := range l.antonyms {
		if joinReplaced(ta, p.a, p.b) == target || joinReplaced(ta, p.b, p.a) == target {
			return true
		}
	}
	return false
}

func (l *Lexicon) negated(neg, plain []string) bool {
	if l.negation == "" || len(neg) < 2 || len(plain) < 2 || len(neg) != len(plain) {
		return false
	}
	if neg[0] != l.negation+plain[0] {
		return false
	}
	for i := 1; i < len(neg); i++ {
		if neg[i] != plain[i] {
			return false
		}
	}
	return true
}

// joinReplaced replaces every whole-token occurrence of from in tokens with
// to and joins the result. It returns "" when from does not occur.
func joinReplaced(tokens, from, to []string) string {
	var out []string
	found := false
	for i := 0; i < len(tokens); {
		if i+len(from) <= len(tokens) && slices.Equal(tokens[i:i+len(from)], from) {
			out = append(out, to...)
			i += len(from)
			found = true
			continue
		}
		out = append(out, tokens[i])
		i++
	}
	if !found {
		return ""
	}
	return strings.Join(out, " ")
}
