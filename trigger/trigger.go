// Package trigger extracts "X is a Y" pairs from sentences containing a
// fixed lexical trigger such as "это метод" between two taxonomy phrases.
package trigger

import (
	"log/slog"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/brunobiangulo/thesaurus/corpus"
	"github.com/brunobiangulo/thesaurus/graph"
	"github.com/brunobiangulo/thesaurus/phrase"
	"github.com/brunobiangulo/thesaurus/taxonomy"
)

// DefaultTriggers are matched against the lower-cased sentence in order.
var DefaultTriggers = []string{
	"это метод",
	"это алгоритм",
	"это процесс",
	"это техника",
	"это концепция",
	"относится к классу",
}

var latinWord = regexp.MustCompile(`^[A-Za-z]+`)

// Options configures the extractor.
type Options struct {
	Triggers []string `json:"triggers" yaml:"triggers"`
	// StartPosition is the largest trigger offset, in characters, treated
	// as the start of the sentence.
	StartPosition int `json:"start_position" yaml:"start_position"`
	// MaxGapWords bounds the words between a phrase and the trigger.
	MaxGapWords     int     `json:"max_gap_words" yaml:"max_gap_words"`
	MinOOF          float64 `json:"min_oof" yaml:"min_oof"`
	SubjectMinOOF   float64 `json:"subject_min_oof" yaml:"subject_min_oof"`
	PredicateMinOOF float64 `json:"predicate_min_oof" yaml:"predicate_min_oof"`
	MaxRelations    int     `json:"max_relations" yaml:"max_relations"`
}

// DefaultOptions returns the standard triggers and gates.
func DefaultOptions() Options {
	return Options{
		Triggers:        DefaultTriggers,
		StartPosition:   3,
		MaxGapWords:     2,
		MinOOF:          0.05,
		SubjectMinOOF:   0.10,
		PredicateMinOOF: 0.15,
		MaxRelations:    2,
	}
}

// PrevSentence is the snapshot attached to cross-sentence relations.
type PrevSentence struct {
	DocNum        int    `json:"docNum"`
	SentNum       int    `json:"sentNum"`
	NormalizedStr string `json:"normalizedStr"`
	OriginalStr   string `json:"originalStr"`
}

// Relation is one extracted pair. Subject is the hyponym and Predicate the
// hypernym.
type Relation struct {
	Subject      taxonomy.Entry `json:"subject"`
	Predicate    taxonomy.Entry `json:"predicate"`
	PrevSentence *PrevSentence  `json:"prev_sentence,omitempty"`
}

// Sentence is a corpus sentence enriched with its relations.
type Sentence struct {
	corpus.Sentence
	IsA []Relation `json:"is-a"`
}

// Output is the triggers artifact.
type Output struct {
	Sentences []Sentence `json:"sentences"`
}

// Extractor finds trigger relations.
type Extractor struct {
	tax  *taxonomy.Taxonomy
	opts Options
}

// New creates an Extractor. Missing triggers, gap and relation limits take
// their defaults; gates keep the values given.
func New(tax *taxonomy.Taxonomy, opts Options) *Extractor {
	def := DefaultOptions()
	if len(opts.Triggers) == 0 {
		opts.Triggers = def.Triggers
	}
	if opts.MaxGapWords <= 0 {
		opts.MaxGapWords = def.MaxGapWords
	}
	if opts.MaxRelations <= 0 {
		opts.MaxRelations = def.MaxRelations
	}
	return &Extractor{tax: tax, opts: opts}
}

// Extract scans every sentence of c and returns those with at least one
// relation, in corpus order.
func (x *Extractor) Extract(c *corpus.Corpus) *Output {
	out := &Output{Sentences: []Sentence{}}
	relations := 0
	for i := 0; i < c.Len(); i++ {
		rels := x.ExtractAt(c, i)
		if len(rels) == 0 {
			continue
		}
		relations += len(rels)
		out.Sentences = append(out.Sentences, Sentence{Sentence: c.At(i), IsA: rels})
	}
	slog.Info("triggers: complete", "sentences", c.Len(), "enriched", len(out.Sentences), "relations", relations)
	return out
}

// ExtractAt returns the relations of the i-th sentence of c. Only the
// first trigger in list order is considered.
func (x *Extractor) ExtractAt(c *corpus.Corpus, i int) []Relation {
	s := c.At(i)
	lower := []rune(strings.ToLower(s.NormalizedStr))

	for _, trig := range x.opts.Triggers {
		t := []rune(strings.ToLower(trig))
		pos := index(lower, t, 0)
		if pos < 0 {
			continue
		}
		var rels []Relation
		if pos > x.opts.StartPosition {
			rels = x.withinSentence(s, lower, pos, pos+len(t))
		} else if prev, ok := c.Previous(i); ok {
			rels = x.crossSentence(prev, s, lower, pos+len(t))
		}
		return x.top(rels)
	}
	return nil
}

func (x *Extractor) withinSentence(s corpus.Sentence, lower []rune, trigStart, predStart int) []Relation {
	var left []taxonomy.Entry
	for _, key := range s.Keys {
		k := []rune(strings.ToLower(key))
		if len(k) == 0 {
			continue
		}
		if pos := lastIndex(lower, k, trigStart); pos >= 0 && x.gapOK(lower, pos+len(k), trigStart) {
			left = append(left, x.tax.Info(key))
		}
	}
	right := x.predicates(s, lower, predStart)
	if len(left) == 0 || len(right) == 0 {
		return nil
	}

	gate := taxonomy.Gate{MinOOF: x.opts.MinOOF}
	var rels []Relation
	for _, subj := range left {
		for _, pred := range right {
			if !gate.Pass(subj) || !gate.Pass(pred) {
				continue
			}
			rels = append(rels, Relation{Subject: subj, Predicate: pred})
		}
	}
	return rels
}

func (x *Extractor) crossSentence(prev, cur corpus.Sentence, lower []rune, predStart int) []Relation {
	if words := strings.Fields(cur.OriginalStr); len(words) > 0 && latinWord.MatchString(words[0]) {
		return nil
	}
	right := x.predicates(cur, lower, predStart)
	if len(right) == 0 {
		return nil
	}
	left := x.lastPhrases(prev)
	if len(left) == 0 {
		return nil
	}

	subjGate := taxonomy.Gate{MinOOF: x.opts.SubjectMinOOF}
	predGate := taxonomy.Gate{MinOOF: x.opts.PredicateMinOOF}
	snap := &PrevSentence{
		DocNum:        prev.DocNum,
		SentNum:       prev.SentNum,
		NormalizedStr: prev.NormalizedStr,
		OriginalStr:   prev.OriginalStr,
	}
	var rels []Relation
	for _, subj := range left {
		for _, pred := range right {
			if !subjGate.Pass(subj) || !predGate.Pass(pred) {
				continue
			}
			rels = append(rels, Relation{Subject: subj, Predicate: pred, PrevSentence: snap})
		}
	}
	return rels
}

// predicates returns phrases whose first occurrence at or after predStart
// begins within the gap limit. A phrase absent after predStart qualifies
// when an occurrence spans the boundary.
func (x *Extractor) predicates(s corpus.Sentence, lower []rune, predStart int) []taxonomy.Entry {
	var right []taxonomy.Entry
	for _, key := range s.Keys {
		k := []rune(strings.ToLower(key))
		if len(k) == 0 {
			continue
		}
		if pos := index(lower, k, predStart); pos >= 0 {
			if x.gapOK(lower, predStart, pos) {
				right = append(right, x.tax.Info(key))
			}
			continue
		}
		if pos := index(lower, k, 0); pos >= 0 && pos < predStart && pos+len(k) > predStart {
			right = append(right, x.tax.Info(key))
		}
	}
	return right
}

// lastPhrases picks the phrases of s whose last occurrence ends rightmost,
// keeping only the longest among them.
func (x *Extractor) lastPhrases(s corpus.Sentence) []taxonomy.Entry {
	lower := []rune(strings.ToLower(s.NormalizedStr))
	type cand struct {
		key       string
		end, size int
	}
	var cands []cand
	maxEnd := -1
	for _, key := range s.Keys {
		k := []rune(strings.ToLower(key))
		if len(k) == 0 {
			continue
		}
		if pos := lastIndex(lower, k, len(lower)); pos >= 0 {
			c := cand{key: key, end: pos + len(k), size: len([]rune(key))}
			cands = append(cands, c)
			maxEnd = max(maxEnd, c.end)
		}
	}
	maxLen := 0
	for _, c := range cands {
		if c.end == maxEnd {
			maxLen = max(maxLen, c.size)
		}
	}

	seen := make(map[string]bool)
	var out []taxonomy.Entry
	for _, c := range cands {
		norm := phrase.Normalize(c.key)
		if c.end != maxEnd || c.size != maxLen || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, x.tax.Info(c.key))
	}
	return out
}

func (x *Extractor) gapOK(lower []rune, from, to int) bool {
	if from > to {
		return true
	}
	return len(strings.Fields(string(lower[from:to]))) <= x.opts.MaxGapWords
}

// top keeps the MaxRelations best pairs by summed oof_prob_class, then
// summed is_term_manual. Equal scores keep extraction order.
func (x *Extractor) top(rels []Relation) []Relation {
	if len(rels) <= x.opts.MaxRelations {
		return rels
	}
	sort.SliceStable(rels, func(i, j int) bool {
		oi := rels[i].Subject.OOF() + rels[i].Predicate.OOF()
		oj := rels[j].Subject.OOF() + rels[j].Predicate.OOF()
		if oi != oj {
			return oi > oj
		}
		return rels[i].Subject.Manual()+rels[i].Predicate.Manual() > rels[j].Subject.Manual()+rels[j].Predicate.Manual()
	})
	return rels[:x.opts.MaxRelations]
}

// index returns the first occurrence of sub in s at or after from.
func index(s, sub []rune, from int) int {
	for i := max(from, 0); i+len(sub) <= len(s); i++ {
		if slices.Equal(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

// lastIndex returns the last occurrence of sub lying entirely before end.
func lastIndex(s, sub []rune, end int) int {
	end = min(end, len(s))
	for i := end - len(sub); i >= 0; i-- {
		if slices.Equal(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

// Edges converts relations into hypernym evidence from subject to
// predicate.
func (o *Output) Edges() []graph.Edge {
	var edges []graph.Edge
	for _, s := range o.Sentences {
		for _, r := range s.IsA {
			edges = append(edges, graph.Edge{
				Source:     r.Subject.Phrase,
				Target:     r.Predicate.Phrase,
				Type:       graph.Hypernym,
				Confidence: 1,
				Origin:     "triggers",
			})
		}
	}
	return edges
}
