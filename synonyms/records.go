// Package synonyms produces synonym, usage-variant and similar-phrase
// evidence: it discovers usage variants inside the taxonomy, finds
// embedding neighbours, and merges candidate files from external
// paraphrase sources into unified records.
package synonyms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/brunobiangulo/thesaurus/graph"
	"github.com/brunobiangulo/thesaurus/phrase"
	"github.com/brunobiangulo/thesaurus/taxonomy"
)

// Record is the unified candidate record for one key phrase.
type Record struct {
	Key            string   `json:"key"`
	IsTermManual   *int     `json:"is_term_manual"`
	OOFProbClass   *float64 `json:"oof_prob_class"`
	UsageVariants  []string `json:"usage_variants"`
	Synonyms       []string `json:"synonyms"`
	SimilarPhrases []string `json:"similar_phrases"`
}

// Format names the layout of a candidate file.
type Format string

const (
	// FormatUnified is a list of Record.
	FormatUnified Format = "unified"
	// FormatNeighbors maps a key to {key, ..., synonyms: [{key, ...}]}.
	FormatNeighbors Format = "neighbors"
	// FormatParaphrase maps a key to {key, ..., top_paraphrases: [string],
	// found_in_data: [{key, ...}]}.
	FormatParaphrase Format = "paraphrase"
	// FormatMasked maps a key to {key, ..., synonyms: [{new_phrase,
	// similarity_for_masked_word}]}.
	FormatMasked Format = "masked"
	// FormatUsage is the usage-variant artifact written by UsageVariants.
	FormatUsage Format = "usage_variants"
)

// Source is one candidate file.
type Source struct {
	Path   string `json:"path" yaml:"path"`
	Format Format `json:"format" yaml:"format"`
}

// Options holds the candidate filters.
type Options struct {
	// MinOOF drops a record whose key and candidates are all non-terms
	// below this score.
	MinOOF float64 `json:"min_oof" yaml:"min_oof"`
	// MaskedSimilarity splits masked-model candidates: at or above it they
	// are synonyms, below it similar phrases.
	MaskedSimilarity float64 `json:"masked_similarity" yaml:"masked_similarity"`
	// NeighborSimilarity is the cosine threshold for embedding synonyms.
	NeighborSimilarity float64 `json:"neighbor_similarity" yaml:"neighbor_similarity"`
	// Neighbors is the number of embedding neighbours inspected per phrase.
	Neighbors int `json:"neighbors" yaml:"neighbors"`
	Workers   int `json:"workers" yaml:"workers"`
}

// DefaultOptions returns the standard filters.
func DefaultOptions() Options {
	return Options{
		MinOOF:             0.4,
		MaskedSimilarity:   0.64,
		NeighborSimilarity: 0.8,
		Neighbors:          100,
		Workers:            8,
	}
}

type candidate struct {
	Key          string   `json:"key"`
	NewPhrase    string   `json:"new_phrase"`
	IsTermManual *int     `json:"is_term_manual"`
	OOFProbClass *float64 `json:"oof_prob_class"`
	Similarity   float64  `json:"similarity_for_masked_word"`
}

func (c candidate) entry() taxonomy.Entry {
	return taxonomy.Entry{Phrase: c.Key, IsTermManual: c.IsTermManual, OOFProbClass: c.OOFProbClass}
}

type rawItem struct {
	Key            string      `json:"key"`
	IsTermManual   *int        `json:"is_term_manual"`
	OOFProbClass   *float64    `json:"oof_prob_class"`
	Synonyms       []candidate `json:"synonyms"`
	FoundInData    []candidate `json:"found_in_data"`
	TopParaphrases []string    `json:"top_paraphrases"`
}

// keep reports whether a record survives the quality filter: it is kept
// when the key or any candidate is a manual term or scores at least minOOF.
func keep(key taxonomy.Entry, candidates []candidate, minOOF float64) bool {
	strong := func(e taxonomy.Entry) bool { return e.Manual() != 0 || e.OOF() >= minOOF }
	if strong(key) {
		return true
	}
	for _, c := range candidates {
		if strong(c.entry()) {
			return true
		}
	}
	return false
}

// LoadSource reads one candidate file and converts it to unified records.
func LoadSource(src Source, opts Options) ([]Record, error) {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", src.Path, err)
	}
	recs, err := Decode(data, src.Format, opts)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", src.Path, err)
	}
	slog.Info("synonyms: source loaded", "path", src.Path, "format", src.Format, "records", len(recs))
	return recs, nil
}

// Decode converts candidate JSON in the given format to unified records.
func Decode(data []byte, format Format, opts Options) ([]Record, error) {
	switch format {
	case FormatUnified, "":
		var recs []Record
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, err
		}
		return recs, nil
	case FormatUsage:
		groups, err := decodeList[VariantGroup](data)
		if err != nil {
			return nil, err
		}
		recs := make([]Record, 0, len(groups))
		for _, g := range groups {
			recs = append(recs, g.Record())
		}
		return recs, nil
	case FormatNeighbors, FormatParaphrase, FormatMasked:
	default:
		return nil, fmt.Errorf("unknown candidate format %q", format)
	}

	items, err := decodeItems(data)
	if err != nil {
		return nil, err
	}
	var recs []Record
	for _, it := range items {
		key := taxonomy.Entry{Phrase: it.Key, IsTermManual: it.IsTermManual, OOFProbClass: it.OOFProbClass}
		rec := Record{
			Key:            it.Key,
			IsTermManual:   it.IsTermManual,
			OOFProbClass:   it.OOFProbClass,
			UsageVariants:  []string{},
			Synonyms:       []string{},
			SimilarPhrases: []string{},
		}
		switch format {
		case FormatNeighbors:
			if !keep(key, it.Synonyms, opts.MinOOF) {
				continue
			}
			for _, c := range it.Synonyms {
				rec.Synonyms = appendNonEmpty(rec.Synonyms, c.Key)
			}
		case FormatParaphrase:
			if !keep(key, it.FoundInData, opts.MinOOF) {
				continue
			}
			for _, p := range it.TopParaphrases {
				if phrase.TokenCount(p) > 1 {
					rec.UsageVariants = append(rec.UsageVariants, p)
				}
			}
			for _, c := range it.FoundInData {
				rec.Synonyms = appendNonEmpty(rec.Synonyms, c.Key)
			}
		case FormatMasked:
			if !keep(key, it.Synonyms, opts.MinOOF) {
				continue
			}
			for _, c := range it.Synonyms {
				if c.Similarity < opts.MaskedSimilarity {
					rec.SimilarPhrases = appendNonEmpty(rec.SimilarPhrases, c.NewPhrase)
				} else {
					rec.Synonyms = appendNonEmpty(rec.Synonyms, c.NewPhrase)
				}
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func appendNonEmpty(list []string, s string) []string {
	if s == "" {
		return list
	}
	return append(list, s)
}

// decodeItems accepts a key-indexed object or a list. Object entries are
// returned in key order.
func decodeItems(data []byte) ([]rawItem, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return decodeList[rawItem](trimmed)
	}
	var byKey map[string]rawItem
	if err := json.Unmarshal(trimmed, &byKey); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]rawItem, 0, len(keys))
	for _, k := range keys {
		it := byKey[k]
		if it.Key == "" {
			it.Key = k
		}
		items = append(items, it)
	}
	return items, nil
}

// decodeList accepts a list or a single object.
func decodeList[T any](data []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var one T
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, err
		}
		return []T{one}, nil
	}
	var list []T
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Merge combines records by normalised key in first-seen order: candidate
// lists are unioned, oof_prob_class takes the maximum and is_term_manual is
// 1 when any source says so.
func Merge(sources ...[]Record) []Record {
	index := make(map[string]int)
	var out []Record
	for _, recs := range sources {
		for _, r := range recs {
			norm := phrase.Normalize(r.Key)
			if norm == "" {
				continue
			}
			i, ok := index[norm]
			if !ok {
				index[norm] = len(out)
				out = append(out, Record{
					Key:            r.Key,
					IsTermManual:   r.IsTermManual,
					OOFProbClass:   r.OOFProbClass,
					UsageVariants:  union(nil, r.UsageVariants),
					Synonyms:       union(nil, r.Synonyms),
					SimilarPhrases: union(nil, r.SimilarPhrases),
				})
				continue
			}
			m := &out[i]
			m.UsageVariants = union(m.UsageVariants, r.UsageVariants)
			m.Synonyms = union(m.Synonyms, r.Synonyms)
			m.SimilarPhrases = union(m.SimilarPhrases, r.SimilarPhrases)
			m.OOFProbClass = maxOOF(m.OOFProbClass, r.OOFProbClass)
			m.IsTermManual = orManual(m.IsTermManual, r.IsTermManual)
		}
	}
	return out
}

// union appends the items of add missing from list, comparing normalised
// forms. The result is never nil.
func union(list, add []string) []string {
	seen := make(map[string]bool, len(list)+len(add))
	out := make([]string, 0, len(list)+len(add))
	for _, s := range append(append([]string(nil), list...), add...) {
		n := phrase.Normalize(s)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, s)
	}
	return out
}

func maxOOF(a, b *float64) *float64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b > *a:
		return b
	}
	return a
}

func orManual(a, b *int) *int {
	if a == nil && b == nil {
		return nil
	}
	v := 0
	if (a != nil && *a != 0) || (b != nil && *b != 0) {
		v = 1
	}
	return &v
}

// Edges converts records into evidence: synonyms become synonym edges,
// usage variants usage_variant edges and similar phrases related edges.
func Edges(recs []Record) []graph.Edge {
	var edges []graph.Edge
	add := func(key string, targets []string, rel graph.Relation) {
		for _, t := range targets {
			edges = append(edges, graph.Edge{Source: key, Target: t, Type: rel, Confidence: 1, Origin: "synonyms"})
		}
	}
	for _, r := range recs {
		add(r.Key, r.Synonyms, graph.Synonym)
		add(r.Key, r.UsageVariants, graph.UsageVariant)
		add(r.Key, r.SimilarPhrases, graph.Related)
	}
	return edges
}
