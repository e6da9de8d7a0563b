// Package eval scores a merged relation graph against manually labelled
// gold pairs.
package eval

import (
	"cmp"
	"log/slog"
	"slices"
	"time"

	"github.com/brunobiangulo/thesaurus/graph"
	"github.com/brunobiangulo/thesaurus/phrase"
	"github.com/brunobiangulo/thesaurus/synonyms"
)

// Lookup resolves the merged label of a directed pair.
type Lookup interface {
	Relation(a, b string) graph.Relation
}

// Report holds the outcome of one evaluation.
type Report struct {
	Dataset   string                     `json:"dataset,omitempty"`
	Pairs     int                        `json:"pairs"`
	Correct   int                        `json:"correct"`
	Accuracy  float64                    `json:"accuracy"`
	MacroF1   float64                    `json:"macro_f1"`
	Relations map[graph.Relation]Metrics `json:"relations"`
	Errors    []PairResult               `json:"errors,omitempty"`
	RunTime   time.Duration              `json:"run_time"`
}

// Metrics are the per-relation counts and scores. Support counts gold pairs
// with the relation, Predicted counts gold pairs the graph labels with it.
type Metrics struct {
	Support   int     `json:"support"`
	Predicted int     `json:"predicted"`
	Hits      int     `json:"hits"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// PairResult is one gold pair whose merged label disagrees with the gold one.
type PairResult struct {
	Key       string         `json:"key"`
	Phrase    string         `json:"phrase"`
	Expected  graph.Relation `json:"expected"`
	Predicted graph.Relation `json:"predicted"`
}

// Evaluate compares g with every gold pair. A not_related gold label expects
// no relation. Pairs absent from gold are not scored, since labelled files
// are partial. Duplicate pairs count once, first label wins.
func Evaluate(g Lookup, gold []synonyms.Labelled) *Report {
	start := time.Now()
	report := &Report{Relations: make(map[graph.Relation]Metrics)}
	seen := make(map[[2]string]bool)

	for _, l := range gold {
		for _, p := range l.Phrases {
			pair := [2]string{phrase.Normalize(l.Key), phrase.Normalize(p.Phrase)}
			if seen[pair] || pair[0] == pair[1] {
				continue
			}
			want, err := graph.ParseRelation(p.Relation)
			if err != nil {
				slog.Warn("skipping gold pair", "key", l.Key, "phrase", p.Phrase, "error", err)
				continue
			}
			seen[pair] = true
			if want == graph.NotRelated {
				want = graph.None
			}
			got := g.Relation(l.Key, p.Phrase)

			report.Pairs++
			if want != graph.None {
				m := report.Relations[want]
				m.Support++
				report.Relations[want] = m
			}
			if got != graph.None {
				m := report.Relations[got]
				m.Predicted++
				report.Relations[got] = m
			}
			if got == want {
				report.Correct++
				if want != graph.None {
					m := report.Relations[want]
					m.Hits++
					report.Relations[want] = m
				}
				continue
			}
			report.Errors = append(report.Errors, PairResult{Key: l.Key, Phrase: p.Phrase, Expected: want, Predicted: got})
		}
	}

	var f1s []float64
	for r, m := range report.Relations {
		m.Precision = ratio(m.Hits, m.Predicted)
		m.Recall = ratio(m.Hits, m.Support)
		m.F1 = f1(m.Precision, m.Recall)
		report.Relations[r] = m
		f1s = append(f1s, m.F1)
	}
	report.Accuracy = ratio(report.Correct, report.Pairs)
	report.MacroF1 = mean(f1s)
	slices.SortStableFunc(report.Errors, func(a, b PairResult) int {
		if a.Expected != b.Expected {
			return cmp.Compare(a.Expected, b.Expected)
		}
		return cmp.Compare(a.Key, b.Key)
	})
	report.RunTime = time.Since(start)
	return report
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func f1(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
