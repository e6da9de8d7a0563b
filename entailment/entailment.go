// Package entailment confirms hypernym candidates between phrases that
// co-occur in a sentence by asking a natural-language-inference model
// whether the sentence entails "X is a kind of Y".
package entailment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/thesaurus/corpus"
	"github.com/brunobiangulo/thesaurus/graph"
	"github.com/brunobiangulo/thesaurus/llm"
	"github.com/brunobiangulo/thesaurus/phrase"
	"github.com/brunobiangulo/thesaurus/taxonomy"
)

// ErrNoScores is returned by CheckPair when every template failed.
var ErrNoScores = errors.New("entailment: no template produced scores")

// DefaultTemplates are the hypothesis templates. {hypo} and {hyper} are
// replaced with the candidate phrases.
var DefaultTemplates = []string{
	"{hypo} — это вид {hyper}",
	"{hypo} — это тип {hyper}",
	"{hypo} — это разновидность {hyper}",
}

// Options holds the pre-filter and acceptance thresholds.
type Options struct {
	// PhraseMinOOF rejects a phrase marked as a non-term below this score.
	PhraseMinOOF float64 `json:"phrase_min_oof" yaml:"phrase_min_oof"`
	// BothLowOOF rejects a pair when both scores are below it.
	BothLowOOF float64 `json:"both_low_oof" yaml:"both_low_oof"`
	// EitherLowOOF rejects a pair when either side is a non-term below it.
	EitherLowOOF float64 `json:"either_low_oof" yaml:"either_low_oof"`
	// MaxSharedTokens rejects pairs sharing at least this many tokens.
	MaxSharedTokens int      `json:"max_shared_tokens" yaml:"max_shared_tokens"`
	MinEntailment   float64  `json:"min_entailment" yaml:"min_entailment"`
	MinMargin       float64  `json:"min_margin" yaml:"min_margin"`
	CheckNeutral    bool     `json:"check_neutral" yaml:"check_neutral"`
	Templates       []string `json:"templates" yaml:"templates"`
	Workers         int      `json:"workers" yaml:"workers"`
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		PhraseMinOOF:    0.1,
		BothLowOOF:      0.4,
		EitherLowOOF:    0.3,
		MaxSharedTokens: 2,
		MinEntailment:   0.85,
		MinMargin:       0.10,
		CheckNeutral:    true,
		Templates:       DefaultTemplates,
		Workers:         8,
	}
}

// TemplateScore is the classifier output for one filled template.
type TemplateScore struct {
	Template      string  `json:"template"`
	Entailment    float64 `json:"ent_score"`
	Contradiction float64 `json:"cont_score"`
	Neutral       float64 `json:"neutral_score"`
}

// Result is the verdict for one directed pair.
type Result struct {
	Hyper      string          `json:"hyper"`
	Hypo       string          `json:"hypo"`
	IsHyper    bool            `json:"is_hyper"`
	AvgEnt     float64         `json:"avg_ent_score"`
	AvgCont    float64         `json:"avg_cont_score"`
	AvgNeutral float64         `json:"avg_neutral_score"`
	Details    []TemplateScore `json:"details"`
}

// Relation is one accepted hypernym pair with its sentence of origin.
type Relation struct {
	DocNum     int            `json:"docNum"`
	SentNum    int            `json:"sentNum"`
	Sentence   string         `json:"sentence"`
	Hyper      taxonomy.Entry `json:"hyper"`
	Hypo       taxonomy.Entry `json:"hypo"`
	AvgEnt     float64        `json:"avg_ent_score"`
	AvgCont    float64        `json:"avg_cont_score"`
	AvgNeutral float64        `json:"avg_neutral_score"`
}

// Output is the entailment artifact.
type Output struct {
	Relations []Relation `json:"relations"`
}

// Verifier scores co-occurring phrase pairs.
type Verifier struct {
	tax  *taxonomy.Taxonomy
	clf  llm.Classifier
	opts Options
}

// New creates a Verifier. Zero thresholds keep their zero value; missing
// templates and workers take the defaults.
func New(tax *taxonomy.Taxonomy, clf llm.Classifier, opts Options) *Verifier {
	def := DefaultOptions()
	if len(opts.Templates) == 0 {
		opts.Templates = def.Templates
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	return &Verifier{tax: tax, clf: clf, opts: opts}
}

// lowOOF reports whether e has a recorded oof_prob_class below limit. A
// missing score never counts as low.
func lowOOF(e taxonomy.Entry, limit float64) bool {
	return e.OOFProbClass != nil && *e.OOFProbClass < limit
}

// Admit applies the pair pre-filters. Pairs it rejects are never sent to
// the classifier.
func (v *Verifier) Admit(a, b taxonomy.Entry) bool {
	if a.Phrase == "" || b.Phrase == "" || phrase.Normalize(a.Phrase) == phrase.Normalize(b.Phrase) {
		return false
	}
	for _, e := range []taxonomy.Entry{a, b} {
		if e.NotTerm() && lowOOF(e, v.opts.PhraseMinOOF) {
			return false
		}
	}
	if a.NotTerm() && b.NotTerm() {
		return false
	}
	if lowOOF(a, v.opts.BothLowOOF) && lowOOF(b, v.opts.BothLowOOF) {
		return false
	}
	if (a.NotTerm() && lowOOF(a, v.opts.EitherLowOOF)) || (b.NotTerm() && lowOOF(b, v.opts.EitherLowOOF)) {
		return false
	}
	if v.opts.MaxSharedTokens > 0 && phrase.SharedTokens(a.Phrase, b.Phrase) >= v.opts.MaxSharedTokens {
		return false
	}
	return true
}

// Direction orders a pair as (hypernym, hyponym): the phrase with fewer
// tokens is the hypernym and ties go to a.
func Direction(a, b string) (hyper, hypo string) {
	if phrase.TokenCount(a) <= phrase.TokenCount(b) {
		return a, b
	}
	return b, a
}

// CheckPair resolves the direction of (a, b) and scores it against every
// template with sentence as the premise. An empty sentence falls back to
// the hyponym itself. Templates whose call fails are left out of the
// averages; ErrNoScores is returned when none succeeded.
func (v *Verifier) CheckPair(ctx context.Context, a, b, sentence string) (Result, error) {
	hyper, hypo := Direction(a, b)
	res := Result{Hyper: hyper, Hypo: hypo}

	premise := sentence
	if strings.TrimSpace(premise) == "" {
		premise = hypo
	}
	fill := strings.NewReplacer("{hypo}", hypo, "{hyper}", hyper)

	for _, tmpl := range v.opts.Templates {
		hypothesis := fill.Replace(tmpl)
		s, err := v.clf.Classify(ctx, premise, hypothesis)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			slog.Debug("entailment: template failed", "hypothesis", hypothesis, "error", err)
			continue
		}
		res.Details = append(res.Details, TemplateScore{
			Template:      hypothesis,
			Entailment:    s.Entailment,
			Contradiction: s.Contradiction,
			Neutral:       s.Neutral,
		})
	}
	if len(res.Details) == 0 {
		return res, ErrNoScores
	}

	n := float64(len(res.Details))
	for _, d := range res.Details {
		res.AvgEnt += d.Entailment
		res.AvgCont += d.Contradiction
		res.AvgNeutral += d.Neutral
	}
	res.AvgEnt /= n
	res.AvgCont /= n
	res.AvgNeutral /= n

	res.IsHyper = res.AvgEnt >= v.opts.MinEntailment && res.AvgEnt-res.AvgCont >= v.opts.MinMargin
	if v.opts.CheckNeutral && res.AvgNeutral > res.AvgEnt {
		res.IsHyper = false
	}
	return res, nil
}

type job struct {
	sent   corpus.Sentence
	a, b   taxonomy.Entry
	result Result
	ok     bool
}

// Verify scores every admitted pair of co-occurring phrases in c on a
// bounded worker pool. Relations keep corpus order and are deduplicated by
// (docNum, sentNum, hyper, hypo).
func (v *Verifier) Verify(ctx context.Context, c *corpus.Corpus) (*Output, error) {
	start := time.Now()
	var jobs []*job
	for _, s := range c.Sentences() {
		if len(s.Keys) < 2 {
			continue
		}
		for i := 0; i < len(s.Keys); i++ {
			for j := i + 1; j < len(s.Keys); j++ {
				a, b := v.tax.Info(s.Keys[i]), v.tax.Info(s.Keys[j])
				if !v.Admit(a, b) {
					continue
				}
				jobs = append(jobs, &job{sent: s, a: a, b: b})
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.Workers)
	for _, jb := range jobs {
		g.Go(func() error {
			res, err := v.CheckPair(gctx, jb.a.Phrase, jb.b.Phrase, jb.sent.NormalizedStr)
			if err != nil {
				if errors.Is(err, ErrNoScores) {
					slog.Warn("entailment: pair rejected, no scores",
						"doc", jb.sent.DocNum, "sent", jb.sent.SentNum, "hyper", res.Hyper, "hypo", res.Hypo)
					return nil
				}
				return fmt.Errorf("checking %q / %q: %w", jb.a.Phrase, jb.b.Phrase, err)
			}
			jb.result, jb.ok = res, res.IsHyper
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type dedupKey struct {
		doc, sent   int
		hyper, hypo string
	}
	seen := make(map[dedupKey]bool)
	out := &Output{Relations: []Relation{}}
	for _, jb := range jobs {
		if !jb.ok {
			continue
		}
		k := dedupKey{jb.sent.DocNum, jb.sent.SentNum, jb.result.Hyper, jb.result.Hypo}
		if seen[k] {
			continue
		}
		seen[k] = true
		hyper, hypo := jb.a, jb.b
		if hyper.Phrase != jb.result.Hyper {
			hyper, hypo = jb.b, jb.a
		}
		out.Relations = append(out.Relations, Relation{
			DocNum:     jb.sent.DocNum,
			SentNum:    jb.sent.SentNum,
			Sentence:   jb.sent.NormalizedStr,
			Hyper:      hyper,
			Hypo:       hypo,
			AvgEnt:     jb.result.AvgEnt,
			AvgCont:    jb.result.AvgCont,
			AvgNeutral: jb.result.AvgNeutral,
		})
	}

	slog.Info("entailment: complete",
		"pairs", len(jobs), "relations", len(out.Relations), "elapsed", time.Since(start))
	return out, nil
}

// Edges converts accepted relations into hypernym evidence from hyponym to
// hypernym, weighted by the mean entailment score.
func (o *Output) Edges() []graph.Edge {
	edges := make([]graph.Edge, 0, len(o.Relations))
	for _, r := range o.Relations {
		edges = append(edges, graph.Edge{
			Source:     r.Hypo.Phrase,
			Target:     r.Hyper.Phrase,
			Type:       graph.Hypernym,
			Confidence: r.AvgEnt,
			Origin:     "entailment",
		})
	}
	return edges
}
