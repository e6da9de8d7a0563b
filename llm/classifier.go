package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Scores are the three natural-language-inference probabilities for one
// (premise, hypothesis) pair.
type Scores struct {
	Entailment    float64 `json:"entailment"`
	Contradiction float64 `json:"contradiction"`
	Neutral       float64 `json:"neutral"`
}

// Classifier scores whether a premise entails a hypothesis.
type Classifier interface {
	Classify(ctx context.Context, premise, hypothesis string) (Scores, error)
}

// ClassifierConfig selects and configures a Classifier.
type ClassifierConfig struct {
	// Kind is "nli" for a text-classification endpoint or "chat" for a chat
	// model asked to return JSON scores.
	Kind string `json:"kind" yaml:"kind"`
	// Endpoint configures the HTTP target. For "nli" BaseURL is the full
	// model endpoint; for "chat" it is passed to NewProvider.
	Endpoint Config `json:"endpoint" yaml:"endpoint"`
	// Labels maps raw endpoint labels (e.g. "LABEL_0") to entailment,
	// contradiction or neutral. Unmapped labels fall back to substring
	// matching on the label text.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// ErrUnknownClassifier is returned for an unsupported classifier kind.
var ErrUnknownClassifier = errors.New("unknown classifier kind")

// NewClassifier builds a Classifier from configuration.
func NewClassifier(cfg ClassifierConfig) (Classifier, error) {
	switch cfg.Kind {
	case "nli", "":
		if cfg.Endpoint.BaseURL == "" {
			return nil, fmt.Errorf("nli classifier: base_url is required")
		}
		return NewNLIClassifier(cfg.Endpoint, cfg.Labels), nil
	case "chat":
		p, err := NewProvider(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("chat classifier: %w", err)
		}
		return NewChatClassifier(p, cfg.Endpoint.Model), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownClassifier, cfg.Kind)
	}
}

// nliClassifier calls a HuggingFace-style text-classification endpoint with
// a sentence pair and reads back [{label, score}].
type nliClassifier struct {
	http   *httpClient
	labels map[string]string
}

// NewNLIClassifier creates a classifier for a sentence-pair classification
// endpoint at cfg.BaseURL.
func NewNLIClassifier(cfg Config, labels map[string]string) Classifier {
	norm := make(map[string]string, len(labels))
	for k, v := range labels {
		norm[strings.ToLower(k)] = strings.ToLower(v)
	}
	return &nliClassifier{http: newHTTPClient(cfg, ""), labels: norm}
}

type nliInput struct {
	Text     string `json:"text"`
	TextPair string `json:"text_pair"`
}

type nliRequest struct {
	Inputs     nliInput       `json:"inputs"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type labelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func (c *nliClassifier) Classify(ctx context.Context, premise, hypothesis string) (Scores, error) {
	body := nliRequest{
		Inputs:     nliInput{Text: premise, TextPair: hypothesis},
		Parameters: map[string]any{"top_k": nil},
	}
	raw, err := c.http.doPost(ctx, "", body)
	if err != nil {
		return Scores{}, err
	}
	items, err := decodeLabelScores(raw)
	if err != nil {
		return Scores{}, err
	}

	var s Scores
	found := false
	for _, it := range items {
		switch c.class(it.Label) {
		case "entailment":
			s.Entailment, found = it.Score, true
		case "contradiction":
			s.Contradiction, found = it.Score, true
		case "neutral":
			s.Neutral, found = it.Score, true
		}
	}
	if !found {
		return Scores{}, fmt.Errorf("no entailment labels in classifier response: %s", truncate(string(raw), 200))
	}
	return s, nil
}

func (c *nliClassifier) class(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	if mapped, ok := c.labels[l]; ok {
		return mapped
	}
	switch l {
	case "entailment", "contradiction", "neutral":
		return l
	}
	// Two-class heads report the complement as not_entailment; it carries no
	// entailment mass of its own.
	if negatedLabel(l) {
		return ""
	}
	switch {
	case strings.Contains(l, "entail"):
		return "entailment"
	case strings.Contains(l, "contradict"):
		return "contradiction"
	case strings.Contains(l, "neutral"):
		return "neutral"
	}
	return ""
}

func negatedLabel(l string) bool {
	for _, p := range []string{"not_", "not-", "not ", "non_", "non-", "non ", "no_"} {
		if strings.HasPrefix(l, p) {
			return true
		}
	}
	return false
}

// decodeLabelScores accepts [{...}] and the batched [[{...}]] shape.
func decodeLabelScores(raw []byte) ([]labelScore, error) {
	var flat []labelScore
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}
	var nested [][]labelScore
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("decoding classifier response: %w", err)
	}
	if len(nested) == 0 {
		return nil, nil
	}
	return nested[0], nil
}

const chatClassifierPrompt = `You are a natural language inference classifier.
Given a PREMISE and a HYPOTHESIS, estimate the probability that the premise entails the hypothesis, contradicts it, or is neutral towards it.

Return a JSON object with exactly these keys, each a number between 0 and 1, summing to 1:
  {"entailment": number, "contradiction": number, "neutral": number}

Do NOT include any text outside the JSON object.

PREMISE:
%s

HYPOTHESIS:
%s`

// chatClassifier asks a chat model for NLI scores in JSON mode.
type chatClassifier struct {
	chat  Provider
	model string
}

// NewChatClassifier creates a classifier backed by a chat model.
func NewChatClassifier(p Provider, model string) Classifier {
	return &chatClassifier{chat: p, model: model}
}

func (c *chatClassifier) Classify(ctx context.Context, premise, hypothesis string) (Scores, error) {
	resp, err := c.chat.Chat(ctx, ChatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "user", Content: fmt.Sprintf(chatClassifierPrompt, premise, hypothesis)},
		},
		Temperature:    0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return Scores{}, err
	}
	js, err := ExtractJSON(resp.Content)
	if err != nil {
		return Scores{}, fmt.Errorf("parsing classifier reply: %w", err)
	}
	var s Scores
	if err := json.Unmarshal([]byte(js), &s); err != nil {
		return Scores{}, fmt.Errorf("unmarshalling classifier reply: %w", err)
	}
	s.Entailment = clamp01(s.Entailment)
	s.Contradiction = clamp01(s.Contradiction)
	s.Neutral = clamp01(s.Neutral)
	return s, nil
}

var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON finds the JSON object in a model reply, tolerating markdown
// code fences and text around the object.
func ExtractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("no JSON object found in response")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
