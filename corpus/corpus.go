// Package corpus holds the sentence collection annotated with the taxonomy
// phrases each sentence contains.
package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
)

// Sentence is one corpus sentence. Keys are taxonomy phrases found in it.
type Sentence struct {
	DocNum        int      `json:"docNum"`
	SentNum       int      `json:"sentNum"`
	NormalizedStr string   `json:"normalizedStr"`
	OriginalStr   string   `json:"originalStr"`
	Keys          []string `json:"keys,omitempty"`
}

// Corpus is an ordered sentence list, sorted by (DocNum, SentNum).
type Corpus struct {
	sentences []Sentence
}

// New builds a corpus from sentences, sorting them stably by position.
func New(sentences []Sentence) *Corpus {
	s := make([]Sentence, len(sentences))
	copy(s, sentences)
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].DocNum != s[j].DocNum {
			return s[i].DocNum < s[j].DocNum
		}
		return s[i].SentNum < s[j].SentNum
	})
	return &Corpus{sentences: s}
}

// Len returns the number of sentences.
func (c *Corpus) Len() int { return len(c.sentences) }

// At returns the i-th sentence in order.
func (c *Corpus) At(i int) Sentence { return c.sentences[i] }

// Sentences returns the ordered sentences. The slice must not be modified.
func (c *Corpus) Sentences() []Sentence { return c.sentences }

// Previous returns the sentence immediately preceding i within the same
// document.
func (c *Corpus) Previous(i int) (Sentence, bool) {
	if i <= 0 || i >= len(c.sentences) {
		return Sentence{}, false
	}
	prev := c.sentences[i-1]
	if prev.DocNum != c.sentences[i].DocNum {
		return Sentence{}, false
	}
	return prev, true
}

type document struct {
	Sentences []Sentence `json:"sentences"`
}

// Load reads {"sentences": [...]} or a bare sentence array from path.
func Load(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus: %w", err)
	}
	c, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding corpus %s: %w", path, err)
	}
	slog.Info("corpus loaded", "path", path, "sentences", c.Len())
	return c, nil
}

// Decode parses corpus JSON.
func Decode(data []byte) (*Corpus, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var s []Sentence
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return New(s), nil
	}
	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	return New(doc.Sentences), nil
}
