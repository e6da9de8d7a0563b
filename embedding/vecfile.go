package embedding

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/brunobiangulo/thesaurus/phrase"
)

// Vectors is an in-memory word vector table, loaded from a fastText .vec
// text file.
type Vectors struct {
	dim   int
	words map[string][]float32
}

// Dim returns the vector dimension.
func (v *Vectors) Dim() int { return v.dim }

// Len returns the vocabulary size.
func (v *Vectors) Len() int { return len(v.words) }

// WordVectors looks words up in the table.
func (v *Vectors) WordVectors(_ context.Context, words []string) ([][]float32, error) {
	out := make([][]float32, len(words))
	for i, w := range words {
		out[i] = v.words[phrase.Normalize(w)]
	}
	return out, nil
}

// LoadVecFile reads a .vec file: an optional "count dim" header line, then
// one "word x1 ... xd" line per word.
func LoadVecFile(path string) (*Vectors, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening vectors: %w", err)
	}
	defer f.Close()
	v, err := ReadVec(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	slog.Info("word vectors loaded", "path", path, "words", v.Len(), "dim", v.Dim())
	return v, nil
}

// ReadVec parses .vec text from r. Malformed lines are skipped.
func ReadVec(r io.Reader) (*Vectors, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	v := &Vectors{words: make(map[string][]float32)}
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if line == 1 && len(fields) == 2 {
			if d, err := strconv.Atoi(fields[1]); err == nil {
				v.dim = d
				continue
			}
		}
		if v.dim == 0 {
			v.dim = len(fields) - 1
		}
		if len(fields)-1 != v.dim {
			continue
		}
		vec := make([]float32, v.dim)
		ok := true
		for i, s := range fields[1:] {
			x, err := strconv.ParseFloat(s, 32)
			if err != nil {
				ok = false
				break
			}
			vec[i] = float32(x)
		}
		if !ok {
			continue
		}
		w := phrase.Normalize(fields[0])
		if _, dup := v.words[w]; !dup {
			v.words[w] = vec
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return v, nil
}
