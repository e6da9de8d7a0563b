package taxonomy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/thesaurus/phrase"
)

// ErrNoKeyColumn is returned when a spreadsheet has no "key" column.
var ErrNoKeyColumn = errors.New("taxonomy: no key column")

// Column names recognised in spreadsheet headers.
const (
	ColumnKey     = "key"
	ColumnManual  = "is_term_manual"
	ColumnOOFProb = "oof_prob_class"
)

// Load reads a taxonomy from path, choosing the format by extension:
// .xlsx/.xlsm via excelize, anything else as a JSON array.
func Load(path string, tab *phrase.Table) (*Taxonomy, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return LoadXLSX(path, tab)
	default:
		return LoadJSON(path, tab)
	}
}

// LoadXLSX reads the first sheet that has a "key" header column. Columns
// is_term_manual and oof_prob_class are optional; blank or unparseable
// cells load as missing values.
func LoadXLSX(path string, tab *phrase.Table) (*Taxonomy, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			slog.Warn("taxonomy: reading sheet failed", "sheet", sheet, "error", err)
			continue
		}
		if len(rows) == 0 {
			continue
		}

		cols := headerIndex(rows[0])
		keyCol, ok := cols[ColumnKey]
		if !ok {
			continue
		}
		manualCol, hasManual := cols[ColumnManual]
		oofCol, hasOOF := cols[ColumnOOFProb]

		t := New(tab)
		skipped := 0
		for _, row := range rows[1:] {
			e := Entry{Phrase: cell(row, keyCol)}
			if hasManual {
				e.IsTermManual = parseInt(cell(row, manualCol))
			}
			if hasOOF {
				e.OOFProbClass = parseFloat(cell(row, oofCol))
			}
			if _, ok := t.Add(e); !ok {
				skipped++
			}
		}
		slog.Info("taxonomy loaded", "path", path, "sheet", sheet,
			"phrases", t.Len(), "skipped_rows", skipped)
		return t, nil
	}
	return nil, fmt.Errorf("%s: %w", path, ErrNoKeyColumn)
}

// jsonRow accepts either "key" or "phrase" as the phrase field.
type jsonRow struct {
	Key          string          `json:"key"`
	Phrase       string          `json:"phrase"`
	IsTermManual json.RawMessage `json:"is_term_manual"`
	OOFProbClass json.RawMessage `json:"oof_prob_class"`
}

// LoadJSON reads a JSON array of {key, is_term_manual, oof_prob_class}.
func LoadJSON(path string, tab *phrase.Table) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading taxonomy: %w", err)
	}
	var rows []jsonRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decoding taxonomy %s: %w", path, err)
	}

	t := New(tab)
	for _, r := range rows {
		text := r.Key
		if text == "" {
			text = r.Phrase
		}
		t.Add(Entry{
			Phrase:       text,
			IsTermManual: parseInt(rawScalar(r.IsTermManual)),
			OOFProbClass: parseFloat(rawScalar(r.OOFProbClass)),
		})
	}
	slog.Info("taxonomy loaded", "path", path, "phrases", t.Len())
	return t, nil
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := idx[name]; !dup && name != "" {
			idx[name] = i
		}
	}
	return idx
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// rawScalar turns a JSON number, string or null into its text form.
func rawScalar(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if unq, err := strconv.Unquote(s); err == nil {
		return unq
	}
	return s
}

func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return nil
	}
	return &v
}

// parseInt accepts "1", "0" and float renderings such as "1.0".
func parseInt(s string) *int {
	f := parseFloat(s)
	if f == nil {
		return nil
	}
	v := int(*f)
	return &v
}
