// Package store persists taxonomy phrases, corpus sentences, phrase
// embeddings, evidence edges and merged relation graphs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/thesaurus/corpus"
	"github.com/brunobiangulo/thesaurus/phrase"
	"github.com/brunobiangulo/thesaurus/taxonomy"
)

func init() {
	sqlite_vec.Auto()
}

// ErrUnknownPhrase is returned when an operation references a phrase that
// has not been saved.
var ErrUnknownPhrase = errors.New("store: unknown phrase")

// ErrDimensionMismatch is returned when a vector does not match the store's
// embedding dimension.
var ErrDimensionMismatch = errors.New("store: embedding dimension mismatch")

// Edge is one persisted evidence edge.
type Edge struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Relation   string  `json:"relation"`
	Confidence float64 `json:"confidence"`
	Origin     string  `json:"origin"`
}

// Relation is one directed labelled pair of a merged graph.
type Relation struct {
	Key      string `json:"key"`
	Phrase   string `json:"phrase"`
	Relation string `json:"relation"`
}

// Run is a row in the runs table.
type Run struct {
	ID         string `json:"id"`
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	EdgeCount  int    `json:"edge_count"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// PhraseHit is a nearest-neighbour result.
type PhraseHit struct {
	Display    string  `json:"phrase"`
	Similarity float64 `json:"similarity"`
}

// Store wraps the SQLite database.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at dbPath and initialises the
// schema, including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("store: embedding dimension must be positive, got %d", embeddingDim)
	}
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Taxonomy ---

// SavePhrases upserts taxonomy rows keyed by normalised phrase.
func (s *Store) SavePhrases(ctx context.Context, entries []taxonomy.Entry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO phrases (norm, display, is_term_manual, oof_prob_class)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(norm) DO UPDATE SET
				is_term_manual = excluded.is_term_manual,
				oof_prob_class = excluded.oof_prob_class
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range entries {
			norm := phrase.Normalize(e.Phrase)
			if norm == "" {
				continue
			}
			if _, err := stmt.ExecContext(ctx, norm, e.Phrase, nullInt(e.IsTermManual), nullFloat(e.OOFProbClass)); err != nil {
				return fmt.Errorf("saving phrase %q: %w", e.Phrase, err)
			}
		}
		return nil
	})
}

// PrunePhrases deletes saved phrases, and their vectors, whose normalised
// form is not among entries. It returns how many were removed.
func (s *Store) PrunePhrases(ctx context.Context, entries []taxonomy.Entry) (int, error) {
	keep := make(map[string]bool, len(entries))
	for _, e := range entries {
		keep[phrase.Normalize(e.Phrase)] = true
	}
	removed := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, norm FROM phrases`)
		if err != nil {
			return err
		}
		var stale []int64
		for rows.Next() {
			var id int64
			var norm string
			if err := rows.Scan(&id, &norm); err != nil {
				rows.Close()
				return err
			}
			if !keep[norm] {
				stale = append(stale, id)
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range stale {
			if _, err := tx.ExecContext(ctx, `DELETE FROM vec_phrases WHERE phrase_id = ?`, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM phrases WHERE id = ?`, id); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// LoadTaxonomy reads every saved phrase into a new taxonomy interning into
// tab, in insertion order.
func (s *Store) LoadTaxonomy(ctx context.Context, tab *phrase.Table) (*taxonomy.Taxonomy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT display, is_term_manual, oof_prob_class FROM phrases ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	t := taxonomy.New(tab)
	for rows.Next() {
		var display string
		var manual sql.NullInt64
		var oof sql.NullFloat64
		if err := rows.Scan(&display, &manual, &oof); err != nil {
			return nil, err
		}
		e := taxonomy.Entry{Phrase: display}
		if manual.Valid {
			e.IsTermManual = taxonomy.IntPtr(int(manual.Int64))
		}
		if oof.Valid {
			e.OOFProbClass = taxonomy.FloatPtr(oof.Float64)
		}
		t.Add(e)
	}
	return t, rows.Err()
}

func (s *Store) phraseID(ctx context.Context, q sqlQuerier, text string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM phrases WHERE norm = ?`, phrase.Normalize(text)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPhrase, text)
	}
	return id, err
}

// --- Embeddings ---

// UpsertEmbedding stores the vector for a saved phrase, replacing any
// previous one.
func (s *Store) UpsertEmbedding(ctx context.Context, text string, vec []float32) error {
	if len(vec) != s.embeddingDim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.embeddingDim)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		id, err := s.phraseID(ctx, tx, text)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_phrases WHERE phrase_id = ?`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO vec_phrases (phrase_id, embedding) VALUES (?, ?)`,
			id, serializeFloat32(vec))
		return err
	})
}

// HasEmbedding reports whether a vector is stored for text.
func (s *Store) HasEmbedding(ctx context.Context, text string) (bool, error) {
	id, err := s.phraseID(ctx, s.db, text)
	if err != nil {
		if errors.Is(err, ErrUnknownPhrase) {
			return false, nil
		}
		return false, err
	}
	var n int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vec_phrases WHERE phrase_id = ?`, id).Scan(&n)
	return n > 0, err
}

// Nearest performs a KNN search returning the k phrases closest to vec by
// cosine similarity.
func (s *Store) Nearest(ctx context.Context, vec []float32, k int) ([]PhraseHit, error) {
	if len(vec) != s.embeddingDim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.embeddingDim)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.display, v.distance
		FROM vec_phrases v
		JOIN phrases p ON p.id = v.phrase_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(vec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []PhraseHit
	for rows.Next() {
		var h PhraseHit
		var distance float64
		if err := rows.Scan(&h.Display, &distance); err != nil {
			return nil, err
		}
		// Cosine distance is 1 - similarity.
		h.Similarity = 1.0 - distance
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// --- Corpus ---

// SaveSentences upserts corpus sentences keyed by (docNum, sentNum).
func (s *Store) SaveSentences(ctx context.Context, sentences []corpus.Sentence) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sentences (doc_num, sent_num, normalized, original, keys)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(doc_num, sent_num) DO UPDATE SET
				normalized = excluded.normalized,
				original = excluded.original,
				keys = excluded.keys
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, sent := range sentences {
			keys, err := json.Marshal(sent.Keys)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, sent.DocNum, sent.SentNum, sent.NormalizedStr, sent.OriginalStr, string(keys)); err != nil {
				return fmt.Errorf("saving sentence %d/%d: %w", sent.DocNum, sent.SentNum, err)
			}
		}
		return nil
	})
}

// LoadCorpus reads all sentences in (docNum, sentNum) order.
func (s *Store) LoadCorpus(ctx context.Context) (*corpus.Corpus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_num, sent_num, normalized, original, keys
		FROM sentences ORDER BY doc_num, sent_num
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []corpus.Sentence
	for rows.Next() {
		var sent corpus.Sentence
		var keys sql.NullString
		if err := rows.Scan(&sent.DocNum, &sent.SentNum, &sent.NormalizedStr, &sent.OriginalStr, &keys); err != nil {
			return nil, err
		}
		if keys.Valid && keys.String != "" {
			if err := json.Unmarshal([]byte(keys.String), &sent.Keys); err != nil {
				return nil, fmt.Errorf("decoding keys of sentence %d/%d: %w", sent.DocNum, sent.SentNum, err)
			}
		}
		out = append(out, sent)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return corpus.New(out), nil
}

// --- Runs and edges ---

// BeginRun records a new pipeline run and returns its UUID.
func (s *Store) BeginRun(ctx context.Context, stage string, config any) (string, error) {
	id := uuid.NewString()
	cfg, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("encoding run config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO runs (id, stage, config) VALUES (?, ?, ?)`, id, stage, string(cfg))
	if err != nil {
		return "", err
	}
	return id, nil
}

// FinishRun marks a run finished with the given status.
func (s *Store) FinishRun(ctx context.Context, runID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = CURRENT_TIMESTAMP,
			edge_count = (SELECT COUNT(*) FROM relation_edges WHERE run_id = ?)
		WHERE id = ?
	`, status, runID, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: unknown run %s", runID)
	}
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var r Run
	var finished sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, stage, status, edge_count, started_at, finished_at FROM runs WHERE id = ?
	`, runID).Scan(&r.ID, &r.Stage, &r.Status, &r.EdgeCount, &r.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	r.FinishedAt = finished.String
	return &r, nil
}

// ErrNoRun is returned when a stage has no completed run.
var ErrNoRun = errors.New("store: no completed run")

// LatestRun returns the most recent completed run of stage.
func (s *Store) LatestRun(ctx context.Context, stage string) (*Run, error) {
	var r Run
	var finished sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, stage, status, edge_count, started_at, finished_at FROM runs
		WHERE stage = ? AND status = 'completed'
		ORDER BY finished_at DESC, rowid DESC LIMIT 1
	`, stage).Scan(&r.ID, &r.Stage, &r.Status, &r.EdgeCount, &r.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoRun, stage)
	}
	if err != nil {
		return nil, err
	}
	r.FinishedAt = finished.String
	return &r, nil
}

// InsertEdges appends evidence edges to a run.
func (s *Store) InsertEdges(ctx context.Context, runID string, edges []Edge) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO relation_edges (run_id, source, target, relation, confidence, origin)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range edges {
			if _, err := stmt.ExecContext(ctx, runID, e.Source, e.Target, e.Relation, e.Confidence, e.Origin); err != nil {
				return err
			}
		}
		return nil
	})
}

// EdgesByRun returns a run's edges in insertion order.
func (s *Store) EdgesByRun(ctx context.Context, runID string) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, target, relation, confidence, origin
		FROM relation_edges WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.Source, &e.Target, &e.Relation, &e.Confidence, &e.Origin); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Merged graph ---

// ReplaceRelations swaps the stored merged graph for rows.
func (s *Store) ReplaceRelations(ctx context.Context, runID string, rows []Relation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM merged_relations`); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO merged_relations (key_norm, key, phrase, relation, run_id)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		var run any
		if runID != "" {
			run = runID
		}
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, phrase.Normalize(r.Key), r.Key, r.Phrase, r.Relation, run); err != nil {
				return err
			}
		}
		return nil
	})
}

// RelationsOf returns the merged relations of key, matched case-insensitively.
func (s *Store) RelationsOf(ctx context.Context, key string) ([]Relation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, phrase, relation FROM merged_relations
		WHERE key_norm = ? ORDER BY phrase COLLATE NOCASE
	`, phrase.Normalize(key))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelations(rows)
}

// AllRelations returns the whole merged graph.
func (s *Store) AllRelations(ctx context.Context) ([]Relation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, phrase, relation FROM merged_relations
		ORDER BY key COLLATE NOCASE, phrase COLLATE NOCASE
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelations(rows)
}

func scanRelations(rows *sql.Rows) ([]Relation, error) {
	var out []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.Key, &r.Phrase, &r.Relation); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Stats ---

// DBStats holds counts of key database objects.
type DBStats struct {
	Phrases    int `json:"phrases"`
	Embeddings int `json:"embeddings"`
	Sentences  int `json:"sentences"`
	Runs       int `json:"runs"`
	Edges      int `json:"edges"`
	Relations  int `json:"relations"`
}

// DBStats returns row counts of the main tables.
func (s *Store) DBStats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM phrases", &stats.Phrases},
		{"SELECT COUNT(*) FROM vec_phrases", &stats.Embeddings},
		{"SELECT COUNT(*) FROM sentences", &stats.Sentences},
		{"SELECT COUNT(*) FROM runs", &stats.Runs},
		{"SELECT COUNT(*) FROM relation_edges", &stats.Edges},
		{"SELECT COUNT(*) FROM merged_relations", &stats.Relations},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
