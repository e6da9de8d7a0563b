package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Taxonomy phrases keyed by their normalised form
CREATE TABLE IF NOT EXISTS phrases (
    id INTEGER PRIMARY KEY,
    norm TEXT NOT NULL UNIQUE,
    display TEXT NOT NULL,
    is_term_manual INTEGER,
    oof_prob_class REAL
);

-- Phrase embeddings via sqlite-vec, cosine distance
CREATE VIRTUAL TABLE IF NOT EXISTS vec_phrases USING vec0(
    phrase_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

-- Corpus sentences with the taxonomy phrases they contain
CREATE TABLE IF NOT EXISTS sentences (
    id INTEGER PRIMARY KEY,
    doc_num INTEGER NOT NULL,
    sent_num INTEGER NOT NULL,
    normalized TEXT NOT NULL,
    original TEXT NOT NULL,
    keys JSON,
    UNIQUE(doc_num, sent_num)
);

-- Pipeline runs
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    stage TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'running',
    config JSON,
    edge_count INTEGER DEFAULT 0,
    started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    finished_at DATETIME
);

-- Evidence edges produced by a run
CREATE TABLE IF NOT EXISTS relation_edges (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    source TEXT NOT NULL,
    target TEXT NOT NULL,
    relation TEXT NOT NULL,
    confidence REAL DEFAULT 1.0,
    origin TEXT NOT NULL
);

-- Terminal merged graph, one row per directed labelled pair
CREATE TABLE IF NOT EXISTS merged_relations (
    key_norm TEXT NOT NULL,
    key TEXT NOT NULL,
    phrase TEXT NOT NULL,
    relation TEXT NOT NULL,
    run_id TEXT REFERENCES runs(id) ON DELETE SET NULL,
    PRIMARY KEY (key_norm, phrase)
);

CREATE INDEX IF NOT EXISTS idx_edges_run ON relation_edges(run_id);
CREATE INDEX IF NOT EXISTS idx_sentences_doc ON sentences(doc_num, sent_num);
CREATE INDEX IF NOT EXISTS idx_merged_relation ON merged_relations(relation);
`, embeddingDim)
}
