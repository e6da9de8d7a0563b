package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brunobiangulo/thesaurus"
	"github.com/brunobiangulo/thesaurus/graph"
)

const maxDepth = 10

type handler struct {
	engine thesaurus.Engine
	stages map[string]func(context.Context) (*thesaurus.Run, error)
}

func newHandler(e thesaurus.Engine) *handler {
	return &handler{
		engine: e,
		stages: map[string]func(context.Context) (*thesaurus.Run, error){
			thesaurus.StageVoting:        e.Vote,
			thesaurus.StageEntailment:    e.Entail,
			thesaurus.StageTriggers:      e.Triggers,
			thesaurus.StageUsageVariants: e.UsageVariants,
			thesaurus.StageNeighbors:     e.Neighbors,
			thesaurus.StageSynonyms:      e.Synonyms,
			thesaurus.StageMerge:         e.Merge,
		},
	}
}

// GET /phrases/{key}
func (h *handler) handleRelations(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	targets, err := h.engine.Relations(r.Context(), key)
	if err != nil {
		h.lookupError(w, "relations", key, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":     key,
		"phrases": targets,
	})
}

// GET /phrases/{key}/hypernyms?depth=N
func (h *handler) handleHypernyms(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	depth := 3
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "depth must be a positive integer")
			return
		}
		depth = min(n, maxDepth)
	}

	levels, err := h.engine.Hypernyms(r.Context(), key, depth)
	if err != nil {
		h.lookupError(w, "hypernyms", key, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":    key,
		"levels": levels,
	})
}

// POST /relations
// Records a manual label for (key, phrase). It takes effect at the next merge.
func (h *handler) handleSetRelation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key      string `json:"key"`
		Phrase   string `json:"phrase"`
		Relation string `json:"relation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Key == "" || req.Phrase == "" {
		writeError(w, http.StatusBadRequest, "key and phrase are required")
		return
	}
	rel, err := graph.ParseRelation(req.Relation)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	changed, err := h.engine.SetRelation(req.Key, req.Phrase, rel)
	if err != nil {
		if errors.Is(err, thesaurus.ErrInvalidRelation) || errors.Is(err, thesaurus.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "set relation failed")
		slog.Error("set relation error", "key", req.Key, "phrase", req.Phrase, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":      req.Key,
		"phrase":   req.Phrase,
		"relation": rel,
		"changed":  changed,
	})
}

// POST /stages/{stage}
// Runs one pipeline stage synchronously.
func (h *handler) handleRunStage(w http.ResponseWriter, r *http.Request) {
	stage := r.PathValue("stage")
	fn, ok := h.stages[stage]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown stage")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	run, err := fn(ctx)
	if err != nil {
		switch {
		case errors.Is(err, thesaurus.ErrNoEvidence), errors.Is(err, thesaurus.ErrInvalidConfig):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, thesaurus.ErrTaxonomyUnavailable),
			errors.Is(err, thesaurus.ErrCorpusUnavailable),
			errors.Is(err, thesaurus.ErrEmbedderUnavailable),
			errors.Is(err, thesaurus.ErrClassifierUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "stage failed")
		}
		slog.Error("stage error", "stage", stage, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		slog.Error("stats error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *handler) lookupError(w http.ResponseWriter, op, key string, err error) {
	switch {
	case errors.Is(err, thesaurus.ErrUnknownPhrase):
		writeError(w, http.StatusNotFound, "unknown phrase")
	case errors.Is(err, thesaurus.ErrNoGraph):
		writeError(w, http.StatusNotFound, "no merged graph; run the merge stage first")
	default:
		writeError(w, http.StatusInternalServerError, op+" lookup failed")
		slog.Error("lookup error", "op", op, "key", key, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
