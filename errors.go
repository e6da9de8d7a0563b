package thesaurus

import "errors"

var (
	// ErrTaxonomyUnavailable is returned when no taxonomy file is configured
	// and the store holds no phrases.
	ErrTaxonomyUnavailable = errors.New("thesaurus: taxonomy unavailable")

	// ErrCorpusUnavailable is returned when no corpus file is configured and
	// the store holds no sentences.
	ErrCorpusUnavailable = errors.New("thesaurus: corpus unavailable")

	// ErrEmbedderUnavailable is returned when neither a vectors file nor an
	// embedding provider is configured.
	ErrEmbedderUnavailable = errors.New("thesaurus: embedder unavailable")

	// ErrClassifierUnavailable is returned when the entailment classifier
	// cannot be built.
	ErrClassifierUnavailable = errors.New("thesaurus: entailment classifier unavailable")

	// ErrNoEvidence is returned when a merge finds no edges to merge.
	ErrNoEvidence = errors.New("thesaurus: no relation evidence")

	// ErrNoGraph is returned by lookups before any merge has been stored.
	ErrNoGraph = errors.New("thesaurus: no merged graph")

	// ErrUnknownPhrase is returned by lookups for a phrase absent from the
	// merged graph.
	ErrUnknownPhrase = errors.New("thesaurus: unknown phrase")

	// ErrInvalidRelation is returned when a manual relation is rejected.
	ErrInvalidRelation = errors.New("thesaurus: invalid relation")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("thesaurus: invalid configuration")
)
