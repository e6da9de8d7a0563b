package thesaurus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/thesaurus/entailment"
	"github.com/brunobiangulo/thesaurus/llm"
	"github.com/brunobiangulo/thesaurus/synonyms"
	"github.com/brunobiangulo/thesaurus/trigger"
	"github.com/brunobiangulo/thesaurus/voting"
)

// Config holds all configuration for the thesaurus engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.thesaurus/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set: "home" (default) uses ~/.thesaurus/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// ArtifactDir receives the JSON artifact of every stage. Empty disables
	// artifact files; edges are still stored.
	ArtifactDir string `json:"artifact_dir" yaml:"artifact_dir"`

	// Inputs. When a path is empty the data already in the store is used.
	TaxonomyPath string `json:"taxonomy_path" yaml:"taxonomy_path"` // .xlsx or JSON
	CorpusPath   string `json:"corpus_path" yaml:"corpus_path"`
	// LabelledPath is the manually labelled relations file, read by Merge
	// and written by SetRelation.
	LabelledPath string `json:"labelled_path" yaml:"labelled_path"`
	// VocabularyPath overrides the built-in lexical vocabularies (YAML).
	VocabularyPath string `json:"vocabulary_path" yaml:"vocabulary_path"`
	// SynonymSources are the candidate files merged by the synonyms stage.
	SynonymSources []synonyms.Source `json:"synonym_sources" yaml:"synonym_sources"`

	// Phrase embeddings come from a fastText .vec file when VectorsPath is
	// set, otherwise from the Embedding provider.
	VectorsPath    string     `json:"vectors_path" yaml:"vectors_path"`
	Embedding      llm.Config `json:"embedding" yaml:"embedding"`
	EmbeddingDim   int        `json:"embedding_dim" yaml:"embedding_dim"`
	EmbedBatchSize int        `json:"embed_batch_size" yaml:"embed_batch_size"`
	// Index selects the neighbour index: "sqlite" (vec0, default) or
	// "memory".
	Index string `json:"index" yaml:"index"`

	Classifier llm.ClassifierConfig `json:"classifier" yaml:"classifier"`

	Voting     voting.Options     `json:"voting" yaml:"voting"`
	Entailment entailment.Options `json:"entailment" yaml:"entailment"`
	Trigger    trigger.Options    `json:"trigger" yaml:"trigger"`
	Synonyms   synonyms.Options   `json:"synonyms" yaml:"synonyms"`
	Merge      MergeConfig        `json:"merge" yaml:"merge"`
}

// MergeConfig controls the merge stage.
type MergeConfig struct {
	// Stages lists the stages whose latest completed run feeds the merge.
	Stages []string `json:"stages" yaml:"stages"`
	// Correct applies the lexical correction rules to every resolved pair.
	Correct bool `json:"correct" yaml:"correct"`
	// Antonyms forces detected antonym pairs.
	Antonyms bool `json:"antonyms" yaml:"antonyms"`
	// TaxonomyOnly drops pairs with a phrase outside the taxonomy.
	TaxonomyOnly bool `json:"taxonomy_only" yaml:"taxonomy_only"`
	// StatsTop is the number of most frequent phrases reported by Stats.
	StatsTop int `json:"stats_top" yaml:"stats_top"`
}

// Stage names, also used as artifact file names.
const (
	StageVoting        = "voting"
	StageEntailment    = "entailment"
	StageTriggers      = "triggers"
	StageUsageVariants = "usage_variants"
	StageNeighbors     = "neighbors"
	StageSynonyms      = "synonyms"
	StageMerge         = "merge"
)

// EvidenceStages are the stages a merge reads by default.
var EvidenceStages = []string{
	StageVoting, StageEntailment, StageTriggers,
	StageUsageVariants, StageNeighbors, StageSynonyms,
}

// DefaultConfig returns a Config with the standard thresholds and local
// inference endpoints. The database is stored in ~/.thesaurus/thesaurus.db.
func DefaultConfig() Config {
	return Config{
		DBName:     "thesaurus",
		StorageDir: "home",
		Embedding: llm.Config{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim:   768,
		EmbedBatchSize: 256,
		Index:          "sqlite",
		Classifier: llm.ClassifierConfig{
			Kind: "chat",
			Endpoint: llm.Config{
				Provider: "ollama",
				Model:    "llama3.1:8b",
				BaseURL:  "http://localhost:11434",
			},
		},
		Voting:     voting.DefaultOptions(),
		Entailment: entailment.DefaultOptions(),
		Trigger:    trigger.DefaultOptions(),
		Synonyms:   synonyms.DefaultOptions(),
		Merge: MergeConfig{
			Stages:   EvidenceStages,
			Correct:  true,
			Antonyms: true,
			StatsTop: 20,
		},
	}
}

// validate rejects configurations New cannot work with.
func (c *Config) validate() error {
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: embedding_dim must be positive, got %d", ErrInvalidConfig, c.EmbeddingDim)
	}
	switch c.Index {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("%w: unknown index %q", ErrInvalidConfig, c.Index)
	}
	for _, st := range c.Merge.Stages {
		if !slices.Contains(EvidenceStages, st) {
			return fmt.Errorf("%w: unknown merge stage %q", ErrInvalidConfig, st)
		}
	}
	return nil
}

// applyDefaults fills zero values from DefaultConfig.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.EmbeddingDim == 0 {
		c.EmbeddingDim = def.EmbeddingDim
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = def.EmbedBatchSize
	}
	if c.Index == "" {
		c.Index = def.Index
	}
	if c.Merge.Stages == nil {
		c.Merge.Stages = def.Merge.Stages
	}
	if c.Merge.StatsTop == 0 {
		c.Merge.StatsTop = def.Merge.StatsTop
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "thesaurus"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".thesaurus", name+".db")
	}
}

// LoadConfig reads a JSON or YAML (.yaml, .yml) config file over
// DefaultConfig. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides config fields from THESAURUS_* environment variables
// read through getenv. API keys fall back to the provider's well-known
// variable.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	strs := []struct {
		name string
		dest *string
	}{
		{"THESAURUS_DB_PATH", &c.DBPath},
		{"THESAURUS_ARTIFACT_DIR", &c.ArtifactDir},
		{"THESAURUS_TAXONOMY_PATH", &c.TaxonomyPath},
		{"THESAURUS_CORPUS_PATH", &c.CorpusPath},
		{"THESAURUS_LABELLED_PATH", &c.LabelledPath},
		{"THESAURUS_VOCABULARY_PATH", &c.VocabularyPath},
		{"THESAURUS_VECTORS_PATH", &c.VectorsPath},
		{"THESAURUS_INDEX", &c.Index},
		{"THESAURUS_EMBED_PROVIDER", &c.Embedding.Provider},
		{"THESAURUS_EMBED_MODEL", &c.Embedding.Model},
		{"THESAURUS_EMBED_BASE_URL", &c.Embedding.BaseURL},
		{"THESAURUS_EMBED_API_KEY", &c.Embedding.APIKey},
		{"THESAURUS_CLASSIFIER_KIND", &c.Classifier.Kind},
		{"THESAURUS_CLASSIFIER_PROVIDER", &c.Classifier.Endpoint.Provider},
		{"THESAURUS_CLASSIFIER_MODEL", &c.Classifier.Endpoint.Model},
		{"THESAURUS_CLASSIFIER_BASE_URL", &c.Classifier.Endpoint.BaseURL},
		{"THESAURUS_CLASSIFIER_API_KEY", &c.Classifier.Endpoint.APIKey},
	}
	for _, s := range strs {
		if v := getenv(s.name); v != "" {
			*s.dest = v
		}
	}
	if v := getenv("THESAURUS_EMBEDDING_DIM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: THESAURUS_EMBEDDING_DIM: %v", ErrInvalidConfig, err)
		}
		c.EmbeddingDim = n
	}

	// Fallback: well-known provider env vars for API keys.
	for _, ep := range []*llm.Config{&c.Embedding, &c.Classifier.Endpoint} {
		if ep.APIKey != "" {
			continue
		}
		switch ep.Provider {
		case "openai":
			ep.APIKey = getenv("OPENAI_API_KEY")
		case "groq":
			ep.APIKey = getenv("GROQ_API_KEY")
		case "openrouter":
			ep.APIKey = getenv("OPENROUTER_API_KEY")
		case "gemini":
			ep.APIKey = getenv("GOOGLE_API_KEY")
		}
	}
	return nil
}
