// Package config loads engine configuration from YAML with environment
// variable overrides. Secrets (passwords, API keys) come from environment
// variables only.
package config

import (
	"fmt"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for sqlsage-engine. The llm, ontology,
// graph, retrieval and budget sections are runtime-mutable through the
// reload coordinator; everything else is fixed at startup.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"`

	LLM        LLMConfig        `yaml:"llm"`
	Ontology   OntologyConfig   `yaml:"ontology"`
	Graph      GraphConfig      `yaml:"graph"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Budget     BudgetConfig     `yaml:"budget"`
	Engine     EngineConfig     `yaml:"engine"`
	Datasource DatasourceConfig `yaml:"datasource"`
}

// LLMConfig selects and configures the language model provider.
type LLMConfig struct {
	// Provider is "openai" for any OpenAI-compatible endpoint, or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o"`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML

	// MaxContextTokens is the model's declared context window. Drives the
	// prompt strategy selection.
	MaxContextTokens int `yaml:"max_context_tokens" env:"LLM_MAX_CONTEXT_TOKENS" env-default:"8000"`
	MaxOutputTokens  int `yaml:"max_output_tokens" env:"LLM_MAX_OUTPUT_TOKENS" env-default:"1024"`

	EmbeddingModel string `yaml:"embedding_model" env:"LLM_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`

	// RequestTimeoutSeconds bounds a single completion call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" env:"LLM_REQUEST_TIMEOUT_SECONDS" env-default:"60"`
}

// OntologyConfig controls ontology generation and caching.
type OntologyConfig struct {
	Enabled bool `yaml:"enabled" env:"ONTOLOGY_ENABLED" env-default:"true"`

	// Mode is "dynamic" (LLM-generated from schema) or "static" (loaded
	// from StaticPath).
	Mode       string `yaml:"mode" env:"ONTOLOGY_MODE" env-default:"dynamic"`
	StaticPath string `yaml:"static_path" env:"ONTOLOGY_STATIC_PATH" env-default:""`

	MaxConcepts int `yaml:"max_concepts" env:"ONTOLOGY_MAX_CONCEPTS" env-default:"20"`

	// PersistDir, when set, stores generated ontologies as YAML files.
	PersistDir    string `yaml:"persist_dir" env:"ONTOLOGY_PERSIST_DIR" env-default:""`
	PersistFormat string `yaml:"persist_format" env:"ONTOLOGY_PERSIST_FORMAT" env-default:"yml"` // "yml" or "owl"
}

// GraphConfig controls the knowledge-graph service.
type GraphConfig struct {
	Enabled bool `yaml:"enabled" env:"GRAPH_ENABLED" env-default:"true"`

	// Backend is "memory" (in-process, default) or "neo4j".
	Backend      string `yaml:"backend" env:"GRAPH_BACKEND" env-default:"memory"`
	URI          string `yaml:"uri" env:"GRAPH_URI" env-default:""`
	Username     string `yaml:"username" env:"GRAPH_USERNAME" env-default:""`
	Password     string `yaml:"-" env:"GRAPH_PASSWORD"` // Secret - not in YAML
	MaxJoinDepth int    `yaml:"max_join_depth" env:"GRAPH_MAX_JOIN_DEPTH" env-default:"2"`
}

// RetrievalConfig controls the past-query retrieval store.
type RetrievalConfig struct {
	Enabled             bool    `yaml:"enabled" env:"RETRIEVAL_ENABLED" env-default:"true"`
	TopK                int     `yaml:"top_k" env:"RETRIEVAL_TOP_K" env-default:"3"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"RETRIEVAL_SIMILARITY_THRESHOLD" env-default:"0.7"`
	Collection          string  `yaml:"collection" env:"RETRIEVAL_COLLECTION" env-default:"past_queries"`
}

// BudgetConfig tunes the context budgeter.
type BudgetConfig struct {
	// StrategyOverride forces a strategy regardless of the model's context
	// window: "", "concise", "semi", "expanded" or "large".
	StrategyOverride string `yaml:"strategy_override" env:"BUDGET_STRATEGY_OVERRIDE" env-default:""`
}

// EngineConfig tunes the query state machine.
type EngineConfig struct {
	MaxAttempts int  `yaml:"max_attempts" env:"ENGINE_MAX_ATTEMPTS" env-default:"3"`
	ReadOnly    bool `yaml:"read_only" env:"ENGINE_READ_ONLY" env-default:"true"`

	// RowLimit is applied server-side when generated SQL carries no limit.
	RowLimit int `yaml:"row_limit" env:"ENGINE_ROW_LIMIT" env-default:"100"`

	// ErrorQuoteLimit caps the characters of a database error quoted in a
	// retry prompt.
	ErrorQuoteLimit int `yaml:"error_quote_limit" env:"ENGINE_ERROR_QUOTE_LIMIT" env-default:"120"`

	// MaxErrorLength above which an unclassified error is not retried.
	MaxErrorLength int `yaml:"max_error_length" env:"ENGINE_MAX_ERROR_LENGTH" env-default:"2000"`

	QueryTimeoutSeconds int `yaml:"query_timeout_seconds" env:"ENGINE_QUERY_TIMEOUT_SECONDS" env-default:"120"`

	// AsyncRecord, when true, records successful queries to the retrieval
	// store without blocking the response.
	AsyncRecord bool `yaml:"async_record" env:"ENGINE_ASYNC_RECORD" env-default:"true"`

	// AllowedKeywords are the verbs generated SQL may start with.
	AllowedKeywords []string `yaml:"allowed_keywords" env:"ENGINE_ALLOWED_KEYWORDS" env-default:"SELECT,WITH,SHOW,EXPLAIN"`
}

// DatasourceConfig holds connection pool settings.
type DatasourceConfig struct {
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	PoolMaxConns         int `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	PoolMinConns         int `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`
	SnapshotTTLMinutes   int `yaml:"snapshot_ttl_minutes" env:"DATASOURCE_SNAPSHOT_TTL_MINUTES" env-default:"10"`
}

// Load reads configuration from the given YAML file with environment
// variable overrides. A missing file is not an error: defaults plus
// environment variables apply.
func Load(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		// Fall back to env-only configuration when the file is absent.
		if envErr := cleanenv.ReadEnv(cfg); envErr != nil {
			return nil, fmt.Errorf("failed to read configuration: %w", envErr)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.MaxContextTokens <= 0 {
		return fmt.Errorf("llm max_context_tokens must be positive")
	}
	switch c.Graph.Backend {
	case "memory", "neo4j":
	default:
		return fmt.Errorf("unknown graph backend %q", c.Graph.Backend)
	}
	if c.Ontology.Mode != "dynamic" && c.Ontology.Mode != "static" {
		return fmt.Errorf("unknown ontology mode %q", c.Ontology.Mode)
	}
	if c.Engine.MaxAttempts < 0 {
		return fmt.Errorf("engine max_attempts must be >= 0")
	}
	return nil
}

// Store holds the live configuration and hands out consistent copies to
// readers while the reload coordinator swaps in updates.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStore wraps an initial configuration.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

// Current returns the active configuration. The returned value is shared;
// callers must not mutate it.
func (s *Store) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Swap installs a new configuration after validation.
func (s *Store) Swap(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}
