package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type StoreConfig struct {
	// Driver selects the backing store: "memgraph" or "memory".
	Driver   string `toml:"driver"`
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type EmbedderConfig struct {
	Provider       string `toml:"provider"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
}

// ClassThresholds are the decision thresholds for one threshold class.
// Metric/KPI names must match almost exactly; system/tool names tolerate
// looser matching.
type ClassThresholds struct {
	MergeThreshold float64 `toml:"merge_threshold"`
	ReviewBand     float64 `toml:"review_band"`
}

type SimilarityConfig struct {
	PrefilterFloor float64         `toml:"prefilter_floor"`
	TopK           int             `toml:"top_k"`
	ShortCircuit   float64         `toml:"short_circuit"`
	SemanticWeight float64         `toml:"semantic_weight"`
	ValueThreshold float64         `toml:"value_threshold"`
	SentenceDedupe float64         `toml:"sentence_dedupe"`
	NameTolerant   ClassThresholds `toml:"name_tolerant"`
	NameStrict     ClassThresholds `toml:"name_strict"`
}

type ConsensusConfig struct {
	SourceDivisor        float64 `toml:"source_divisor"`
	AgreementBonus       float64 `toml:"agreement_bonus"`
	AgreementBonusCap    float64 `toml:"agreement_bonus_cap"`
	ContradictionPenalty float64 `toml:"contradiction_penalty"`
	SingleSourcePenalty  float64 `toml:"single_source_penalty"`
}

type ResilienceConfig struct {
	MaxAttempts      int           `toml:"max_attempts"`
	BackoffBase      time.Duration `toml:"backoff_base"`
	BackoffCap       time.Duration `toml:"backoff_cap"`
	BreakerThreshold uint32        `toml:"breaker_threshold"`
	BreakerCooldown  time.Duration `toml:"breaker_cooldown"`
}

type PoolConfig struct {
	Workers       int           `toml:"workers"`
	QueueSize     int           `toml:"queue_size"`
	EntityTimeout time.Duration `toml:"entity_timeout"`
	MaxRequeues   int           `toml:"max_requeues"`
}

type Config struct {
	Store      StoreConfig      `toml:"store"`
	Embedder   EmbedderConfig   `toml:"embedder"`
	Similarity SimilarityConfig `toml:"similarity"`
	Consensus  ConsensusConfig  `toml:"consensus"`
	Resilience ResilienceConfig `toml:"resilience"`
	Pool       PoolConfig       `toml:"pool"`
}

// Default returns the engine defaults. Threshold and consensus knobs are
// starting points; calibrate against the real corpus before trusting the
// confidence scores.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: "memory",
			URI:    "bolt://localhost:7687",
		},
		Embedder: EmbedderConfig{
			Provider:       "openai",
			EmbeddingModel: "text-embedding-3-small",
		},
		Similarity: SimilarityConfig{
			PrefilterFloor: 0.5,
			TopK:           20,
			ShortCircuit:   0.95,
			SemanticWeight: 0,
			ValueThreshold: 0.75,
			SentenceDedupe: 0.9,
			NameTolerant:   ClassThresholds{MergeThreshold: 0.85, ReviewBand: 0.10},
			NameStrict:     ClassThresholds{MergeThreshold: 0.97, ReviewBand: 0.05},
		},
		Consensus: ConsensusConfig{
			SourceDivisor:        5,
			AgreementBonus:       0.05,
			AgreementBonusCap:    0.15,
			ContradictionPenalty: 0.10,
			SingleSourcePenalty:  0.10,
		},
		Resilience: ResilienceConfig{
			MaxAttempts:      3,
			BackoffBase:      time.Second,
			BackoffCap:       30 * time.Second,
			BreakerThreshold: 10,
			BreakerCooldown:  60 * time.Second,
		},
		Pool: PoolConfig{
			Workers:       4,
			QueueSize:     256,
			EntityTimeout: 30 * time.Second,
			MaxRequeues:   2,
		},
	}
}

// Load reads a TOML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides config fields from environment variables when present.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("MEMGRAPH_URI"); v != "" {
		c.Store.URI = v
	}
	if v := os.Getenv("MEMGRAPH_USER"); v != "" {
		c.Store.User = v
	}
	if v := os.Getenv("MEMGRAPH_PASSWORD"); v != "" {
		c.Store.Password = v
	}
	if v := os.Getenv("EMBEDDER_PROVIDER"); v != "" {
		c.Embedder.Provider = v
	}
	if v := os.Getenv("EMBEDDER_MODEL"); v != "" {
		c.Embedder.EmbeddingModel = v
	}
	if v := os.Getenv("EMBEDDER_API_KEY"); v != "" {
		c.Embedder.APIKey = v
	}
	if v := os.Getenv("EMBEDDER_BASE_URL"); v != "" {
		c.Embedder.BaseURL = v
	}
}
