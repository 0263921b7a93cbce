package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EmbeddingConfig configures the Ollama embedding gateway.
type EmbeddingConfig struct {
	OllamaURL string `yaml:"ollama_url"`
	Model     string `yaml:"model"`
	// Dimension of the embedding vectors. Must match the model's output.
	Dimension int `yaml:"dimension"`
	// BatchSize is the number of texts per embed call.
	BatchSize int `yaml:"batch_size"`
	// Concurrency bounds how many embed batches are in flight at once.
	Concurrency int `yaml:"concurrency"`
	TimeoutSecs int `yaml:"timeout_secs"`
	MaxRetries  int `yaml:"max_retries"`
}

// Timeout returns the per-call embedding timeout.
func (c EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ChunkerConfig configures document chunking.
type ChunkerConfig struct {
	// MaxChars is the nominal chunk size limit in characters.
	MaxChars int `yaml:"max_chars"`
	// Extensions are indexed file extensions, without the leading dot.
	Extensions []string `yaml:"extensions"`
}

// QueryConfig configures the search pipeline.
type QueryConfig struct {
	// OverfetchFactor multiplies the requested result count when querying
	// the vector index, leaving headroom for reranking to discard candidates.
	OverfetchFactor int `yaml:"overfetch_factor"`
	// Lambda is the MMR relevance/diversity trade-off; close to 1 so
	// relevance dominates.
	Lambda float64 `yaml:"lambda"`
	// RecencyWindowDays is how far back the recency boost reaches.
	RecencyWindowDays int `yaml:"recency_window_days"`
	// RecencyBoost is the maximum score multiplier bonus for a file modified
	// right now, decaying linearly to zero at the window edge.
	RecencyBoost float64 `yaml:"recency_boost"`
	// CacheSize is the result cache capacity (entries).
	CacheSize int `yaml:"cache_size"`
	// CacheTTLSecs is how long a cached result list stays valid.
	CacheTTLSecs int `yaml:"cache_ttl_secs"`
}

// RecencyWindow returns the recency boost window.
func (c QueryConfig) RecencyWindow() time.Duration {
	return time.Duration(c.RecencyWindowDays) * 24 * time.Hour
}

// CacheTTL returns the result cache entry lifetime.
func (c QueryConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// Config is the root configuration, passed explicitly to each component at
// construction.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Query     QueryConfig     `yaml:"query"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			OllamaURL:   "http://localhost:11434",
			Model:       "nomic-embed-text",
			Dimension:   768,
			BatchSize:   32,
			Concurrency: 2,
			TimeoutSecs: 120,
			MaxRetries:  2,
		},
		Chunker: ChunkerConfig{
			MaxChars:   500,
			Extensions: []string{"md"},
		},
		Query: QueryConfig{
			OverfetchFactor:   4,
			Lambda:            0.85,
			RecencyWindowDays: 7,
			RecencyBoost:      0.05,
			CacheSize:         128,
			CacheTTLSecs:      600,
		},
	}
}

// Load reads a config file from path. A missing file yields the defaults;
// a present file is merged over them.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Query.Lambda < 0 || c.Query.Lambda > 1 {
		return fmt.Errorf("lambda must be in [0,1], got %g", c.Query.Lambda)
	}
	if c.Query.OverfetchFactor < 1 {
		return fmt.Errorf("overfetch factor must be >= 1, got %d", c.Query.OverfetchFactor)
	}
	if len(c.Chunker.Extensions) == 0 {
		return errors.New("at least one file extension is required")
	}
	return nil
}
