package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://localhost:11434", cfg.Embedding.OllamaURL)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)
	assert.Equal(t, 2, cfg.Embedding.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Embedding.Timeout())
	assert.Equal(t, 500, cfg.Chunker.MaxChars)
	assert.Equal(t, []string{"md"}, cfg.Chunker.Extensions)
	assert.Equal(t, 4, cfg.Query.OverfetchFactor)
	assert.Equal(t, 0.85, cfg.Query.Lambda)
	assert.Equal(t, 7*24*time.Hour, cfg.Query.RecencyWindow())
	assert.Equal(t, 0.05, cfg.Query.RecencyBoost)
	assert.Equal(t, 10*time.Minute, cfg.Query.CacheTTL())
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMergesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "embedding:\n  model: mxbai-embed-large\n  dimension: 1024\nchunker:\n  max_chars: 800\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mxbai-embed-large", cfg.Embedding.Model)
	assert.Equal(t, 1024, cfg.Embedding.Dimension)
	assert.Equal(t, 800, cfg.Chunker.MaxChars)
	// Untouched fields keep defaults.
	assert.Equal(t, "http://localhost:11434", cfg.Embedding.OllamaURL)
	assert.Equal(t, 4, cfg.Query.OverfetchFactor)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("bad dimension", func(t *testing.T) {
		cfg := Default()
		cfg.Embedding.Dimension = -1
		assert.Error(t, cfg.Validate())
	})
	t.Run("bad lambda", func(t *testing.T) {
		cfg := Default()
		cfg.Query.Lambda = 1.5
		assert.Error(t, cfg.Validate())
	})
	t.Run("bad overfetch", func(t *testing.T) {
		cfg := Default()
		cfg.Query.OverfetchFactor = 0
		assert.Error(t, cfg.Validate())
	})
	t.Run("no extensions", func(t *testing.T) {
		cfg := Default()
		cfg.Chunker.Extensions = nil
		assert.Error(t, cfg.Validate())
	})
}
