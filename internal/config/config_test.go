package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "rg", cfg.RgBinary)
	assert.Equal(t, "./cxxtract_cache.db", cfg.DBPath)
	assert.Equal(t, 4, cfg.MaxParseWorkers)
	assert.Equal(t, 200, cfg.MaxRecallFiles)
	assert.Equal(t, 1024, cfg.WriterQueueSize)
	assert.Equal(t, 10, cfg.WriterBatchSize)
	assert.Equal(t, 5000, cfg.MaxOverlayFiles)
	assert.Equal(t, 2_000_000, cfg.MaxOverlayRows)
	assert.Equal(t, int64(4<<30), cfg.ContextDiskBudgetBytes)
	assert.False(t, cfg.EnableVectorFeatures)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().MaxRecallFiles, cfg.MaxRecallFiles)
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cxxtract.yaml")
	yaml := `
db_path: /var/lib/cxxtract/cache.db
max_parse_workers: 8
recall_globs: ["*.cpp", "*.h"]
enable_vector_features: true
commit_embedding_dim: 768
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/cxxtract/cache.db", cfg.DBPath)
	assert.Equal(t, 8, cfg.MaxParseWorkers)
	assert.Equal(t, []string{"*.cpp", "*.h"}, cfg.RecallGlobs)
	assert.True(t, cfg.EnableVectorFeatures)
	assert.Equal(t, 768, cfg.CommitEmbeddingDim)
	// Untouched keys keep defaults.
	assert.Equal(t, 200, cfg.MaxRecallFiles)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cxxtract.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_parse_wrokers: 8\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestEnvOverridesWinOverYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cxxtract.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_parse_workers: 8\n"), 0o644))

	t.Setenv("CXXTRACT_MAX_PARSE_WORKERS", "16")
	t.Setenv("CXXTRACT_RG_BINARY", "/opt/rg/bin/rg")
	t.Setenv("CXXTRACT_ENABLE_VECTOR_FEATURES", "true")
	t.Setenv("CXXTRACT_RECALL_GLOBS", "*.cc, *.hh")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.MaxParseWorkers)
	assert.Equal(t, "/opt/rg/bin/rg", cfg.RgBinary)
	assert.True(t, cfg.EnableVectorFeatures)
	assert.Equal(t, []string{"*.cc", "*.hh"}, cfg.RecallGlobs)
}

func TestEnvIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("CXXTRACT_MAX_PARSE_WORKERS", "many")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().MaxParseWorkers, cfg.MaxParseWorkers)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"zero parse workers", func(c *Config) { c.MaxParseWorkers = 0 }},
		{"negative queue", func(c *Config) { c.WriterQueueSize = -1 }},
		{"negative retry delay", func(c *Config) { c.WriterRetryDelayMs = -5 }},
		{"vector dim zero while enabled", func(c *Config) {
			c.EnableVectorFeatures = true
			c.CommitEmbeddingDim = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "30s", cfg.RecallTimeout().String())
	assert.Equal(t, "2m0s", cfg.ParseTimeout().String())
	assert.Equal(t, "200ms", cfg.WriterRetryDelay().String())
	assert.Equal(t, "72h0m0s", cfg.ContextTTL().String())
}
