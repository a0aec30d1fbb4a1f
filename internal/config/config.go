// Package config holds all cxxtract configuration. Values resolve in three
// layers: compiled defaults, then a YAML file, then CXXTRACT_* environment
// variables, which win.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the cache engine reads.
type Config struct {
	// External binaries
	RgBinary        string `yaml:"rg_binary"`
	ExtractorBinary string `yaml:"extractor_binary"`

	// Storage
	DBPath string `yaml:"db_path"`

	// Worker pools
	WorkerCount     int `yaml:"worker_count"`
	MaxParseWorkers int `yaml:"max_parse_workers"`

	// Recall
	MaxRecallFiles int      `yaml:"max_recall_files"`
	RecallTimeoutS int      `yaml:"recall_timeout_s"`
	RecallGlobs    []string `yaml:"recall_globs"`

	// Parsing
	ParseTimeoutS int `yaml:"parse_timeout_s"`

	// Single-writer
	WriterQueueSize     int `yaml:"writer_queue_size"`
	WriterBatchSize     int `yaml:"writer_batch_size"`
	WriterRetryAttempts int `yaml:"writer_retry_attempts"`
	WriterRetryDelayMs  int `yaml:"writer_retry_delay_ms"`

	// Overlay contexts
	MaxOverlayFiles        int   `yaml:"max_overlay_files"`
	MaxOverlayRows         int   `yaml:"max_overlay_rows"`
	ContextTTLHours        int   `yaml:"context_ttl_hours"`
	ContextDiskBudgetBytes int64 `yaml:"context_disk_budget_bytes"`

	// Repo sync
	SyncMaxAttempts int `yaml:"sync_max_attempts"`
	SyncTimeoutS    int `yaml:"sync_timeout_s"`

	// Vector side-store
	EnableVectorFeatures bool `yaml:"enable_vector_features"`
	CommitEmbeddingDim   int  `yaml:"commit_embedding_dim"`
	MaxSummaryChars      int  `yaml:"max_summary_chars"`
}

// Default returns the compiled-in defaults.
func Default() *Config {
	return &Config{
		RgBinary:        "rg",
		ExtractorBinary: "cxx-extractor",
		DBPath:          "./cxxtract_cache.db",

		WorkerCount:     2,
		MaxParseWorkers: 4,

		MaxRecallFiles: 200,
		RecallTimeoutS: 30,
		RecallGlobs: []string{
			"*.c", "*.cc", "*.cpp", "*.cxx",
			"*.h", "*.hh", "*.hpp", "*.hxx",
			"*.ipp", "*.inl",
		},

		ParseTimeoutS: 120,

		WriterQueueSize:     1024,
		WriterBatchSize:     10,
		WriterRetryAttempts: 3,
		WriterRetryDelayMs:  200,

		MaxOverlayFiles:        5000,
		MaxOverlayRows:         2_000_000,
		ContextTTLHours:        72,
		ContextDiskBudgetBytes: 4 << 30,

		SyncMaxAttempts: 3,
		SyncTimeoutS:    600,

		EnableVectorFeatures: false,
		CommitEmbeddingDim:   1536,
		MaxSummaryChars:      4000,
	}
}

// Load reads configuration from a YAML file. A missing file is not an
// error; defaults plus environment overrides are returned. Unknown YAML
// keys are rejected so typos surface instead of silently defaulting.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env overrides
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			dec := yaml.NewDecoder(bytes.NewReader(data))
			dec.KnownFields(true)
			if err := dec.Decode(cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies CXXTRACT_* environment variables over whatever
// the file provided.
func (c *Config) applyEnvOverrides() {
	envStr("CXXTRACT_RG_BINARY", &c.RgBinary)
	envStr("CXXTRACT_EXTRACTOR_BINARY", &c.ExtractorBinary)
	envStr("CXXTRACT_DB_PATH", &c.DBPath)

	envInt("CXXTRACT_WORKER_COUNT", &c.WorkerCount)
	envInt("CXXTRACT_MAX_PARSE_WORKERS", &c.MaxParseWorkers)
	envInt("CXXTRACT_MAX_RECALL_FILES", &c.MaxRecallFiles)
	envInt("CXXTRACT_RECALL_TIMEOUT_S", &c.RecallTimeoutS)
	envInt("CXXTRACT_PARSE_TIMEOUT_S", &c.ParseTimeoutS)
	envInt("CXXTRACT_WRITER_QUEUE_SIZE", &c.WriterQueueSize)
	envInt("CXXTRACT_WRITER_BATCH_SIZE", &c.WriterBatchSize)
	envInt("CXXTRACT_WRITER_RETRY_ATTEMPTS", &c.WriterRetryAttempts)
	envInt("CXXTRACT_WRITER_RETRY_DELAY_MS", &c.WriterRetryDelayMs)
	envInt("CXXTRACT_MAX_OVERLAY_FILES", &c.MaxOverlayFiles)
	envInt("CXXTRACT_MAX_OVERLAY_ROWS", &c.MaxOverlayRows)
	envInt("CXXTRACT_CONTEXT_TTL_HOURS", &c.ContextTTLHours)
	envInt64("CXXTRACT_CONTEXT_DISK_BUDGET_BYTES", &c.ContextDiskBudgetBytes)
	envInt("CXXTRACT_SYNC_MAX_ATTEMPTS", &c.SyncMaxAttempts)
	envInt("CXXTRACT_SYNC_TIMEOUT_S", &c.SyncTimeoutS)
	envInt("CXXTRACT_COMMIT_EMBEDDING_DIM", &c.CommitEmbeddingDim)
	envInt("CXXTRACT_MAX_SUMMARY_CHARS", &c.MaxSummaryChars)
	envBool("CXXTRACT_ENABLE_VECTOR_FEATURES", &c.EnableVectorFeatures)

	if v := os.Getenv("CXXTRACT_RECALL_GLOBS"); v != "" {
		parts := strings.Split(v, ",")
		globs := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				globs = append(globs, p)
			}
		}
		c.RecallGlobs = globs
	}
}

// Validate rejects configurations the engine cannot run under.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path must not be empty")
	}
	positives := map[string]int{
		"worker_count":          c.WorkerCount,
		"max_parse_workers":     c.MaxParseWorkers,
		"max_recall_files":      c.MaxRecallFiles,
		"recall_timeout_s":      c.RecallTimeoutS,
		"parse_timeout_s":       c.ParseTimeoutS,
		"writer_queue_size":     c.WriterQueueSize,
		"writer_batch_size":     c.WriterBatchSize,
		"writer_retry_attempts": c.WriterRetryAttempts,
		"max_overlay_files":     c.MaxOverlayFiles,
		"max_overlay_rows":      c.MaxOverlayRows,
		"context_ttl_hours":     c.ContextTTLHours,
		"sync_max_attempts":     c.SyncMaxAttempts,
		"sync_timeout_s":        c.SyncTimeoutS,
	}
	for name, v := range positives {
		if v <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", name, v)
		}
	}
	if c.WriterRetryDelayMs < 0 {
		return fmt.Errorf("config: writer_retry_delay_ms must not be negative, got %d", c.WriterRetryDelayMs)
	}
	if c.ContextDiskBudgetBytes <= 0 {
		return fmt.Errorf("config: context_disk_budget_bytes must be positive, got %d", c.ContextDiskBudgetBytes)
	}
	if c.EnableVectorFeatures && c.CommitEmbeddingDim <= 0 {
		return fmt.Errorf("config: commit_embedding_dim must be positive when vector features are enabled, got %d", c.CommitEmbeddingDim)
	}
	return nil
}

// RecallTimeout is recall_timeout_s as a duration.
func (c *Config) RecallTimeout() time.Duration {
	return time.Duration(c.RecallTimeoutS) * time.Second
}

// ParseTimeout is parse_timeout_s as a duration.
func (c *Config) ParseTimeout() time.Duration {
	return time.Duration(c.ParseTimeoutS) * time.Second
}

// SyncTimeout is sync_timeout_s as a duration.
func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.SyncTimeoutS) * time.Second
}

// WriterRetryDelay is writer_retry_delay_ms as a duration.
func (c *Config) WriterRetryDelay() time.Duration {
	return time.Duration(c.WriterRetryDelayMs) * time.Millisecond
}

// ContextTTL is context_ttl_hours as a duration.
func (c *Config) ContextTTL() time.Duration {
	return time.Duration(c.ContextTTLHours) * time.Hour
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
