// cxxtract is the CLI surface over the lazy C++ fact cache: query commands
// print JSON responses (confidence envelope included) to stdout, and
// `cxxtract sync work` runs the long-lived sync worker pool.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cxxtract/internal/config"
	"cxxtract/internal/engine"
	"cxxtract/internal/logging"
	"cxxtract/internal/store"
	"cxxtract/internal/types"
)

var (
	// Global flags
	configPath   string
	dbPath       string
	manifestPath string
	workspaceID  string
	verbose      bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cxxtract",
	Short: "cxxtract - lazy semantic fact cache for C++ workspaces",
	Long: `cxxtract maintains a lazily verified cache of C++ semantic facts
(symbols, references, call edges, include deps) across multi-repo
workspaces. Queries recall candidate files lexically, re-verify them
against a composite content/flags/includes hash, re-parse only what is
stale, and answer with a confidence envelope describing exactly how
trustworthy the response is.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadConfig resolves the effective configuration with flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

// withEngine opens the store, wires the engine, runs fn, and tears
// everything down.
func withEngine(fn func(ctx context.Context, eng *engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DBPath, store.Options{
		RequireVector: cfg.EnableVectorFeatures,
		EmbeddingDim:  cfg.CommitEmbeddingDim,
	})
	if err != nil {
		return err
	}
	defer logging.CloseAll()
	defer st.Close()

	eng := engine.New(cfg, st)
	eng.Start()
	defer eng.Stop()

	return fn(context.Background(), eng)
}

// baseScope assembles the query scope shared by every command from the
// global flags.
func baseScope() types.QueryScope {
	return types.QueryScope{
		WorkspaceID:  workspaceID,
		ManifestPath: manifestPath,
	}
}

// printJSON writes the canonical response document to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override the cache database path")
	rootCmd.PersistentFlags().StringVar(&manifestPath, "manifest", "", "workspace manifest path")
	rootCmd.PersistentFlags().StringVar(&workspaceID, "workspace", "", "workspace id")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
