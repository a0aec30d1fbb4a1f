// Package engine is the orchestration layer: it wires the recall engine,
// compile-db index, freshness classifier, parser pool, single-writer, and
// chain reads into the query pipeline, and owns workspace/context
// resolution.
package engine

import (
	"time"

	"cxxtract/internal/compiledb"
	"cxxtract/internal/config"
	"cxxtract/internal/logging"
	"cxxtract/internal/recall"
	"cxxtract/internal/store"
	"cxxtract/internal/workspace"
	"cxxtract/internal/writer"
)

// Engine holds the process-wide services. Per-query state (resolver,
// compile-db indexes, candidate sets) lives on the stack of each call.
type Engine struct {
	cfg        *config.Config
	store      *store.Store
	manifests  *workspace.ManifestCache
	compileDBs *compiledb.Cache
	recall     *recall.Engine
	writer     *writer.Writer

	started time.Time
}

// New wires an engine over an open store. Call Start before serving and
// Stop on shutdown.
func New(cfg *config.Config, st *store.Store) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      st,
		manifests:  workspace.NewManifestCache(),
		compileDBs: compiledb.NewCache(),
		recall:     recall.New(cfg.RgBinary, cfg.RecallGlobs, cfg.RecallTimeout()),
		writer: writer.New(st, writer.Options{
			QueueSize:     cfg.WriterQueueSize,
			BatchSize:     cfg.WriterBatchSize,
			RetryAttempts: cfg.WriterRetryAttempts,
			RetryDelay:    cfg.WriterRetryDelay(),
			Ceilings: store.OverlayCeilings{
				MaxFiles: cfg.MaxOverlayFiles,
				MaxRows:  cfg.MaxOverlayRows,
			},
		}),
		started: time.Now(),
	}
}

// Start launches the single-writer.
func (e *Engine) Start() {
	e.writer.Start()
	logging.Engine("engine started")
}

// Stop drains and stops the single-writer.
func (e *Engine) Stop() {
	e.writer.Stop()
	logging.Engine("engine stopped")
}

// Store exposes the underlying storage engine for surfaces (CLI, workers)
// that need direct access.
func (e *Engine) Store() *store.Store { return e.store }

// Config exposes the resolved configuration.
func (e *Engine) Config() *config.Config { return e.cfg }
