// Package store is the storage engine: one SQLite file holding every
// persistent fact the cache owns. All fact tables are partitioned by
// (context_id, file_key); reads walk a context chain, writes funnel through
// the single-writer. The default build uses the pure-Go driver; the
// sqlite_vec build tag switches to cgo with the vec0 extension registered.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cxxtract/internal/logging"
)

// Options tunes store startup.
type Options struct {
	// RequireVector makes a missing vec0 extension a fatal open error.
	// Set when enable_vector_features is on: no silent degradation.
	RequireVector bool
	// EmbeddingDim sizes the vec0 table when vector features are on.
	EmbeddingDim int
}

// Store owns the SQLite connection and all persistence operations.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string

	vectorReady  bool
	embeddingDim int
}

// Open initializes the store at path, creating the schema as needed.
func Open(path string, opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("opening store at %s", path)

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has one writer anyway, and a single pooled
	// connection keeps pragmas and in-flight transactions coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("pragma failed (continuing): %s: %v", pragma, err)
		}
	}

	s := &Store{db: db, dbPath: path, embeddingDim: opts.EmbeddingDim}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s.detectVecExtension()
	if opts.RequireVector && !s.vectorReady {
		db.Close()
		return nil, fmt.Errorf("vector features enabled but the vec0 extension is unavailable; build with -tags sqlite_vec")
	}
	if s.vectorReady && opts.RequireVector {
		if err := s.ensureVecTable(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create vector table: %w", err)
		}
		logging.Get(logging.CategoryVector).Info("vector side-store ready (dim=%d)", s.embeddingDim)
	}

	logging.Store("store ready: %s (vector=%v)", path, s.vectorReady)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("closing store %s", s.dbPath)
	return s.db.Close()
}

// DB exposes the underlying connection for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path is the database file path.
func (s *Store) Path() string { return s.dbPath }

// VectorReady reports whether the vec0 extension is usable on this build.
func (s *Store) VectorReady() bool { return s.vectorReady }

// detectVecExtension probes for vec0 by creating and dropping a scratch
// virtual table.
func (s *Store) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorReady = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorReady = false
}

// ensureVecTable creates the commit-diff embedding table at the configured
// dimension. vec0 tables cannot be altered, so a dimension change means a
// new database file.
func (s *Store) ensureVecTable() error {
	ddl := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS commit_diff_summary_vec USING vec0(embedding float[%d])",
		s.embeddingDim)
	_, err := s.db.Exec(ddl)
	return err
}

// FileSizeBytes is the database file size on disk, used by the disk-budget
// sweep and metrics. In-memory databases report 0.
func (s *Store) FileSizeBytes() int64 {
	var pageCount, pageSize int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}

// execContext is the shared write helper: every mutation goes through the
// store mutex so the single connection never interleaves writers.
func (s *Store) execContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.ExecContext(ctx, query, args...)
}
