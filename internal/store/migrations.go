package store

import (
	"database/sql"
	"fmt"

	"cxxtract/internal/logging"
)

// Schema versions:
// v1: base schema — workspaces, repos, contexts, tracked files, fact
//     tables, recall FTS, parse runs, job queues.
// v2: repo_sync_state gains last_error_code / last_error_msg.
// v3: index_jobs gains event_type.
const CurrentSchemaVersion = 3

// migrations maps a target version to its idempotent step. Steps use
// IF NOT EXISTS DDL and column-presence probes so re-running them against a
// database that already has the shape is harmless.
var migrations = []struct {
	version int
	apply   func(db *sql.DB) error
}{
	{1, migrateV1BaseSchema},
	{2, migrateV2SyncStateErrors},
	{3, migrateV3IndexJobEventType},
}

// RunMigrations brings the schema up to CurrentSchemaVersion, tracking
// progress in PRAGMA user_version.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	var current int
	if err := db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read user_version: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		logging.Store("applying schema migration v%d", m.version)
		if err := m.apply(db); err != nil {
			return fmt.Errorf("migration v%d failed: %w", m.version, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			return fmt.Errorf("failed to set user_version: %w", err)
		}
		current = m.version
		applied++
	}

	logging.StoreDebug("schema at v%d (%d migrations applied)", current, applied)
	return nil
}

func migrateV1BaseSchema(db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			workspace_id TEXT PRIMARY KEY,
			root_path TEXT NOT NULL DEFAULT '',
			manifest_path TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS repos (
			workspace_id TEXT NOT NULL,
			repo_id TEXT NOT NULL,
			root TEXT NOT NULL,
			compile_commands TEXT NOT NULL DEFAULT '',
			default_branch TEXT NOT NULL DEFAULT '',
			depends_on TEXT NOT NULL DEFAULT '[]',
			remote_url TEXT NOT NULL DEFAULT '',
			token_env_var TEXT NOT NULL DEFAULT '',
			project_path TEXT NOT NULL DEFAULT '',
			commit_sha TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (workspace_id, repo_id)
		)`,
		`CREATE TABLE IF NOT EXISTS analysis_contexts (
			context_id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			base_context_id TEXT NOT NULL DEFAULT '',
			overlay_mode TEXT NOT NULL DEFAULT 'sparse',
			overlay_file_count INTEGER NOT NULL DEFAULT 0,
			overlay_row_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_accessed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contexts_workspace ON analysis_contexts(workspace_id, status)`,
		`CREATE TABLE IF NOT EXISTS context_file_states (
			context_id TEXT NOT NULL,
			file_key TEXT NOT NULL,
			state TEXT NOT NULL,
			replaced_from_file_key TEXT NOT NULL DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (context_id, file_key)
		)`,
		`CREATE TABLE IF NOT EXISTS tracked_files (
			context_id TEXT NOT NULL,
			file_key TEXT NOT NULL,
			repo_id TEXT NOT NULL DEFAULT '',
			rel_path TEXT NOT NULL DEFAULT '',
			abs_path TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL DEFAULT '',
			flags_hash TEXT NOT NULL DEFAULT '',
			includes_hash TEXT NOT NULL DEFAULT '',
			composite_hash TEXT NOT NULL DEFAULT '',
			last_parsed_at DATETIME,
			PRIMARY KEY (context_id, file_key)
		)`,
		`CREATE TABLE IF NOT EXISTS symbols (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			context_id TEXT NOT NULL,
			file_key TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			qualified_name TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			line INTEGER NOT NULL DEFAULT 0,
			col INTEGER NOT NULL DEFAULT 0,
			extent_end_line INTEGER NOT NULL DEFAULT 0,
			UNIQUE (context_id, file_key, qualified_name, line, col)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(context_id, name)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_qualified ON symbols(context_id, qualified_name)`,
		// "references" is an SQL keyword; the trailing underscore avoids
		// quoting it in every statement.
		`CREATE TABLE IF NOT EXISTS references_ (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			context_id TEXT NOT NULL,
			file_key TEXT NOT NULL,
			symbol TEXT NOT NULL,
			line INTEGER NOT NULL DEFAULT 0,
			col INTEGER NOT NULL DEFAULT 0,
			ref_kind TEXT NOT NULL DEFAULT '',
			UNIQUE (context_id, file_key, symbol, line, col, ref_kind)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_references_symbol ON references_(context_id, symbol)`,
		`CREATE TABLE IF NOT EXISTS call_edges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			context_id TEXT NOT NULL,
			file_key TEXT NOT NULL,
			caller TEXT NOT NULL,
			callee TEXT NOT NULL,
			line INTEGER NOT NULL DEFAULT 0,
			UNIQUE (context_id, file_key, caller, callee, line)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_edges_caller ON call_edges(context_id, caller)`,
		`CREATE INDEX IF NOT EXISTS idx_call_edges_callee ON call_edges(context_id, callee)`,
		`CREATE TABLE IF NOT EXISTS include_deps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			context_id TEXT NOT NULL,
			file_key TEXT NOT NULL,
			raw_path TEXT NOT NULL,
			depth INTEGER NOT NULL DEFAULT 0,
			resolved INTEGER NOT NULL DEFAULT 0,
			dep_file_key TEXT NOT NULL DEFAULT '',
			dep_abs_path TEXT NOT NULL DEFAULT '',
			UNIQUE (context_id, file_key, raw_path)
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS recall_fts USING fts5(
			content,
			context_id UNINDEXED,
			file_key UNINDEXED,
			repo_id UNINDEXED
		)`,
		`CREATE TABLE IF NOT EXISTS parse_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			context_id TEXT NOT NULL,
			file_key TEXT NOT NULL,
			abs_path TEXT NOT NULL DEFAULT '',
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME,
			success INTEGER,
			error_msg TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_parse_runs_file ON parse_runs(context_id, file_key)`,
		`CREATE TABLE IF NOT EXISTS index_jobs (
			job_id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			repo_id TEXT NOT NULL DEFAULT '',
			context_id TEXT NOT NULL DEFAULT '',
			commit_sha TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			error_msg TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_index_jobs_status ON index_jobs(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS repo_sync_jobs (
			job_id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			repo_id TEXT NOT NULL,
			target_branch TEXT NOT NULL DEFAULT '',
			commit_sha TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			error_code TEXT NOT NULL DEFAULT '',
			error_msg TEXT NOT NULL DEFAULT '',
			resolved_sha TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			started_at DATETIME,
			finished_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON repo_sync_jobs(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS repo_sync_state (
			workspace_id TEXT NOT NULL,
			repo_id TEXT NOT NULL,
			last_synced_sha TEXT NOT NULL DEFAULT '',
			last_synced_branch TEXT NOT NULL DEFAULT '',
			last_success_at DATETIME,
			last_failure_at DATETIME,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (workspace_id, repo_id)
		)`,
		`CREATE TABLE IF NOT EXISTS commit_diff_summaries (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			repo_id TEXT NOT NULL,
			commit_sha TEXT NOT NULL,
			embedding_model TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			embedding_dim INTEGER NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (workspace_id, repo_id, commit_sha, embedding_model)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ddl failed: %w", err)
		}
	}
	return nil
}

func migrateV2SyncStateErrors(db *sql.DB) error {
	return addColumns(db, "repo_sync_state", []columnDef{
		{"last_error_code", "TEXT NOT NULL DEFAULT ''"},
		{"last_error_msg", "TEXT NOT NULL DEFAULT ''"},
	})
}

func migrateV3IndexJobEventType(db *sql.DB) error {
	return addColumns(db, "index_jobs", []columnDef{
		{"event_type", "TEXT NOT NULL DEFAULT 'push'"},
	})
}

type columnDef struct {
	name string
	def  string
}

// addColumns adds each column that PRAGMA table_info does not already show.
func addColumns(db *sql.DB, table string, cols []columnDef) error {
	for _, c := range cols {
		if columnExists(db, table, c.name) {
			logging.StoreDebug("column exists, skipping: %s.%s", table, c.name)
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.def)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, c.name, err)
		}
		logging.Store("migration: added %s.%s", table, c.name)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type IN ('table','view') AND name = ?", table).Scan(&name)
	return err == nil
}
