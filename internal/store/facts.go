package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"cxxtract/internal/logging"
	"cxxtract/internal/types"
)

// TrackedFile is one cached file's freshness record.
type TrackedFile struct {
	ContextID     string
	FileKey       string
	RepoID        string
	RelPath       string
	AbsPath       string
	ContentHash   string
	FlagsHash     string
	IncludesHash  string
	CompositeHash string
	LastParsedAt  time.Time
}

// UpsertParsePayload persists one parse result atomically: the tracked-file
// row is upserted, every derived row for the (context, fileKey) is deleted
// and re-inserted, and the recall content is refreshed from the file's
// current bytes. A reader never observes a partial fact set.
func (s *Store) UpsertParsePayload(ctx context.Context, p *types.ParsePayload) error {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertParsePayload")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin payload upsert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tracked_files
			(context_id, file_key, repo_id, rel_path, abs_path,
			 content_hash, flags_hash, includes_hash, composite_hash, last_parsed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(context_id, file_key) DO UPDATE SET
			repo_id = excluded.repo_id,
			rel_path = excluded.rel_path,
			abs_path = excluded.abs_path,
			content_hash = excluded.content_hash,
			flags_hash = excluded.flags_hash,
			includes_hash = excluded.includes_hash,
			composite_hash = excluded.composite_hash,
			last_parsed_at = CURRENT_TIMESTAMP`,
		p.ContextID, p.FileKey, p.RepoID, p.RelPath, p.AbsPath,
		p.ContentHash, p.FlagsHash, p.IncludesHash, p.CompositeHash)
	if err != nil {
		return fmt.Errorf("failed to upsert tracked file %s: %w", p.FileKey, err)
	}

	for _, table := range []string{"symbols", "references_", "call_edges", "include_deps"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE context_id = ? AND file_key = ?", table),
			p.ContextID, p.FileKey); err != nil {
			return fmt.Errorf("failed to clear %s for %s: %w", table, p.FileKey, err)
		}
	}

	for _, sym := range p.Output.Symbols {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO symbols
				(context_id, file_key, name, qualified_name, kind, line, col, extent_end_line)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ContextID, p.FileKey, sym.Name, sym.QualifiedName, sym.Kind,
			sym.Line, sym.Col, sym.ExtentEndLine); err != nil {
			return fmt.Errorf("failed to insert symbol: %w", err)
		}
	}
	for _, ref := range p.Output.References {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO references_ (context_id, file_key, symbol, line, col, ref_kind)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.ContextID, p.FileKey, ref.Symbol, ref.Line, ref.Col, ref.Kind); err != nil {
			return fmt.Errorf("failed to insert reference: %w", err)
		}
	}
	for _, edge := range p.Output.CallEdges {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO call_edges (context_id, file_key, caller, callee, line)
			VALUES (?, ?, ?, ?, ?)`,
			p.ContextID, p.FileKey, edge.Caller, edge.Callee, edge.Line); err != nil {
			return fmt.Errorf("failed to insert call edge: %w", err)
		}
	}
	for _, dep := range p.ResolvedIncludeDeps {
		resolved := 0
		if dep.Resolved {
			resolved = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO include_deps
				(context_id, file_key, raw_path, depth, resolved, dep_file_key, dep_abs_path)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ContextID, p.FileKey, dep.RawPath, dep.Depth, resolved, dep.FileKey, dep.AbsPath); err != nil {
			return fmt.Errorf("failed to insert include dep: %w", err)
		}
	}

	if err := refreshRecallContent(ctx, tx, p); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payload for %s: %w", p.FileKey, err)
	}
	logging.StoreDebug("persisted payload %s/%s (%d fact rows)", p.ContextID, p.FileKey, p.FactRowCount())
	return nil
}

// refreshRecallContent replaces the FTS row for a file within the payload
// transaction. Unreadable files clear the row rather than keeping stale
// content searchable.
func refreshRecallContent(ctx context.Context, tx *sql.Tx, p *types.ParsePayload) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM recall_fts WHERE context_id = ? AND file_key = ?",
		p.ContextID, p.FileKey); err != nil {
		return fmt.Errorf("failed to clear recall content: %w", err)
	}
	data, err := os.ReadFile(p.AbsPath)
	if err != nil {
		logging.StoreDebug("recall refresh: cannot read %s: %v", p.AbsPath, err)
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO recall_fts (content, context_id, file_key, repo_id) VALUES (?, ?, ?, ?)",
		string(data), p.ContextID, p.FileKey, p.RepoID); err != nil {
		return fmt.Errorf("failed to insert recall content: %w", err)
	}
	return nil
}

// GetTrackedFile loads one tracked file, or nil when absent.
func (s *Store) GetTrackedFile(ctx context.Context, contextID, fileKey string) (*TrackedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tf TrackedFile
	var parsed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT context_id, file_key, repo_id, rel_path, abs_path,
			content_hash, flags_hash, includes_hash, composite_hash, last_parsed_at
		FROM tracked_files WHERE context_id = ? AND file_key = ?`,
		contextID, fileKey).Scan(
		&tf.ContextID, &tf.FileKey, &tf.RepoID, &tf.RelPath, &tf.AbsPath,
		&tf.ContentHash, &tf.FlagsHash, &tf.IncludesHash, &tf.CompositeHash, &parsed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tracked file %s: %w", fileKey, err)
	}
	if parsed.Valid {
		tf.LastParsedAt = parsed.Time
	}
	return &tf, nil
}

// GetCompositeHash walks the chain in order and returns the first cached
// composite hash for a file-key, with the tracked file it came from.
func (s *Store) GetCompositeHash(ctx context.Context, chain []string, fileKey string) (string, *TrackedFile, error) {
	for _, contextID := range chain {
		tf, err := s.GetTrackedFile(ctx, contextID, fileKey)
		if err != nil {
			return "", nil, err
		}
		if tf != nil {
			return tf.CompositeHash, tf, nil
		}
	}
	return "", nil, nil
}

// DeleteTrackedFile removes a tracked file and all its derived rows and
// recall content in one transaction. Returns whether a row was removed.
func (s *Store) DeleteTrackedFile(ctx context.Context, contextID, fileKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM tracked_files WHERE context_id = ? AND file_key = ?", contextID, fileKey)
	if err != nil {
		return false, err
	}
	removed, _ := res.RowsAffected()

	for _, table := range []string{"symbols", "references_", "call_edges", "include_deps", "recall_fts"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE context_id = ? AND file_key = ?", table),
			contextID, fileKey); err != nil {
			return false, fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return removed > 0, nil
}

// CountTrackedFiles counts tracked files, optionally for one context.
func (s *Store) CountTrackedFiles(ctx context.Context, contextID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countRows(ctx, "tracked_files", contextID)
}

// CountSymbols counts symbol rows, optionally for one context.
func (s *Store) CountSymbols(ctx context.Context, contextID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countRows(ctx, "symbols", contextID)
}

func (s *Store) countRows(ctx context.Context, table, contextID string) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	args := []interface{}{}
	if contextID != "" {
		query += " WHERE context_id = ?"
		args = append(args, contextID)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// ClearContext deletes every tracked file, derived row, recall row, and
// file state of a context. Returns the number of tracked files removed.
func (s *Store) ClearContext(ctx context.Context, contextID string) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ClearContext")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin clear: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM tracked_files WHERE context_id = ?", contextID)
	if err != nil {
		return 0, err
	}
	removed, _ := res.RowsAffected()

	for _, table := range []string{"symbols", "references_", "call_edges", "include_deps", "recall_fts", "context_file_states"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE context_id = ?", table), contextID); err != nil {
			return 0, fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE analysis_contexts SET overlay_file_count = 0, overlay_row_count = 0
		WHERE context_id = ?`, contextID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	logging.Store("cleared context %s (%d tracked files)", contextID, removed)
	return int(removed), nil
}
