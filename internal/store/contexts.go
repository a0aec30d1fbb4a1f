package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cxxtract/internal/logging"
	"cxxtract/internal/types"
)

// AnalysisContext is one persisted context row: a versioned view of facts.
type AnalysisContext struct {
	ContextID        string
	WorkspaceID      string
	Mode             types.AnalysisMode
	BaseContextID    string
	OverlayMode      types.OverlayMode
	OverlayFileCount int
	OverlayRowCount  int
	Status           types.ContextStatus
	CreatedAt        time.Time
	LastAccessedAt   time.Time
	ExpiresAt        *time.Time
}

// ContextFileState records how an overlay diverges from its baseline for
// one file-key.
type ContextFileState struct {
	ContextID           string
	FileKey             string
	State               types.FileState
	ReplacedFromFileKey string
}

// OverlayCeilings are the escalation thresholds for overlay mode.
type OverlayCeilings struct {
	MaxFiles int
	MaxRows  int
}

// BaselineContextID derives the canonical baseline id for a workspace.
func BaselineContextID(workspaceID string) string {
	return workspaceID + ":baseline"
}

// UpsertAnalysisContext inserts or updates a context row. Counters and
// status survive an upsert; topology fields are refreshed.
func (s *Store) UpsertAnalysisContext(ctx context.Context, c AnalysisContext) error {
	if c.OverlayMode == "" {
		c.OverlayMode = types.OverlaySparse
	}
	if c.Status == "" {
		c.Status = types.ContextActive
	}
	var expires interface{}
	if c.ExpiresAt != nil {
		expires = c.ExpiresAt.UTC()
	}
	_, err := s.execContext(ctx, `
		INSERT INTO analysis_contexts
			(context_id, workspace_id, mode, base_context_id, overlay_mode, status, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(context_id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			mode = excluded.mode,
			base_context_id = excluded.base_context_id,
			last_accessed_at = CURRENT_TIMESTAMP`,
		c.ContextID, c.WorkspaceID, string(c.Mode), c.BaseContextID,
		string(c.OverlayMode), string(c.Status), expires)
	if err != nil {
		return fmt.Errorf("failed to upsert context %s: %w", c.ContextID, err)
	}
	return nil
}

// EnsureBaselineContext creates the workspace's baseline context (and a
// workspace stub row) if missing, returning the baseline id.
func (s *Store) EnsureBaselineContext(ctx context.Context, workspaceID string) (string, error) {
	baselineID := BaselineContextID(workspaceID)

	existing, err := s.GetAnalysisContext(ctx, baselineID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return baselineID, nil
	}

	// A workspace stub keeps foreign metadata queries working even before
	// the manifest is registered.
	if _, err := s.execContext(ctx,
		"INSERT OR IGNORE INTO workspaces (workspace_id) VALUES (?)", workspaceID); err != nil {
		return "", fmt.Errorf("failed to ensure workspace stub: %w", err)
	}
	err = s.UpsertAnalysisContext(ctx, AnalysisContext{
		ContextID:   baselineID,
		WorkspaceID: workspaceID,
		Mode:        types.ModeBaseline,
	})
	if err != nil {
		return "", err
	}
	logging.Get(logging.CategoryContext).Info("created baseline context %s", baselineID)
	return baselineID, nil
}

// GetAnalysisContext loads a context row, or nil when absent.
func (s *Store) GetAnalysisContext(ctx context.Context, contextID string) (*AnalysisContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c AnalysisContext
	var mode, overlayMode, status string
	var expires sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT context_id, workspace_id, mode, base_context_id, overlay_mode,
			overlay_file_count, overlay_row_count, status, created_at, last_accessed_at, expires_at
		FROM analysis_contexts WHERE context_id = ?`, contextID).Scan(
		&c.ContextID, &c.WorkspaceID, &mode, &c.BaseContextID, &overlayMode,
		&c.OverlayFileCount, &c.OverlayRowCount, &status, &c.CreatedAt, &c.LastAccessedAt, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context %s: %w", contextID, err)
	}
	c.Mode = types.AnalysisMode(mode)
	c.OverlayMode = types.OverlayMode(overlayMode)
	c.Status = types.ContextStatus(status)
	if expires.Valid {
		t := expires.Time
		c.ExpiresAt = &t
	}
	return &c, nil
}

// TouchContext bumps last_accessed_at.
func (s *Store) TouchContext(ctx context.Context, contextID string) error {
	_, err := s.execContext(ctx,
		"UPDATE analysis_contexts SET last_accessed_at = CURRENT_TIMESTAMP WHERE context_id = ?",
		contextID)
	return err
}

// ExpireContext marks a context expired. Its rows remain but chain
// construction filters on status, so they stop being served.
func (s *Store) ExpireContext(ctx context.Context, contextID string) error {
	res, err := s.execContext(ctx,
		"UPDATE analysis_contexts SET status = ? WHERE context_id = ?",
		string(types.ContextExpired), contextID)
	if err != nil {
		return fmt.Errorf("failed to expire context %s: %w", contextID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Validationf(types.KindContextNotFound, "context not found: %s", contextID)
	}
	logging.Get(logging.CategoryContext).Info("expired context %s", contextID)
	return nil
}

// ListActiveContexts returns active contexts for a workspace (all
// workspaces when the id is empty), least recently accessed first.
func (s *Store) ListActiveContexts(ctx context.Context, workspaceID string) ([]AnalysisContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT context_id, workspace_id, mode, base_context_id, overlay_mode,
			overlay_file_count, overlay_row_count, status, created_at, last_accessed_at, expires_at
		FROM analysis_contexts WHERE status = 'active'`
	args := []interface{}{}
	if workspaceID != "" {
		query += " AND workspace_id = ?"
		args = append(args, workspaceID)
	}
	query += " ORDER BY last_accessed_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}
	defer rows.Close()

	var out []AnalysisContext
	for rows.Next() {
		var c AnalysisContext
		var mode, overlayMode, status string
		var expires sql.NullTime
		if err := rows.Scan(&c.ContextID, &c.WorkspaceID, &mode, &c.BaseContextID, &overlayMode,
			&c.OverlayFileCount, &c.OverlayRowCount, &status, &c.CreatedAt, &c.LastAccessedAt, &expires); err != nil {
			return nil, err
		}
		c.Mode = types.AnalysisMode(mode)
		c.OverlayMode = types.OverlayMode(overlayMode)
		c.Status = types.ContextStatus(status)
		if expires.Valid {
			t := expires.Time
			c.ExpiresAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateContextOverlayStats bumps the overlay counters and escalates
// overlay mode when either counter crosses its ceiling. Escalation is
// sticky: a context never returns to sparse. force escalates regardless of
// the counters. The resulting mode is returned.
func (s *Store) UpdateContextOverlayStats(ctx context.Context, contextID string, fileDelta, rowDelta int, ceilings OverlayCeilings, force bool) (types.OverlayMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin overlay stats update: %w", err)
	}
	defer tx.Rollback()

	var files, rowCount int
	var mode string
	err = tx.QueryRowContext(ctx, `
		SELECT overlay_file_count, overlay_row_count, overlay_mode
		FROM analysis_contexts WHERE context_id = ?`, contextID).Scan(&files, &rowCount, &mode)
	if err == sql.ErrNoRows {
		return "", types.Validationf(types.KindContextNotFound, "context not found: %s", contextID)
	}
	if err != nil {
		return "", err
	}

	files += fileDelta
	rowCount += rowDelta
	newMode := types.OverlayMode(mode)
	if newMode != types.OverlayPartial {
		crossed := (ceilings.MaxFiles > 0 && files > ceilings.MaxFiles) ||
			(ceilings.MaxRows > 0 && rowCount > ceilings.MaxRows)
		if force || crossed {
			newMode = types.OverlayPartial
			logging.Get(logging.CategoryContext).Info(
				"context %s escalated to partial_overlay (files=%d rows=%d)", contextID, files, rowCount)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE analysis_contexts
		SET overlay_file_count = ?, overlay_row_count = ?, overlay_mode = ?, last_accessed_at = CURRENT_TIMESTAMP
		WHERE context_id = ?`, files, rowCount, string(newMode), contextID)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return newMode, nil
}

// UpsertContextFileState records an overlay's divergence for one file-key.
func (s *Store) UpsertContextFileState(ctx context.Context, st ContextFileState) error {
	_, err := s.execContext(ctx, `
		INSERT INTO context_file_states (context_id, file_key, state, replaced_from_file_key, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(context_id, file_key) DO UPDATE SET
			state = excluded.state,
			replaced_from_file_key = excluded.replaced_from_file_key,
			updated_at = CURRENT_TIMESTAMP`,
		st.ContextID, st.FileKey, string(st.State), st.ReplacedFromFileKey)
	if err != nil {
		return fmt.Errorf("failed to upsert file state %s/%s: %w", st.ContextID, st.FileKey, err)
	}
	return nil
}

// FileMaskedInContext reports whether an overlay masks a file-key: its
// state is deleted, or a rename consumed it as the source key.
func (s *Store) FileMaskedInContext(ctx context.Context, contextID, fileKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM context_file_states
		WHERE context_id = ?
		  AND ((file_key = ? AND state = 'deleted') OR replaced_from_file_key = ?)`,
		contextID, fileKey, fileKey).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check file state %s/%s: %w", contextID, fileKey, err)
	}
	return n > 0, nil
}

// GetContextFileStates returns every recorded file state for a context.
func (s *Store) GetContextFileStates(ctx context.Context, contextID string) ([]ContextFileState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT context_id, file_key, state, replaced_from_file_key
		FROM context_file_states WHERE context_id = ? ORDER BY file_key`, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to load file states: %w", err)
	}
	defer rows.Close()

	var out []ContextFileState
	for rows.Next() {
		var st ContextFileState
		var state string
		if err := rows.Scan(&st.ContextID, &st.FileKey, &state, &st.ReplacedFromFileKey); err != nil {
			return nil, err
		}
		st.State = types.FileState(state)
		out = append(out, st)
	}
	return out, rows.Err()
}
