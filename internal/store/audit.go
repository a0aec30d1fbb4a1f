package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ParseRunRow is one append-only parse-attempt audit record.
type ParseRunRow struct {
	ID         int64
	ContextID  string
	FileKey    string
	AbsPath    string
	StartedAt  time.Time
	FinishedAt time.Time
	Finished   bool
	Success    bool
	ErrorMsg   string
}

// InsertParseRun records the start of a parse attempt and returns its id.
func (s *Store) InsertParseRun(ctx context.Context, contextID, fileKey, absPath string) (int64, error) {
	res, err := s.execContext(ctx,
		"INSERT INTO parse_runs (context_id, file_key, abs_path) VALUES (?, ?, ?)",
		contextID, fileKey, absPath)
	if err != nil {
		return 0, fmt.Errorf("failed to insert parse run: %w", err)
	}
	return res.LastInsertId()
}

// FinishParseRun closes out a parse attempt.
func (s *Store) FinishParseRun(ctx context.Context, runID int64, success bool, errMsg string) error {
	_, err := s.execContext(ctx, `
		UPDATE parse_runs SET finished_at = CURRENT_TIMESTAMP, success = ?, error_msg = ?
		WHERE id = ?`,
		boolToInt(success), truncate(errMsg, 1000), runID)
	if err != nil {
		return fmt.Errorf("failed to finish parse run %d: %w", runID, err)
	}
	return nil
}

// ListParseRuns returns the most recent parse runs for a context, newest
// first, capped at limit.
func (s *Store) ListParseRuns(ctx context.Context, contextID string, limit int) ([]ParseRunRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, context_id, file_key, abs_path, started_at, finished_at, success, error_msg
		FROM parse_runs WHERE context_id = ?
		ORDER BY id DESC LIMIT ?`, contextID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list parse runs: %w", err)
	}
	defer rows.Close()

	var out []ParseRunRow
	for rows.Next() {
		var r ParseRunRow
		var finished sql.NullTime
		var success sql.NullInt64
		if err := rows.Scan(&r.ID, &r.ContextID, &r.FileKey, &r.AbsPath,
			&r.StartedAt, &finished, &success, &r.ErrorMsg); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
			r.Finished = true
		}
		if success.Valid {
			r.Success = success.Int64 != 0
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
