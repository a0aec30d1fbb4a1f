package store

import (
	"context"
	"fmt"
	"strings"

	"cxxtract/internal/logging"
)

// UpsertRecallContent replaces the FTS row for a file outside of a payload
// transaction (used when seeding recall content directly, e.g. in tests).
func (s *Store) UpsertRecallContent(ctx context.Context, contextID, fileKey, repoID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin recall upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM recall_fts WHERE context_id = ? AND file_key = ?", contextID, fileKey); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO recall_fts (content, context_id, file_key, repo_id) VALUES (?, ?, ?, ?)",
		content, contextID, fileKey, repoID); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteRecallContent removes the FTS row for a file.
func (s *Store) DeleteRecallContent(ctx context.Context, contextID, fileKey string) error {
	_, err := s.execContext(ctx,
		"DELETE FROM recall_fts WHERE context_id = ? AND file_key = ?", contextID, fileKey)
	return err
}

// SearchRecallCandidates runs a full-text match in one context, returning
// distinct file-keys capped at maxFiles. FTS errors (a query the MATCH
// grammar rejects, say) degrade to an empty result with a log line: recall
// is best-effort by contract.
func (s *Store) SearchRecallCandidates(ctx context.Context, contextID, query string, repoIDs []string, maxFiles int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" || maxFiles <= 0 {
		return nil
	}

	sqlQuery := `
		SELECT DISTINCT file_key FROM recall_fts
		WHERE recall_fts MATCH ? AND context_id = ?`
	args := []interface{}{ftsQuery, contextID}
	if len(repoIDs) > 0 {
		sqlQuery += " AND repo_id IN (" + placeholders(len(repoIDs)) + ")"
		for _, id := range repoIDs {
			args = append(args, id)
		}
	}
	sqlQuery += " LIMIT ?"
	args = append(args, maxFiles)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		logging.Get(logging.CategoryRecall).Warn("fts recall failed for %q: %v", query, err)
		return nil
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var fileKey string
		if err := rows.Scan(&fileKey); err != nil {
			logging.Get(logging.CategoryRecall).Warn("fts recall scan failed: %v", err)
			return out
		}
		out = append(out, fileKey)
	}
	return out
}

// buildFTSQuery turns a raw symbol into an FTS5 phrase query. Qualified
// names split on :: into separate quoted terms; embedded quotes are
// doubled per the FTS string grammar.
func buildFTSQuery(query string) string {
	parts := strings.Split(query, "::")
	terms := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(p, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
