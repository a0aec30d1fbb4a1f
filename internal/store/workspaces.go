package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"cxxtract/internal/types"
)

// WorkspaceRow is the persisted workspace metadata.
type WorkspaceRow struct {
	WorkspaceID  string
	RootPath     string
	ManifestPath string
}

// RepoRow is one persisted repo declaration, refreshed from the manifest on
// every ResolveWorkspace.
type RepoRow struct {
	WorkspaceID     string
	RepoID          string
	Root            string
	CompileCommands string
	DefaultBranch   string
	DependsOn       []string
	RemoteURL       string
	TokenEnvVar     string
	ProjectPath     string
	CommitSHA       string
}

// UpsertWorkspace inserts or updates the workspace row.
func (s *Store) UpsertWorkspace(ctx context.Context, w WorkspaceRow) error {
	_, err := s.execContext(ctx, `
		INSERT INTO workspaces (workspace_id, root_path, manifest_path, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(workspace_id) DO UPDATE SET
			root_path = excluded.root_path,
			manifest_path = excluded.manifest_path,
			updated_at = CURRENT_TIMESTAMP`,
		w.WorkspaceID, w.RootPath, w.ManifestPath)
	if err != nil {
		return fmt.Errorf("failed to upsert workspace %s: %w", w.WorkspaceID, err)
	}
	return nil
}

// GetWorkspace loads a workspace row; a typed not-found error when absent.
func (s *Store) GetWorkspace(ctx context.Context, workspaceID string) (*WorkspaceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w WorkspaceRow
	err := s.db.QueryRowContext(ctx,
		"SELECT workspace_id, root_path, manifest_path FROM workspaces WHERE workspace_id = ?",
		workspaceID).Scan(&w.WorkspaceID, &w.RootPath, &w.ManifestPath)
	if err == sql.ErrNoRows {
		return nil, types.Validationf(types.KindWorkspaceNotFound, "Workspace not found: %s", workspaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace %s: %w", workspaceID, err)
	}
	return &w, nil
}

// ListWorkspaces returns every registered workspace.
func (s *Store) ListWorkspaces(ctx context.Context) ([]WorkspaceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT workspace_id, root_path, manifest_path FROM workspaces ORDER BY workspace_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var out []WorkspaceRow
	for rows.Next() {
		var w WorkspaceRow
		if err := rows.Scan(&w.WorkspaceID, &w.RootPath, &w.ManifestPath); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ReplaceWorkspaceRepos swaps the persisted repo list for a workspace in
// one transaction, keeping it in lockstep with the manifest.
func (s *Store) ReplaceWorkspaceRepos(ctx context.Context, workspaceID string, repos []RepoRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin repo replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM repos WHERE workspace_id = ?", workspaceID); err != nil {
		return fmt.Errorf("failed to clear repos: %w", err)
	}
	for _, r := range repos {
		deps, err := json.Marshal(r.DependsOn)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO repos (workspace_id, repo_id, root, compile_commands, default_branch,
				depends_on, remote_url, token_env_var, project_path, commit_sha)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			workspaceID, r.RepoID, r.Root, r.CompileCommands, r.DefaultBranch,
			string(deps), r.RemoteURL, r.TokenEnvVar, r.ProjectPath, r.CommitSHA); err != nil {
			return fmt.Errorf("failed to insert repo %s: %w", r.RepoID, err)
		}
	}
	return tx.Commit()
}

// ListRepos returns the persisted repos of a workspace in id order.
func (s *Store) ListRepos(ctx context.Context, workspaceID string) ([]RepoRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace_id, repo_id, root, compile_commands, default_branch,
			depends_on, remote_url, token_env_var, project_path, commit_sha
		FROM repos WHERE workspace_id = ? ORDER BY repo_id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repos: %w", err)
	}
	defer rows.Close()

	var out []RepoRow
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRepo loads one persisted repo, or nil when absent.
func (s *Store) GetRepo(ctx context.Context, workspaceID, repoID string) (*RepoRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, repo_id, root, compile_commands, default_branch,
			depends_on, remote_url, token_env_var, project_path, commit_sha
		FROM repos WHERE workspace_id = ? AND repo_id = ?`, workspaceID, repoID)
	r, err := scanRepo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load repo %s/%s: %w", workspaceID, repoID, err)
	}
	return &r, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRepo(row rowScanner) (RepoRow, error) {
	var r RepoRow
	var deps string
	err := row.Scan(&r.WorkspaceID, &r.RepoID, &r.Root, &r.CompileCommands, &r.DefaultBranch,
		&deps, &r.RemoteURL, &r.TokenEnvVar, &r.ProjectPath, &r.CommitSHA)
	if err != nil {
		return r, err
	}
	if deps != "" {
		_ = json.Unmarshal([]byte(deps), &r.DependsOn)
	}
	return r, nil
}
