package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cxxtract/internal/logging"
	"cxxtract/internal/types"
)

// IndexJob is one coarse indexing job, typically enqueued from a push
// event. Nothing consumes these eagerly: queries re-verify lazily, and the
// queue exists for audit and for external schedulers.
type IndexJob struct {
	JobID       string
	WorkspaceID string
	RepoID      string
	ContextID   string
	CommitSHA   string
	EventType   string
	Status      types.JobStatus
	Attempts    int
	MaxAttempts int
	ErrorMsg    string
	CreatedAt   time.Time
}

// RepoSyncJob is one remote → local checkout job.
type RepoSyncJob struct {
	JobID        string
	WorkspaceID  string
	RepoID       string
	TargetBranch string
	CommitSHA    string
	Status       types.JobStatus
	Attempts     int
	MaxAttempts  int
	ErrorCode    string
	ErrorMsg     string
	ResolvedSHA  string
	CreatedAt    time.Time
}

// RepoSyncState is the last-known sync outcome per (workspace, repo).
type RepoSyncState struct {
	WorkspaceID      string
	RepoID           string
	LastSyncedSHA    string
	LastSyncedBranch string
	LastSuccessAt    time.Time
	LastFailureAt    time.Time
	LastErrorCode    string
	LastErrorMsg     string
}

const maxJobErrorBytes = 4000

// InsertIndexJob enqueues an index job.
func (s *Store) InsertIndexJob(ctx context.Context, j IndexJob) error {
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 3
	}
	if j.EventType == "" {
		j.EventType = "push"
	}
	_, err := s.execContext(ctx, `
		INSERT INTO index_jobs (job_id, workspace_id, repo_id, context_id, commit_sha, event_type, max_attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.JobID, j.WorkspaceID, j.RepoID, j.ContextID, j.CommitSHA, j.EventType, j.MaxAttempts)
	if err != nil {
		return fmt.Errorf("failed to insert index job: %w", err)
	}
	logging.Get(logging.CategoryJobs).Info("enqueued index job %s (%s/%s)", j.JobID, j.WorkspaceID, j.RepoID)
	return nil
}

// LeaseNextIndexJob atomically claims the oldest leasable index job,
// marking it running and bumping attempts. Returns nil when none pending.
func (s *Store) LeaseNextIndexJob(ctx context.Context) (*IndexJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin index lease: %w", err)
	}
	defer tx.Rollback()

	var j IndexJob
	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT job_id, workspace_id, repo_id, context_id, commit_sha, event_type,
			status, attempts, max_attempts, error_msg, created_at
		FROM index_jobs
		WHERE (status = 'pending' OR status = 'failed') AND attempts < max_attempts
		ORDER BY created_at, job_id LIMIT 1`).Scan(
		&j.JobID, &j.WorkspaceID, &j.RepoID, &j.ContextID, &j.CommitSHA, &j.EventType,
		&status, &j.Attempts, &j.MaxAttempts, &j.ErrorMsg, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	j.Attempts++
	j.Status = types.JobRunning
	if _, err := tx.ExecContext(ctx, `
		UPDATE index_jobs SET status = 'running', attempts = ?, error_msg = '', updated_at = CURRENT_TIMESTAMP
		WHERE job_id = ?`, j.Attempts, j.JobID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &j, nil
}

// MarkIndexJobDone finishes an index job.
func (s *Store) MarkIndexJobDone(ctx context.Context, jobID string) error {
	_, err := s.execContext(ctx,
		"UPDATE index_jobs SET status = 'done', updated_at = CURRENT_TIMESTAMP WHERE job_id = ?", jobID)
	return err
}

// MarkIndexJobFailed records a failure; deadLetter parks the job for good.
func (s *Store) MarkIndexJobFailed(ctx context.Context, jobID, errMsg string, deadLetter bool) error {
	status := types.JobFailed
	if deadLetter {
		status = types.JobDeadLetter
	}
	_, err := s.execContext(ctx,
		"UPDATE index_jobs SET status = ?, error_msg = ?, updated_at = CURRENT_TIMESTAMP WHERE job_id = ?",
		string(status), truncate(errMsg, maxJobErrorBytes), jobID)
	return err
}

// InsertRepoSyncJob enqueues a sync job.
func (s *Store) InsertRepoSyncJob(ctx context.Context, j RepoSyncJob) error {
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 3
	}
	_, err := s.execContext(ctx, `
		INSERT INTO repo_sync_jobs (job_id, workspace_id, repo_id, target_branch, commit_sha, max_attempts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		j.JobID, j.WorkspaceID, j.RepoID, j.TargetBranch, j.CommitSHA, j.MaxAttempts)
	if err != nil {
		return fmt.Errorf("failed to insert sync job: %w", err)
	}
	logging.Get(logging.CategoryJobs).Info("enqueued sync job %s (%s/%s @ %s)",
		j.JobID, j.WorkspaceID, j.RepoID, j.CommitSHA)
	return nil
}

// GetRepoSyncJob loads one sync job, or nil.
func (s *Store) GetRepoSyncJob(ctx context.Context, jobID string) (*RepoSyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var j RepoSyncJob
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, workspace_id, repo_id, target_branch, commit_sha,
			status, attempts, max_attempts, error_code, error_msg, resolved_sha, created_at
		FROM repo_sync_jobs WHERE job_id = ?`, jobID).Scan(
		&j.JobID, &j.WorkspaceID, &j.RepoID, &j.TargetBranch, &j.CommitSHA,
		&status, &j.Attempts, &j.MaxAttempts, &j.ErrorCode, &j.ErrorMsg, &j.ResolvedSHA, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync job %s: %w", jobID, err)
	}
	j.Status = types.JobStatus(status)
	return &j, nil
}

// LeaseNextRepoSyncJob atomically claims the oldest leasable sync job. The
// transaction makes the select-and-mark a single writer step, so two
// workers never lease the same job.
func (s *Store) LeaseNextRepoSyncJob(ctx context.Context) (*RepoSyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin sync lease: %w", err)
	}
	defer tx.Rollback()

	var j RepoSyncJob
	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT job_id, workspace_id, repo_id, target_branch, commit_sha,
			status, attempts, max_attempts, error_code, error_msg, resolved_sha, created_at
		FROM repo_sync_jobs
		WHERE (status = 'pending' OR status = 'failed') AND attempts < max_attempts
		ORDER BY created_at, job_id LIMIT 1`).Scan(
		&j.JobID, &j.WorkspaceID, &j.RepoID, &j.TargetBranch, &j.CommitSHA,
		&status, &j.Attempts, &j.MaxAttempts, &j.ErrorCode, &j.ErrorMsg, &j.ResolvedSHA, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	j.Attempts++
	j.Status = types.JobRunning
	j.ErrorCode = ""
	j.ErrorMsg = ""
	if _, err := tx.ExecContext(ctx, `
		UPDATE repo_sync_jobs
		SET status = 'running', attempts = ?, error_code = '', error_msg = '',
			started_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE job_id = ?`, j.Attempts, j.JobID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	logging.Get(logging.CategoryJobs).Debug("leased sync job %s (attempt %d/%d)", j.JobID, j.Attempts, j.MaxAttempts)
	return &j, nil
}

// MarkRepoSyncJobDone finishes a sync job with the SHA it checked out.
func (s *Store) MarkRepoSyncJobDone(ctx context.Context, jobID, resolvedSHA string) error {
	_, err := s.execContext(ctx, `
		UPDATE repo_sync_jobs
		SET status = 'done', resolved_sha = ?, finished_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE job_id = ?`, resolvedSHA, jobID)
	return err
}

// MarkRepoSyncJobFailed records a failure with its taxonomy code.
func (s *Store) MarkRepoSyncJobFailed(ctx context.Context, jobID, code, errMsg string, deadLetter bool) error {
	status := types.JobFailed
	if deadLetter {
		status = types.JobDeadLetter
	}
	_, err := s.execContext(ctx, `
		UPDATE repo_sync_jobs
		SET status = ?, error_code = ?, error_msg = ?, finished_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE job_id = ?`,
		string(status), code, truncate(errMsg, maxJobErrorBytes), jobID)
	return err
}

// UpsertRepoSyncState records a sync outcome. The upsert coalesces: empty
// strings never clobber previously recorded values, so a failure does not
// erase the last good SHA.
func (s *Store) UpsertRepoSyncState(ctx context.Context, st RepoSyncState, success bool) error {
	var successAt, failureAt interface{}
	now := time.Now().UTC()
	if success {
		successAt = now
	} else {
		failureAt = now
	}
	_, err := s.execContext(ctx, `
		INSERT INTO repo_sync_state
			(workspace_id, repo_id, last_synced_sha, last_synced_branch,
			 last_success_at, last_failure_at, last_error_code, last_error_msg, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(workspace_id, repo_id) DO UPDATE SET
			last_synced_sha = CASE WHEN excluded.last_synced_sha != '' THEN excluded.last_synced_sha ELSE repo_sync_state.last_synced_sha END,
			last_synced_branch = CASE WHEN excluded.last_synced_branch != '' THEN excluded.last_synced_branch ELSE repo_sync_state.last_synced_branch END,
			last_success_at = COALESCE(excluded.last_success_at, repo_sync_state.last_success_at),
			last_failure_at = COALESCE(excluded.last_failure_at, repo_sync_state.last_failure_at),
			last_error_code = excluded.last_error_code,
			last_error_msg = excluded.last_error_msg,
			updated_at = CURRENT_TIMESTAMP`,
		st.WorkspaceID, st.RepoID, st.LastSyncedSHA, st.LastSyncedBranch,
		successAt, failureAt, st.LastErrorCode, truncate(st.LastErrorMsg, maxJobErrorBytes))
	if err != nil {
		return fmt.Errorf("failed to upsert sync state %s/%s: %w", st.WorkspaceID, st.RepoID, err)
	}
	return nil
}

// GetRepoSyncState loads the sync state for a repo, or nil.
func (s *Store) GetRepoSyncState(ctx context.Context, workspaceID, repoID string) (*RepoSyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st RepoSyncState
	var successAt, failureAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, repo_id, last_synced_sha, last_synced_branch,
			last_success_at, last_failure_at, last_error_code, last_error_msg
		FROM repo_sync_state WHERE workspace_id = ? AND repo_id = ?`,
		workspaceID, repoID).Scan(
		&st.WorkspaceID, &st.RepoID, &st.LastSyncedSHA, &st.LastSyncedBranch,
		&successAt, &failureAt, &st.LastErrorCode, &st.LastErrorMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state %s/%s: %w", workspaceID, repoID, err)
	}
	if successAt.Valid {
		st.LastSuccessAt = successAt.Time
	}
	if failureAt.Valid {
		st.LastFailureAt = failureAt.Time
	}
	return &st, nil
}
