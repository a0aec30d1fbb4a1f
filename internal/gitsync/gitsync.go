// Package gitsync owns the repo-sync queue: enqueueing sync requests,
// leasing them from the store, and running them through a pluggable Syncer.
// The actual git plumbing lives behind the Syncer interface; this binary
// ships with an UnconfiguredSyncer and deployments wire their own.
package gitsync

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"cxxtract/internal/store"
	"cxxtract/internal/types"
	"cxxtract/internal/workspace"
)

// Sync error codes. Stable strings: they persist in repo_sync_state and
// surface through the CLI.
const (
	CodeNotConfigured     = "sync_not_configured"
	CodeMissingTokenEnv   = "missing_token_env"
	CodeGitTimeout        = "git_timeout"
	CodeCloneFailed       = "clone_failed"
	CodeResetFailed       = "reset_failed"
	CodeCleanFailed       = "clean_failed"
	CodeStatusFailed      = "status_failed"
	CodeDirtyWorktree     = "dirty_worktree"
	CodeFetchBranchFailed = "fetch_branch_failed"
	CodeCommitNotFound    = "commit_not_found"
	CodeCheckoutFailed    = "checkout_failed"
	CodeResolveHeadFailed = "resolve_head_failed"
	CodeRepoNotInManifest = "repo_not_in_manifest"
	CodeUnhandled         = "sync_unhandled"
)

// WarnSHABranchMismatch flags a job that names both a branch and a SHA the
// branch does not contain.
const WarnSHABranchMismatch = "sha_branch_mismatch"

// SyncError is a classified sync failure.
type SyncError struct {
	Code    string
	Message string
}

func (e *SyncError) Error() string {
	return e.Code + ": " + e.Message
}

// Errorf builds a SyncError with a formatted message.
func Errorf(code, format string, args ...interface{}) *SyncError {
	return &SyncError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Request is one sync unit: bring a repo checkout to a commit.
type Request struct {
	WorkspaceID string
	RepoID      string
	RepoRoot    string
	RemoteURL   string
	Branch      string
	CommitSHA   string
	Token       string // never logged
}

// Syncer brings a checkout to the requested state and reports the resolved
// HEAD SHA. Implementations classify failures as *SyncError.
type Syncer interface {
	Sync(ctx context.Context, req Request) (resolvedSHA string, warnings []string, err error)
}

// UnconfiguredSyncer is the default: every sync fails with
// sync_not_configured. Deployments that want real git syncing replace it.
type UnconfiguredSyncer struct{}

func (UnconfiguredSyncer) Sync(ctx context.Context, req Request) (string, []string, error) {
	return "", nil, Errorf(CodeNotConfigured, "no git syncer is configured for %s/%s", req.WorkspaceID, req.RepoID)
}

var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// EnqueueSync validates and inserts a sync job, returning its id.
func EnqueueSync(ctx context.Context, st *store.Store, workspaceID, repoID, branch, commitSHA string, maxAttempts int) (string, error) {
	if workspaceID == "" || repoID == "" {
		return "", types.Validationf(types.KindInvalidArgument, "workspace and repo are required")
	}
	commitSHA = strings.ToLower(strings.TrimSpace(commitSHA))
	if commitSHA != "" && !shaPattern.MatchString(commitSHA) {
		return "", types.Validationf(types.KindInvalidCommitSHA, "commit sha %q is not 40 hex chars", commitSHA)
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	jobID := uuid.NewString()
	err := st.InsertRepoSyncJob(ctx, store.RepoSyncJob{
		JobID:        jobID,
		WorkspaceID:  workspaceID,
		RepoID:       repoID,
		TargetBranch: branch,
		CommitSHA:    commitSHA,
		MaxAttempts:  maxAttempts,
	})
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// RecordPushEvent inserts an index job against the workspace baseline so a
// later sweep (or operator) knows which commits arrived. Queries re-verify
// lazily either way.
func RecordPushEvent(ctx context.Context, st *store.Store, workspaceID, repoID, commitSHA, eventType string) (string, error) {
	if workspaceID == "" || repoID == "" {
		return "", types.Validationf(types.KindInvalidArgument, "workspace and repo are required")
	}
	commitSHA = strings.ToLower(strings.TrimSpace(commitSHA))
	if commitSHA != "" && !shaPattern.MatchString(commitSHA) {
		return "", types.Validationf(types.KindInvalidCommitSHA, "commit sha %q is not 40 hex chars", commitSHA)
	}
	jobID := uuid.NewString()
	err := st.InsertIndexJob(ctx, store.IndexJob{
		JobID:       jobID,
		WorkspaceID: workspaceID,
		RepoID:      repoID,
		ContextID:   store.BaselineContextID(workspaceID),
		CommitSHA:   commitSHA,
		EventType:   eventType,
	})
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// validateJob checks a leased job against the manifest before the syncer
// runs. It returns the ready-to-run request or a classified error.
func validateJob(m *workspace.Manifest, job *store.RepoSyncJob) (Request, *SyncError) {
	repo := m.Repo(job.RepoID)
	if repo == nil {
		return Request{}, Errorf(CodeRepoNotInManifest, "repo %q is not in the manifest for %s", job.RepoID, job.WorkspaceID)
	}
	if repo.RemoteURL == "" {
		return Request{}, Errorf(CodeNotConfigured, "repo %q declares no remote_url", job.RepoID)
	}
	token := os.Getenv(repo.TokenEnvVar)
	if token == "" {
		return Request{}, Errorf(CodeMissingTokenEnv, "token env var %s is unset", repo.TokenEnvVar)
	}
	return Request{
		WorkspaceID: job.WorkspaceID,
		RepoID:      job.RepoID,
		RepoRoot:    m.RepoRoot(repo),
		RemoteURL:   repo.RemoteURL,
		Branch:      job.TargetBranch,
		CommitSHA:   job.CommitSHA,
		Token:       token,
	}, nil
}
