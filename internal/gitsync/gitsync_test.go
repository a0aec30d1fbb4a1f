package gitsync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cxxtract/internal/store"
	"cxxtract/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testSHA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// writeManifest lays out a workspace with one syncable repo and returns the
// manifest path.
func writeManifest(t *testing.T, tokenEnv string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "repoA"), 0o755))
	manifest := `workspace_id: ws1
repos:
  - repo_id: repoA
    root: repoA
    remote_url: https://git.example.com/group/repoA.git
    token_env_var: ` + tokenEnv + `
    commit_sha: "` + testSHA + `"
`
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))
	return path
}

type fakeSyncer struct {
	resolved string
	warnings []string
	err      error
	calls    int
}

func (f *fakeSyncer) Sync(ctx context.Context, req Request) (string, []string, error) {
	f.calls++
	return f.resolved, f.warnings, f.err
}

func TestEnqueueSyncValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := EnqueueSync(ctx, s, "", "repoA", "", "", 3)
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, types.KindInvalidArgument, verr.Kind)

	_, err = EnqueueSync(ctx, s, "ws1", "repoA", "", "not-a-sha", 3)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, types.KindInvalidCommitSHA, verr.Kind)

	// A valid SHA is accepted and lowercased.
	jobID, err := EnqueueSync(ctx, s, "ws1", "repoA", "main", strings.ToUpper(testSHA), 3)
	require.NoError(t, err)
	job, err := s.GetRepoSyncJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, testSHA, job.CommitSHA)
	assert.Equal(t, "main", job.TargetBranch)
}

func TestRecordPushEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := RecordPushEvent(ctx, s, "ws1", "repoA", testSHA, "merge")
	require.NoError(t, err)

	job, err := s.LeaseNextIndexJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "ws1:baseline", job.ContextID)
	assert.Equal(t, "merge", job.EventType)
}

// runPoolUntil starts a single-worker pool and polls until cond sees the
// terminal job state.
func runPoolUntil(t *testing.T, s *store.Store, pool *WorkerPool, jobID string, want types.JobStatus) *store.RepoSyncJob {
	t.Helper()
	ctx := context.Background()
	pool.Start(ctx)
	defer pool.Stop()

	deadline := time.After(5 * time.Second)
	for {
		job, err := s.GetRepoSyncJob(ctx, jobID)
		require.NoError(t, err)
		if job != nil && job.Status == want {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("job %s never reached %s", jobID, want)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestWorkerSyncSuccess(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t.Setenv("TEST_SYNC_TOKEN", "secret")
	manifestPath := writeManifest(t, "TEST_SYNC_TOKEN")

	syncer := &fakeSyncer{resolved: testSHA}
	pool := NewWorkerPool(s, syncer, 1, time.Second)
	pool.RegisterManifest("ws1", manifestPath)

	jobID, err := EnqueueSync(ctx, s, "ws1", "repoA", "main", testSHA, 3)
	require.NoError(t, err)

	job := runPoolUntil(t, s, pool, jobID, types.JobDone)
	assert.Equal(t, testSHA, job.ResolvedSHA)

	st, err := s.GetRepoSyncState(ctx, "ws1", "repoA")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, testSHA, st.LastSyncedSHA)
	assert.Equal(t, "main", st.LastSyncedBranch)
	assert.False(t, st.LastSuccessAt.IsZero())
}

func TestWorkerDeadLettersAfterMaxAttempts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t.Setenv("TEST_SYNC_TOKEN", "secret")
	manifestPath := writeManifest(t, "TEST_SYNC_TOKEN")

	syncer := &fakeSyncer{err: Errorf(CodeCloneFailed, "remote said no")}
	pool := NewWorkerPool(s, syncer, 1, time.Second)
	pool.RegisterManifest("ws1", manifestPath)

	jobID, err := EnqueueSync(ctx, s, "ws1", "repoA", "", testSHA, 2)
	require.NoError(t, err)

	job := runPoolUntil(t, s, pool, jobID, types.JobDeadLetter)
	assert.Equal(t, CodeCloneFailed, job.ErrorCode)
	assert.Equal(t, 2, job.Attempts)
	assert.GreaterOrEqual(t, syncer.calls, 2)

	st, err := s.GetRepoSyncState(ctx, "ws1", "repoA")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, CodeCloneFailed, st.LastErrorCode)
	assert.False(t, st.LastFailureAt.IsZero())
}

func TestWorkerValidatesAgainstManifest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t.Setenv("TEST_SYNC_TOKEN", "secret")
	manifestPath := writeManifest(t, "TEST_SYNC_TOKEN")

	syncer := &fakeSyncer{resolved: testSHA}
	pool := NewWorkerPool(s, syncer, 1, time.Second)
	pool.RegisterManifest("ws1", manifestPath)

	jobID, err := EnqueueSync(ctx, s, "ws1", "ghost-repo", "", testSHA, 1)
	require.NoError(t, err)

	job := runPoolUntil(t, s, pool, jobID, types.JobDeadLetter)
	assert.Equal(t, CodeRepoNotInManifest, job.ErrorCode)
	assert.Zero(t, syncer.calls, "the syncer never runs for an unknown repo")
}

func TestWorkerMissingTokenEnv(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	manifestPath := writeManifest(t, "DEFINITELY_UNSET_TOKEN_VAR")

	syncer := &fakeSyncer{resolved: testSHA}
	pool := NewWorkerPool(s, syncer, 1, time.Second)
	pool.RegisterManifest("ws1", manifestPath)

	jobID, err := EnqueueSync(ctx, s, "ws1", "repoA", "", testSHA, 1)
	require.NoError(t, err)

	job := runPoolUntil(t, s, pool, jobID, types.JobDeadLetter)
	assert.Equal(t, CodeMissingTokenEnv, job.ErrorCode)
}

func TestUnconfiguredSyncer(t *testing.T) {
	_, _, err := UnconfiguredSyncer{}.Sync(context.Background(), Request{WorkspaceID: "ws1", RepoID: "repoA"})
	var serr *SyncError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CodeNotConfigured, serr.Code)
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	serr := classify(Errorf(CodeDirtyWorktree, "untracked files"), ctx)
	assert.Equal(t, CodeDirtyWorktree, serr.Code)

	expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
	defer cancel()
	serr = classify(expired.Err(), expired)
	assert.Equal(t, CodeGitTimeout, serr.Code)

	serr = classify(os.ErrPermission, ctx)
	assert.Equal(t, CodeUnhandled, serr.Code)
}
