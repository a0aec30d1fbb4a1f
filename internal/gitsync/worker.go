package gitsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"cxxtract/internal/logging"
	"cxxtract/internal/store"
	"cxxtract/internal/workspace"
)

const idleSleep = 200 * time.Millisecond

// WorkerPool polls the repo-sync queue with a fixed number of goroutines.
// A per-(workspace, repo) lock serializes concurrent syncs of one checkout.
type WorkerPool struct {
	store     *store.Store
	manifests *workspace.ManifestCache
	syncer    Syncer

	workerCount int
	jobTimeout  time.Duration

	// manifestPath per workspace id; registered by the CLI before Start.
	pathMu        sync.RWMutex
	manifestPaths map[string]string

	repoMu    sync.Mutex
	repoLocks map[string]*sync.Mutex

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorkerPool builds a stopped pool.
func NewWorkerPool(st *store.Store, syncer Syncer, workerCount int, jobTimeout time.Duration) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &WorkerPool{
		store:         st,
		manifests:     workspace.NewManifestCache(),
		syncer:        syncer,
		workerCount:   workerCount,
		jobTimeout:    jobTimeout,
		manifestPaths: make(map[string]string),
		repoLocks:     make(map[string]*sync.Mutex),
	}
}

// RegisterManifest tells the pool where a workspace's manifest lives so
// leased jobs can be validated against it.
func (p *WorkerPool) RegisterManifest(workspaceID, manifestPath string) {
	p.pathMu.Lock()
	p.manifestPaths[workspaceID] = manifestPath
	p.pathMu.Unlock()
}

// InvalidateManifest drops the cached manifest for a path, e.g. when the
// watcher reports a change.
func (p *WorkerPool) InvalidateManifest(manifestPath string) {
	p.manifests.Invalidate(manifestPath)
}

// Start launches the workers. They run until the context is cancelled or
// Stop is called.
func (p *WorkerPool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.run(runCtx, i)
	}
	logging.Sync("sync worker pool started: workers=%d", p.workerCount)
}

// Stop cancels the workers and waits for them to exit.
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	logging.Sync("sync worker pool stopped")
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.store.LeaseNextRepoSyncJob(ctx)
		if err != nil {
			logging.SyncWarn("worker %d: lease failed: %v", id, err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			continue
		}
		p.process(ctx, job)
	}
}

// process runs one leased job end to end: manifest validation, the syncer
// call under the per-job timeout, and the outcome bookkeeping.
func (p *WorkerPool) process(ctx context.Context, job *store.RepoSyncJob) {
	timer := logging.StartTimer(logging.CategorySync, "process")
	defer timer.Stop()

	unlock := p.lockRepo(job.WorkspaceID, job.RepoID)
	defer unlock()

	req, serr := p.buildRequest(job)
	if serr != nil {
		p.fail(ctx, job, serr)
		return
	}

	runCtx := ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}
	resolvedSHA, warnings, err := p.syncer.Sync(runCtx, req)
	for _, w := range warnings {
		logging.SyncWarn("job %s: %s", job.JobID, w)
	}
	if err != nil {
		serr := classify(err, runCtx)
		p.fail(ctx, job, serr)
		return
	}

	if err := p.store.MarkRepoSyncJobDone(ctx, job.JobID, resolvedSHA); err != nil {
		logging.SyncError("job %s: mark done failed: %v", job.JobID, err)
	}
	if err := p.store.UpsertRepoSyncState(ctx, store.RepoSyncState{
		WorkspaceID:      job.WorkspaceID,
		RepoID:           job.RepoID,
		LastSyncedSHA:    resolvedSHA,
		LastSyncedBranch: job.TargetBranch,
	}, true); err != nil {
		logging.SyncError("job %s: state upsert failed: %v", job.JobID, err)
	}
	logging.Sync("job %s: synced %s/%s to %s", job.JobID, job.WorkspaceID, job.RepoID, resolvedSHA)
}

// buildRequest loads the workspace manifest and validates the job against
// it. Missing manifest registration classifies as sync_not_configured.
func (p *WorkerPool) buildRequest(job *store.RepoSyncJob) (Request, *SyncError) {
	p.pathMu.RLock()
	manifestPath := p.manifestPaths[job.WorkspaceID]
	p.pathMu.RUnlock()
	if manifestPath == "" {
		return Request{}, Errorf(CodeNotConfigured, "no manifest registered for workspace %s", job.WorkspaceID)
	}
	m, err := p.manifests.Load(manifestPath)
	if err != nil {
		return Request{}, Errorf(CodeNotConfigured, "manifest %s failed to load: %v", manifestPath, err)
	}
	return validateJob(m, job)
}

// fail records a failed attempt, dead-lettering once attempts reach the
// job's budget.
func (p *WorkerPool) fail(ctx context.Context, job *store.RepoSyncJob, serr *SyncError) {
	deadLetter := job.Attempts >= job.MaxAttempts
	logging.SyncWarn("job %s: %s (attempt %d/%d, dead_letter=%v)",
		job.JobID, serr.Error(), job.Attempts, job.MaxAttempts, deadLetter)

	if err := p.store.MarkRepoSyncJobFailed(ctx, job.JobID, serr.Code, serr.Message, deadLetter); err != nil {
		logging.SyncError("job %s: mark failed failed: %v", job.JobID, err)
	}
	if err := p.store.UpsertRepoSyncState(ctx, store.RepoSyncState{
		WorkspaceID:   job.WorkspaceID,
		RepoID:        job.RepoID,
		LastErrorCode: serr.Code,
		LastErrorMsg:  serr.Message,
	}, false); err != nil {
		logging.SyncError("job %s: state upsert failed: %v", job.JobID, err)
	}
}

// classify maps arbitrary syncer errors into the taxonomy. Timeouts get
// their own code; anything unclassified is sync_unhandled.
func classify(err error, runCtx context.Context) *SyncError {
	var serr *SyncError
	if errors.As(err, &serr) {
		return serr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return Errorf(CodeGitTimeout, "sync timed out: %v", err)
	}
	return Errorf(CodeUnhandled, "%v", err)
}

// lockRepo serializes syncs per (workspace, repo) within this process.
func (p *WorkerPool) lockRepo(workspaceID, repoID string) func() {
	key := workspaceID + "/" + repoID
	p.repoMu.Lock()
	mu := p.repoLocks[key]
	if mu == nil {
		mu = &sync.Mutex{}
		p.repoLocks[key] = mu
	}
	p.repoMu.Unlock()
	mu.Lock()
	return mu.Unlock
}
