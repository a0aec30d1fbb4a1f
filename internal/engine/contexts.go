package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"cxxtract/internal/compiledb"
	"cxxtract/internal/logging"
	"cxxtract/internal/store"
	"cxxtract/internal/types"
	"cxxtract/internal/workspace"
)

// Workspace bundles the resolved manifest with its path resolver.
type Workspace struct {
	Manifest *workspace.Manifest
	Resolver *workspace.Resolver
}

// ResolveWorkspace loads the manifest (through the cache), persists the
// workspace row and its repo list, and returns the resolved workspace. An
// empty manifest path falls back to the path stored from a previous
// registration.
func (e *Engine) ResolveWorkspace(ctx context.Context, workspaceID, manifestPath string) (*Workspace, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "ResolveWorkspace")
	defer timer.Stop()

	if manifestPath == "" {
		if workspaceID == "" {
			return nil, types.Validationf(types.KindManifestPathEmpty, "manifest_path is empty")
		}
		row, err := e.store.GetWorkspace(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		if row.ManifestPath == "" {
			return nil, types.Validationf(types.KindManifestPathEmpty, "manifest_path is empty")
		}
		manifestPath = row.ManifestPath
	}

	m, err := e.manifests.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	if workspaceID != "" && workspaceID != m.WorkspaceID {
		return nil, types.Validationf(types.KindInvalidArgument,
			"manifest %s declares workspace %q, not %q", manifestPath, m.WorkspaceID, workspaceID)
	}

	if err := e.store.UpsertWorkspace(ctx, store.WorkspaceRow{
		WorkspaceID:  m.WorkspaceID,
		RootPath:     m.RootPath,
		ManifestPath: m.ManifestPath,
	}); err != nil {
		return nil, err
	}
	repoRows := make([]store.RepoRow, 0, len(m.Repos))
	for i := range m.Repos {
		r := &m.Repos[i]
		repoRows = append(repoRows, store.RepoRow{
			WorkspaceID:     m.WorkspaceID,
			RepoID:          r.RepoID,
			Root:            r.Root,
			CompileCommands: r.CompileCommands,
			DefaultBranch:   r.DefaultBranch,
			DependsOn:       r.DependsOn,
			RemoteURL:       r.RemoteURL,
			TokenEnvVar:     r.TokenEnvVar,
			ProjectPath:     r.ProjectPath,
			CommitSHA:       r.CommitSHA,
		})
	}
	if err := e.store.ReplaceWorkspaceRepos(ctx, m.WorkspaceID, repoRows); err != nil {
		return nil, err
	}

	return &Workspace{Manifest: m, Resolver: workspace.NewResolver(m)}, nil
}

// ResolveContexts ensures the baseline exists and picks the context the
// query runs against. PR mode derives or creates an overlay; its stored
// overlay mode (sticky escalation included) is respected.
func (e *Engine) ResolveContexts(ctx context.Context, workspaceID string, scope types.QueryScope) (contextID, baselineID string, overlayMode types.OverlayMode, err error) {
	baselineID, err = e.store.EnsureBaselineContext(ctx, workspaceID)
	if err != nil {
		return "", "", "", err
	}

	switch scope.Mode {
	case types.ModePR:
		contextID = scope.ContextID
		if contextID == "" {
			contextID = prContextID(workspaceID, scope.PRID)
		}
		if err = e.store.UpsertAnalysisContext(ctx, store.AnalysisContext{
			ContextID:     contextID,
			WorkspaceID:   workspaceID,
			Mode:          types.ModePR,
			BaseContextID: baselineID,
		}); err != nil {
			return "", "", "", err
		}
	default:
		contextID = scope.ContextID
		if contextID == "" {
			contextID = baselineID
		}
	}

	overlayMode = types.OverlaySparse
	if row, gerr := e.store.GetAnalysisContext(ctx, contextID); gerr == nil && row != nil {
		overlayMode = row.OverlayMode
	}
	return contextID, baselineID, overlayMode, nil
}

func prContextID(workspaceID, prID string) string {
	if prID == "" {
		prID = uuid.NewString()[:8]
	}
	return fmt.Sprintf("%s:pr:%s", workspaceID, prID)
}

// CreateOverlay inserts a fresh active sparse overlay for a workspace.
func (e *Engine) CreateOverlay(ctx context.Context, workspaceID, prID string) (string, error) {
	baselineID, err := e.store.EnsureBaselineContext(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	contextID := prContextID(workspaceID, prID)
	err = e.store.UpsertAnalysisContext(ctx, store.AnalysisContext{
		ContextID:     contextID,
		WorkspaceID:   workspaceID,
		Mode:          types.ModePR,
		BaseContextID: baselineID,
	})
	if err != nil {
		return "", err
	}
	logging.Get(logging.CategoryContext).Info("created overlay %s", contextID)
	return contextID, nil
}

// ExpireOverlay marks a context expired so chain walks stop serving it.
func (e *Engine) ExpireOverlay(ctx context.Context, contextID string) error {
	return e.store.ExpireContext(ctx, contextID)
}

// CandidateRepos BFS-walks depends_on from the entry set up to maxHops.
// An empty entry set means every repo, sorted for determinism.
func (e *Engine) CandidateRepos(m *workspace.Manifest, entry []string, maxHops int) []string {
	if len(entry) == 0 {
		all := make([]string, 0, len(m.Repos))
		for i := range m.Repos {
			all = append(all, m.Repos[i].RepoID)
		}
		sort.Strings(all)
		return all
	}

	visited := make(map[string]bool)
	var order []string
	frontier := make([]string, 0, len(entry))
	for _, id := range entry {
		if m.Repo(id) != nil && !visited[id] {
			visited[id] = true
			order = append(order, id)
			frontier = append(frontier, id)
		}
	}
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, dep := range m.Repo(id).DependsOn {
				if m.Repo(dep) == nil || visited[dep] {
					continue
				}
				visited[dep] = true
				order = append(order, dep)
				next = append(next, dep)
			}
		}
		frontier = next
	}
	return order
}

// CompileDBFor loads a repo's compile-command index through the cache. Load
// failures log and yield nil; the repo's files classify unparsed downstream.
func (e *Engine) CompileDBFor(m *workspace.Manifest, repoID string) *compiledb.Index {
	repo := m.Repo(repoID)
	if repo == nil {
		return nil
	}
	idx, err := e.compileDBs.Load(m.WorkspaceID, repoID, m.CompileCommandsPath(repo))
	if err != nil {
		logging.EngineWarn("compile db unavailable for %s/%s: %v", m.WorkspaceID, repoID, err)
		return nil
	}
	return idx
}

// RefreshManifest drops the cached manifest and the workspace's compile-db
// indexes so the next query reloads both from disk.
func (e *Engine) RefreshManifest(workspaceID, manifestPath string) {
	e.manifests.Invalidate(manifestPath)
	n := e.compileDBs.Invalidate(workspaceID)
	logging.Engine("refreshed manifest %s (%d compile dbs dropped)", manifestPath, n)
}

// SweepExpired expires overlays whose explicit expiry passed or whose idle
// time exceeds the context TTL. When the database file exceeds the disk
// budget it additionally expires and clears the least-recently-accessed
// overlay; one per sweep keeps the sweep bounded and reclaim incremental.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	contexts, err := e.store.ListActiveContexts(ctx, "")
	if err != nil {
		return nil, err
	}

	ttl := e.cfg.ContextTTL()
	var expired []string
	for i := range contexts {
		c := &contexts[i]
		if c.Mode == types.ModeBaseline {
			continue
		}
		timedOut := c.ExpiresAt != nil && now.After(*c.ExpiresAt)
		idledOut := ttl > 0 && now.Sub(c.LastAccessedAt) > ttl
		if !timedOut && !idledOut {
			continue
		}
		if err := e.store.ExpireContext(ctx, c.ContextID); err != nil {
			logging.EngineWarn("sweep: failed to expire %s: %v", c.ContextID, err)
			continue
		}
		if _, err := e.store.ClearContext(ctx, c.ContextID); err != nil {
			logging.EngineWarn("sweep: failed to clear %s: %v", c.ContextID, err)
		}
		expired = append(expired, c.ContextID)
	}

	if e.cfg.ContextDiskBudgetBytes > 0 && e.store.FileSizeBytes() > e.cfg.ContextDiskBudgetBytes {
		// ListActiveContexts is LRU-first; pick the oldest surviving overlay.
		for i := range contexts {
			c := &contexts[i]
			if c.Mode == types.ModeBaseline || containsString(expired, c.ContextID) {
				continue
			}
			if err := e.store.ExpireContext(ctx, c.ContextID); err == nil {
				if _, cerr := e.store.ClearContext(ctx, c.ContextID); cerr != nil {
					logging.EngineWarn("sweep: failed to clear %s: %v", c.ContextID, cerr)
				}
				expired = append(expired, c.ContextID)
				logging.Engine("sweep: disk budget exceeded, expired %s", c.ContextID)
			}
			break
		}
	}
	return expired, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
