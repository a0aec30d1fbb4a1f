package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cxxtract/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	s := openTestStore(t)

	var version int
	require.NoError(t, s.DB().QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, CurrentSchemaVersion, version)

	for _, table := range []string{
		"workspaces", "repos", "analysis_contexts", "context_file_states",
		"tracked_files", "symbols", "references_", "call_edges", "include_deps",
		"recall_fts", "parse_runs", "index_jobs", "repo_sync_jobs",
		"repo_sync_state", "commit_diff_summaries",
	} {
		assert.True(t, tableExists(s.DB(), table), "missing table %s", table)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening re-enters RunMigrations against an up-to-date schema.
	s, err = Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	// Forcing a replay of every step must also be harmless.
	_, err = s.DB().Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, RunMigrations(s.DB()))
}

func TestWorkspaceAndRepoPersistence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertWorkspace(ctx, WorkspaceRow{
		WorkspaceID: "ws1", RootPath: "/ws", ManifestPath: "/ws/workspace.yaml",
	}))
	w, err := s.GetWorkspace(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, "/ws", w.RootPath)

	_, err = s.GetWorkspace(ctx, "ghost")
	require.Error(t, err)
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, types.KindWorkspaceNotFound, verr.Kind)

	repos := []RepoRow{
		{WorkspaceID: "ws1", RepoID: "repoA", Root: "repoA", DependsOn: []string{"repoB"}},
		{WorkspaceID: "ws1", RepoID: "repoB", Root: "repoB"},
	}
	require.NoError(t, s.ReplaceWorkspaceRepos(ctx, "ws1", repos))
	got, err := s.ListRepos(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"repoB"}, got[0].DependsOn)

	// Replace drops rows no longer declared.
	require.NoError(t, s.ReplaceWorkspaceRepos(ctx, "ws1", repos[:1]))
	got, err = s.ListRepos(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	r, err := s.GetRepo(ctx, "ws1", "repoB")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func payloadFor(contextID, fileKey, absPath string) *types.ParsePayload {
	return &types.ParsePayload{
		ContextID:     contextID,
		FileKey:       fileKey,
		RepoID:        types.RepoOfFileKey(fileKey),
		RelPath:       "src/a.cpp",
		AbsPath:       absPath,
		ContentHash:   "c1",
		FlagsHash:     "f1",
		IncludesHash:  "i1",
		CompositeHash: "h1",
		Output: types.ExtractorOutput{
			Success: true,
			Symbols: []types.ExtractedSymbol{
				{Name: "foo", QualifiedName: "ns::foo", Kind: "function", Line: 10, Col: 5, ExtentEndLine: 20},
			},
			References: []types.ExtractedReference{
				{Symbol: "ns::foo", Line: 30, Col: 3, Kind: "call"},
			},
			CallEdges: []types.ExtractedCallEdge{
				{Caller: "ns::bar", Callee: "ns::foo", Line: 30},
			},
		},
		ResolvedIncludeDeps: []types.ResolvedIncludeDep{
			{RawPath: "/ws/repoA/include/a.h", Depth: 1, Resolved: true, FileKey: "repoA:include/a.h"},
		},
	}
}

func TestUpsertParsePayloadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "a.cpp")
	require.NoError(t, os.WriteFile(src, []byte("namespace ns { void foo(); }"), 0o644))

	p := payloadFor("ctx1", "repoA:src/a.cpp", src)
	require.NoError(t, s.UpsertParsePayload(ctx, p))

	tf, err := s.GetTrackedFile(ctx, "ctx1", "repoA:src/a.cpp")
	require.NoError(t, err)
	require.NotNil(t, tf)
	assert.Equal(t, "h1", tf.CompositeHash)

	symbols, err := s.SearchSymbolsByName(ctx, []string{"ctx1"}, "foo", ChainFilter{})
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "ns::foo", symbols[0].QualifiedName)

	refs, err := s.SearchReferencesBySymbol(ctx, []string{"ctx1"}, "foo", ChainFilter{})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "call", refs[0].RefKind)

	edges, err := s.CallEdgesForCallee(ctx, []string{"ctx1"}, "ns::foo", ChainFilter{})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "ns::bar", edges[0].Caller)

	// Recall content was refreshed from the file bytes.
	hits := s.SearchRecallCandidates(ctx, "ctx1", "ns::foo", nil, 10)
	assert.Equal(t, []string{"repoA:src/a.cpp"}, hits)

	// Re-upserting replaces rather than accumulates.
	p2 := payloadFor("ctx1", "repoA:src/a.cpp", src)
	p2.Output.Symbols[0].Line = 12
	require.NoError(t, s.UpsertParsePayload(ctx, p2))
	symbols, err = s.SearchSymbolsByName(ctx, []string{"ctx1"}, "foo", ChainFilter{})
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, 12, symbols[0].Line)
}

func TestChainReadsOverlayPrecedence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "a.cpp")
	require.NoError(t, os.WriteFile(src, []byte("int x;"), 0o644))

	base := payloadFor("base", "repoA:src/a.cpp", src)
	require.NoError(t, s.UpsertParsePayload(ctx, base))

	// Overlay re-parses the same file: same dedup key for the symbol at
	// (fileKey, qualifiedName, line, col) plus a new one.
	overlay := payloadFor("pr1", "repoA:src/a.cpp", src)
	overlay.Output.Symbols = append(overlay.Output.Symbols, types.ExtractedSymbol{
		Name: "foo_pr", QualifiedName: "ns::foo_pr", Kind: "function", Line: 12, Col: 5,
	})
	require.NoError(t, s.UpsertParsePayload(ctx, overlay))

	rows, err := s.SearchSymbolsByName(ctx, []string{"pr1", "base"}, "foo", ChainFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "pr1", r.ContextID, "overlay rows must win on dedup-key collision")
	}
}

func TestChainFilterExcludesAndNarrows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	dir := t.TempDir()
	srcA := filepath.Join(dir, "a.cpp")
	srcB := filepath.Join(dir, "b.cpp")
	require.NoError(t, os.WriteFile(srcA, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(srcB, []byte("b"), 0o644))

	pa := payloadFor("base", "repoA:src/a.cpp", srcA)
	pb := payloadFor("base", "repoA:src/b.cpp", srcB)
	require.NoError(t, s.UpsertParsePayload(ctx, pa))
	require.NoError(t, s.UpsertParsePayload(ctx, pb))

	refs, err := s.SearchReferencesBySymbol(ctx, []string{"base"}, "foo", ChainFilter{
		Excluded: map[string]bool{"repoA:src/b.cpp": true},
	})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "repoA:src/a.cpp", refs[0].FileKey)

	refs, err = s.SearchReferencesBySymbol(ctx, []string{"base"}, "foo", ChainFilter{
		Candidates: map[string]bool{"repoA:src/b.cpp": true},
	})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "repoA:src/b.cpp", refs[0].FileKey)
}

func TestDeleteTrackedFileCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "a.cpp")
	require.NoError(t, os.WriteFile(src, []byte("int x;"), 0o644))
	require.NoError(t, s.UpsertParsePayload(ctx, payloadFor("ctx1", "repoA:src/a.cpp", src)))

	removed, err := s.DeleteTrackedFile(ctx, "ctx1", "repoA:src/a.cpp")
	require.NoError(t, err)
	assert.True(t, removed)

	symbols, err := s.SearchSymbolsByName(ctx, []string{"ctx1"}, "foo", ChainFilter{})
	require.NoError(t, err)
	assert.Empty(t, symbols)
	assert.Empty(t, s.SearchRecallCandidates(ctx, "ctx1", "x", nil, 10))

	removed, err = s.DeleteTrackedFile(ctx, "ctx1", "repoA:src/a.cpp")
	require.NoError(t, err)
	assert.False(t, removed, "second delete removes nothing")
}

func TestClearContext(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "a.cpp")
	require.NoError(t, os.WriteFile(src, []byte("int x;"), 0o644))
	require.NoError(t, s.UpsertParsePayload(ctx, payloadFor("ctx1", "repoA:src/a.cpp", src)))
	require.NoError(t, s.UpsertParsePayload(ctx, payloadFor("ctx1", "repoA:src/b.cpp", src)))
	require.NoError(t, s.UpsertParsePayload(ctx, payloadFor("other", "repoA:src/a.cpp", src)))

	n, err := s.ClearContext(ctx, "ctx1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := s.CountTrackedFiles(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "other contexts are untouched")
}

func TestContextLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	baselineID, err := s.EnsureBaselineContext(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, "ws1:baseline", baselineID)

	// Idempotent.
	again, err := s.EnsureBaselineContext(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, baselineID, again)

	require.NoError(t, s.UpsertAnalysisContext(ctx, AnalysisContext{
		ContextID:     "ws1:pr:42",
		WorkspaceID:   "ws1",
		Mode:          types.ModePR,
		BaseContextID: baselineID,
	}))
	c, err := s.GetAnalysisContext(ctx, "ws1:pr:42")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, types.OverlaySparse, c.OverlayMode)
	assert.Equal(t, types.ContextActive, c.Status)

	active, err := s.ListActiveContexts(ctx, "ws1")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, s.ExpireContext(ctx, "ws1:pr:42"))
	active, err = s.ListActiveContexts(ctx, "ws1")
	require.NoError(t, err)
	assert.Len(t, active, 1)

	err = s.ExpireContext(ctx, "ghost")
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, types.KindContextNotFound, verr.Kind)
}

func TestOverlayStatsEscalation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureBaselineContext(ctx, "ws1")
	require.NoError(t, err)
	require.NoError(t, s.UpsertAnalysisContext(ctx, AnalysisContext{
		ContextID: "ws1:pr:1", WorkspaceID: "ws1", Mode: types.ModePR, BaseContextID: "ws1:baseline",
	}))

	ceilings := OverlayCeilings{MaxFiles: 2, MaxRows: 100}
	mode, err := s.UpdateContextOverlayStats(ctx, "ws1:pr:1", 1, 10, ceilings, false)
	require.NoError(t, err)
	assert.Equal(t, types.OverlaySparse, mode)

	mode, err = s.UpdateContextOverlayStats(ctx, "ws1:pr:1", 2, 10, ceilings, false)
	require.NoError(t, err)
	assert.Equal(t, types.OverlayPartial, mode, "file ceiling crossed")

	// Escalation is sticky even when counters go back down.
	mode, err = s.UpdateContextOverlayStats(ctx, "ws1:pr:1", -3, -20, ceilings, false)
	require.NoError(t, err)
	assert.Equal(t, types.OverlayPartial, mode)
}

func TestContextFileStates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertContextFileState(ctx, ContextFileState{
		ContextID: "pr1", FileKey: "repoA:src/gone.cpp", State: types.StateDeleted,
	}))
	require.NoError(t, s.UpsertContextFileState(ctx, ContextFileState{
		ContextID: "pr1", FileKey: "repoA:src/new.cpp", State: types.StateRenamed,
		ReplacedFromFileKey: "repoA:src/old.cpp",
	}))

	states, err := s.GetContextFileStates(ctx, "pr1")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, types.StateDeleted, states[0].State)
	assert.Equal(t, "repoA:src/old.cpp", states[1].ReplacedFromFileKey)

	// Deleted and renamed-away keys are masked; live keys are not.
	for key, want := range map[string]bool{
		"repoA:src/gone.cpp": true,
		"repoA:src/old.cpp":  true,
		"repoA:src/new.cpp":  false,
		"repoA:src/live.cpp": false,
	} {
		masked, err := s.FileMaskedInContext(ctx, "pr1", key)
		require.NoError(t, err)
		assert.Equal(t, want, masked, key)
	}
	masked, err := s.FileMaskedInContext(ctx, "pr2", "repoA:src/gone.cpp")
	require.NoError(t, err)
	assert.False(t, masked, "masks are scoped to their context")
}

func TestParseRunAudit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.InsertParseRun(ctx, "ctx1", "repoA:src/a.cpp", "/ws/repoA/src/a.cpp")
	require.NoError(t, err)
	require.NoError(t, s.FinishParseRun(ctx, id, false, string(make([]byte, 2000))))

	runs, err := s.ListParseRuns(ctx, "ctx1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Finished)
	assert.False(t, runs[0].Success)
	assert.Len(t, runs[0].ErrorMsg, 1000, "error messages are trimmed")
}
