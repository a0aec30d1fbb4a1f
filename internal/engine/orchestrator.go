package engine

import (
	"context"
	"sort"

	"cxxtract/internal/compiledb"
	"cxxtract/internal/logging"
	"cxxtract/internal/store"
	"cxxtract/internal/types"
)

// pipeline carries everything a query needs after the shared
// resolve → recall → classify → parse stages have run.
type pipeline struct {
	ws        *Workspace
	contextID string
	chain     []string
	filter    store.ChainFilter
	envelope  types.ConfidenceEnvelope
}

// runPipeline executes the shared query pipeline for one symbol (or file
// key): workspace + context resolution, candidate recall, freshness
// classification, re-parse, and envelope assembly.
func (e *Engine) runPipeline(ctx context.Context, scope types.QueryScope, needle string) (*pipeline, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "runPipeline")
	defer timer.Stop()

	ws, err := e.ResolveWorkspace(ctx, scope.WorkspaceID, scope.ManifestPath)
	if err != nil {
		return nil, err
	}
	workspaceID := ws.Manifest.WorkspaceID

	contextID, baselineID, overlayMode, err := e.ResolveContexts(ctx, workspaceID, scope)
	if err != nil {
		return nil, err
	}
	if err := e.store.TouchContext(ctx, contextID); err != nil {
		logging.EngineWarn("touch %s: %v", contextID, err)
	}

	repos := e.CandidateRepos(ws.Manifest, scope.EntryRepos, maxHopsOrDefault(scope.MaxHops))
	compileDBs := make(map[string]*compiledb.Index, len(repos))
	for _, repoID := range repos {
		compileDBs[repoID] = e.CompileDBFor(ws.Manifest, repoID)
	}

	overlayID := ""
	chain := []string{baselineID}
	if contextID != baselineID {
		overlayID = contextID
		chain = []string{overlayID, baselineID}
	}

	cand := e.ResolveCandidates(ctx, ws, needle, baselineID, overlayID, repos, scope.MaxFiles)
	cls := e.Classify(ctx, chain, contextID, cand.Candidates, ws, compileDBs)
	parsed := e.Parse(ctx, ws, cls.Tasks)

	verified := append(append([]string{}, cls.Fresh...), parsed.Parsed...)
	warnings := mergeWarnings(cand.Warnings, cls.Warnings, parsed.Warnings)
	if cand.Truncated {
		for _, r := range cand.TruncationReasons {
			warnings = append(warnings, "truncated:"+r)
		}
		warnings = mergeWarnings(warnings)
	}

	return &pipeline{
		ws:        ws,
		contextID: contextID,
		chain:     chain,
		filter: store.ChainFilter{
			Candidates: toSet(cand.Candidates),
			Excluded:   cand.Deleted,
		},
		envelope: buildEnvelope(verified, parsed.Failed, cls.Unparsed, warnings, overlayMode),
	}, nil
}

func maxHopsOrDefault(h int) int {
	if h <= 0 {
		return 2
	}
	return h
}

func toSet(keys []string) map[string]bool {
	if len(keys) == 0 {
		return nil
	}
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

func mergeWarnings(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, w := range list {
			if !seen[w] {
				seen[w] = true
				out = append(out, w)
			}
		}
	}
	sort.Strings(out)
	return out
}

// buildEnvelope computes the confidence envelope: per-file verdicts, the
// 4-decimal verified ratio, and per-repo coverage.
func buildEnvelope(verified, stale, unparsed, warnings []string, overlayMode types.OverlayMode) types.ConfidenceEnvelope {
	env := types.ConfidenceEnvelope{
		VerifiedFiles:   verified,
		StaleFiles:      stale,
		UnparsedFiles:   unparsed,
		TotalCandidates: len(verified) + len(stale) + len(unparsed),
		Warnings:        warnings,
		OverlayMode:     overlayMode,
		RepoCoverage:    make(map[string]float64),
	}
	if env.TotalCandidates > 0 {
		env.VerifiedRatio = types.Round4(float64(len(verified)) / float64(env.TotalCandidates))
	}

	type counts struct{ verified, total int }
	perRepo := make(map[string]*counts)
	bump := func(keys []string, isVerified bool) {
		for _, k := range keys {
			repo := types.RepoOfFileKey(k)
			c := perRepo[repo]
			if c == nil {
				c = &counts{}
				perRepo[repo] = c
			}
			c.total++
			if isVerified {
				c.verified++
			}
		}
	}
	bump(verified, true)
	bump(stale, false)
	bump(unparsed, false)
	for repo, c := range perRepo {
		env.RepoCoverage[repo] = types.Round4(float64(c.verified) / float64(c.total))
	}
	return env
}

// QueryReferences answers "where is this symbol referenced".
func (e *Engine) QueryReferences(ctx context.Context, scope types.QueryScope, symbol string) (*types.ReferencesResult, error) {
	p, err := e.runPipeline(ctx, scope, symbol)
	if err != nil {
		return nil, err
	}
	refs, err := e.LoadReferences(ctx, p.ws, p.chain, symbol, p.filter)
	if err != nil {
		return nil, err
	}
	def, err := e.LoadDefinition(ctx, p.ws, p.chain, symbol, p.filter)
	if err != nil {
		return nil, err
	}
	return &types.ReferencesResult{
		Symbol:     symbol,
		Definition: def,
		References: refs,
		Confidence: p.envelope,
		ContextID:  p.contextID,
	}, nil
}

// QueryDefinition answers "where is this symbol defined".
func (e *Engine) QueryDefinition(ctx context.Context, scope types.QueryScope, symbol string) (*types.DefinitionResult, error) {
	p, err := e.runPipeline(ctx, scope, symbol)
	if err != nil {
		return nil, err
	}
	defs, err := e.LoadDefinitions(ctx, p.ws, p.chain, symbol, p.filter)
	if err != nil {
		return nil, err
	}
	return &types.DefinitionResult{
		Symbol:      symbol,
		Definitions: defs,
		Confidence:  p.envelope,
		ContextID:   p.contextID,
	}, nil
}

// QueryCallGraph answers "what calls X" / "what does X call".
func (e *Engine) QueryCallGraph(ctx context.Context, scope types.QueryScope, symbol string, direction types.CallDirection) (*types.CallGraphResult, error) {
	p, err := e.runPipeline(ctx, scope, symbol)
	if err != nil {
		return nil, err
	}
	edges, err := e.LoadCallEdges(ctx, p.ws, p.chain, symbol, direction, p.filter)
	if err != nil {
		return nil, err
	}
	if direction == "" {
		direction = types.CallOutgoing
	}
	return &types.CallGraphResult{
		Symbol:     symbol,
		Direction:  direction,
		Edges:      edges,
		Confidence: p.envelope,
		ContextID:  p.contextID,
	}, nil
}

// QueryFileSymbols lists the symbols one file defines. The file itself is
// the only candidate; recall is skipped.
func (e *Engine) QueryFileSymbols(ctx context.Context, scope types.QueryScope, fileKey string) (*types.FileSymbolsResult, error) {
	ws, err := e.ResolveWorkspace(ctx, scope.WorkspaceID, scope.ManifestPath)
	if err != nil {
		return nil, err
	}
	workspaceID := ws.Manifest.WorkspaceID

	contextID, baselineID, overlayMode, err := e.ResolveContexts(ctx, workspaceID, scope)
	if err != nil {
		return nil, err
	}
	if err := e.store.TouchContext(ctx, contextID); err != nil {
		logging.EngineWarn("touch %s: %v", contextID, err)
	}

	chain := []string{baselineID}
	if contextID != baselineID {
		chain = []string{contextID, baselineID}
		masked, merr := e.store.FileMaskedInContext(ctx, contextID, fileKey)
		if merr != nil {
			return nil, merr
		}
		if masked {
			// Overlay masks the file; nothing to classify, parse, or read.
			return &types.FileSymbolsResult{
				FileKey:    fileKey,
				Confidence: buildEnvelope(nil, nil, nil, nil, overlayMode),
				ContextID:  contextID,
			}, nil
		}
	}

	repoID := types.RepoOfFileKey(fileKey)
	compileDBs := map[string]*compiledb.Index{repoID: e.CompileDBFor(ws.Manifest, repoID)}
	cls := e.Classify(ctx, chain, contextID, []string{fileKey}, ws, compileDBs)
	parsed := e.Parse(ctx, ws, cls.Tasks)

	verified := append(append([]string{}, cls.Fresh...), parsed.Parsed...)
	warnings := mergeWarnings(cls.Warnings, parsed.Warnings)

	rows, err := e.LoadFileSymbols(ctx, ws, chain, fileKey, store.ChainFilter{})
	if err != nil {
		return nil, err
	}
	return &types.FileSymbolsResult{
		FileKey:    fileKey,
		Symbols:    rows,
		Confidence: buildEnvelope(verified, parsed.Failed, cls.Unparsed, warnings, overlayMode),
		ContextID:  contextID,
	}, nil
}

// InvalidateCache clears a whole context or an explicit file-key list,
// counting only rows actually removed.
func (e *Engine) InvalidateCache(ctx context.Context, scope types.QueryScope, fileKeys []string) (*types.InvalidateResult, error) {
	ws, err := e.ResolveWorkspace(ctx, scope.WorkspaceID, scope.ManifestPath)
	if err != nil {
		return nil, err
	}
	contextID, _, _, err := e.ResolveContexts(ctx, ws.Manifest.WorkspaceID, scope)
	if err != nil {
		return nil, err
	}

	if len(fileKeys) == 0 {
		removed, err := e.store.ClearContext(ctx, contextID)
		if err != nil {
			return nil, err
		}
		return &types.InvalidateResult{ContextID: contextID, RemovedFiles: removed}, nil
	}

	removed := 0
	for _, key := range fileKeys {
		ok, err := e.store.DeleteTrackedFile(ctx, contextID, key)
		if err != nil {
			return nil, err
		}
		if ok {
			removed++
		}
	}
	return &types.InvalidateResult{ContextID: contextID, RemovedFiles: removed}, nil
}
