package engine

import (
	"context"

	"cxxtract/internal/store"
	"cxxtract/internal/types"
)

// Query reader: thin typed wrappers over the store's chain walkers that
// fill in repo/rel/abs path fields from the resolver. The store guarantees
// overlay-first dedup; nothing here reorders rows.

func (e *Engine) annotateSymbols(ws *Workspace, rows []types.SymbolRow) []types.SymbolRow {
	for i := range rows {
		repoID, relPath, ok := types.SplitFileKey(rows[i].FileKey)
		if !ok {
			continue
		}
		rows[i].RepoID = repoID
		rows[i].RelPath = relPath
		if abs, err := ws.Resolver.FileKeyToAbsPath(rows[i].FileKey); err == nil {
			rows[i].AbsPath = abs
		}
	}
	return rows
}

func (e *Engine) annotateReferences(ws *Workspace, rows []types.ReferenceRow) []types.ReferenceRow {
	for i := range rows {
		repoID, relPath, ok := types.SplitFileKey(rows[i].FileKey)
		if !ok {
			continue
		}
		rows[i].RepoID = repoID
		rows[i].RelPath = relPath
		if abs, err := ws.Resolver.FileKeyToAbsPath(rows[i].FileKey); err == nil {
			rows[i].AbsPath = abs
		}
	}
	return rows
}

func (e *Engine) annotateCallEdges(ws *Workspace, rows []types.CallEdgeRow) []types.CallEdgeRow {
	for i := range rows {
		repoID, relPath, ok := types.SplitFileKey(rows[i].FileKey)
		if !ok {
			continue
		}
		rows[i].RepoID = repoID
		rows[i].RelPath = relPath
		if abs, err := ws.Resolver.FileKeyToAbsPath(rows[i].FileKey); err == nil {
			rows[i].AbsPath = abs
		}
	}
	return rows
}

// LoadDefinitions returns symbol rows matching the symbol, preferring exact
// name or qualified-name matches over substring ones.
func (e *Engine) LoadDefinitions(ctx context.Context, ws *Workspace, chain []string, symbol string, filter store.ChainFilter) ([]types.SymbolRow, error) {
	rows, err := e.store.SearchSymbolsByName(ctx, chain, symbol, filter)
	if err != nil {
		return nil, err
	}
	var exact []types.SymbolRow
	for _, r := range rows {
		if r.QualifiedName == symbol || r.Name == symbol {
			exact = append(exact, r)
		}
	}
	if len(exact) > 0 {
		rows = exact
	}
	return e.annotateSymbols(ws, rows), nil
}

// LoadDefinition is LoadDefinitions collapsed to the first row, nil when
// nothing matches.
func (e *Engine) LoadDefinition(ctx context.Context, ws *Workspace, chain []string, symbol string, filter store.ChainFilter) (*types.SymbolRow, error) {
	rows, err := e.LoadDefinitions(ctx, ws, chain, symbol, filter)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// LoadReferences returns the reference rows for a symbol across the chain.
func (e *Engine) LoadReferences(ctx context.Context, ws *Workspace, chain []string, symbol string, filter store.ChainFilter) ([]types.ReferenceRow, error) {
	rows, err := e.store.SearchReferencesBySymbol(ctx, chain, symbol, filter)
	if err != nil {
		return nil, err
	}
	return e.annotateReferences(ws, rows), nil
}

// LoadCallEdges walks the call graph in the requested direction. "both"
// merges outgoing and incoming with edge-level dedup.
func (e *Engine) LoadCallEdges(ctx context.Context, ws *Workspace, chain []string, symbol string, direction types.CallDirection, filter store.ChainFilter) ([]types.CallEdgeRow, error) {
	var rows []types.CallEdgeRow
	if direction == types.CallOutgoing || direction == types.CallBoth || direction == "" {
		out, err := e.store.CallEdgesForCaller(ctx, chain, symbol, filter)
		if err != nil {
			return nil, err
		}
		rows = append(rows, out...)
	}
	if direction == types.CallIncoming || direction == types.CallBoth {
		in, err := e.store.CallEdgesForCallee(ctx, chain, symbol, filter)
		if err != nil {
			return nil, err
		}
		rows = append(rows, in...)
	}
	if direction == types.CallBoth {
		seen := make(map[[4]interface{}]bool, len(rows))
		deduped := rows[:0]
		for _, r := range rows {
			key := [4]interface{}{r.FileKey, r.Caller, r.Callee, r.Line}
			if seen[key] {
				continue
			}
			seen[key] = true
			deduped = append(deduped, r)
		}
		rows = deduped
	}
	return e.annotateCallEdges(ws, rows), nil
}

// LoadFileSymbols lists the symbols one file defines across the chain.
func (e *Engine) LoadFileSymbols(ctx context.Context, ws *Workspace, chain []string, fileKey string, filter store.ChainFilter) ([]types.SymbolRow, error) {
	rows, err := e.store.SymbolsByFile(ctx, chain, fileKey, filter)
	if err != nil {
		return nil, err
	}
	return e.annotateSymbols(ws, rows), nil
}
