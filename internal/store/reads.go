package store

import (
	"context"
	"fmt"
	"strings"

	"cxxtract/internal/types"
)

// Chain-walking reads. Each query runs the same statement once per chain
// element (overlay first, then baseline) and dedupes in memory by the
// entity's dedup key: a later context never displaces a row an earlier
// context already emitted. The dedup keys differ per entity, which is why
// this is not a single SQL UNION.

// ChainFilter narrows a chain walk to candidate file-keys and masks
// overlay-deleted ones. Nil maps mean "no narrowing" / "nothing deleted".
type ChainFilter struct {
	Candidates map[string]bool
	Excluded   map[string]bool
}

func (f ChainFilter) admits(fileKey string) bool {
	if f.Excluded != nil && f.Excluded[fileKey] {
		return false
	}
	if f.Candidates != nil && len(f.Candidates) > 0 && !f.Candidates[fileKey] {
		return false
	}
	return true
}

// SearchSymbolsByName finds symbols whose name or qualified name contains
// the needle. Dedup key: (fileKey, qualifiedName, line, col).
func (s *Store) SearchSymbolsByName(ctx context.Context, chain []string, name string, filter ChainFilter) ([]types.SymbolRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := "%" + name + "%"
	seen := make(map[string]bool)
	var out []types.SymbolRow

	for _, contextID := range chain {
		rows, err := s.db.QueryContext(ctx, `
			SELECT file_key, name, qualified_name, kind, line, col, extent_end_line
			FROM symbols
			WHERE context_id = ? AND (name LIKE ? OR qualified_name LIKE ?)
			ORDER BY file_key, line, col`,
			contextID, pattern, pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to search symbols in %s: %w", contextID, err)
		}
		for rows.Next() {
			var r types.SymbolRow
			if err := rows.Scan(&r.FileKey, &r.Name, &r.QualifiedName, &r.Kind,
				&r.Line, &r.Col, &r.ExtentEndLine); err != nil {
				rows.Close()
				return nil, err
			}
			if !filter.admits(r.FileKey) {
				continue
			}
			key := dedupKey(r.FileKey, r.QualifiedName, r.Line, r.Col)
			if seen[key] {
				continue
			}
			seen[key] = true
			r.ContextID = contextID
			r.RepoID = types.RepoOfFileKey(r.FileKey)
			out = append(out, r)
		}
		if err := closeRows(rows); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SearchReferencesBySymbol finds references to a symbol. The needle
// matches as a suffix-tolerant LIKE so "foo" finds "ns::foo". Dedup key:
// (fileKey, symbol, line, col, refKind).
func (s *Store) SearchReferencesBySymbol(ctx context.Context, chain []string, symbol string, filter ChainFilter) ([]types.ReferenceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := "%" + symbol + "%"
	seen := make(map[string]bool)
	var out []types.ReferenceRow

	for _, contextID := range chain {
		rows, err := s.db.QueryContext(ctx, `
			SELECT file_key, symbol, line, col, ref_kind
			FROM references_
			WHERE context_id = ? AND symbol LIKE ?
			ORDER BY file_key, line, col`,
			contextID, pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to search references in %s: %w", contextID, err)
		}
		for rows.Next() {
			var r types.ReferenceRow
			if err := rows.Scan(&r.FileKey, &r.Symbol, &r.Line, &r.Col, &r.RefKind); err != nil {
				rows.Close()
				return nil, err
			}
			if !filter.admits(r.FileKey) {
				continue
			}
			key := dedupKey(r.FileKey, r.Symbol, r.Line, r.Col, r.RefKind)
			if seen[key] {
				continue
			}
			seen[key] = true
			r.ContextID = contextID
			r.RepoID = types.RepoOfFileKey(r.FileKey)
			out = append(out, r)
		}
		if err := closeRows(rows); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CallEdgesForCaller finds edges out of a caller. Dedup key:
// (fileKey, caller, callee, line).
func (s *Store) CallEdgesForCaller(ctx context.Context, chain []string, caller string, filter ChainFilter) ([]types.CallEdgeRow, error) {
	return s.callEdges(ctx, chain, "caller", caller, filter)
}

// CallEdgesForCallee finds edges into a callee.
func (s *Store) CallEdgesForCallee(ctx context.Context, chain []string, callee string, filter ChainFilter) ([]types.CallEdgeRow, error) {
	return s.callEdges(ctx, chain, "callee", callee, filter)
}

func (s *Store) callEdges(ctx context.Context, chain []string, column, symbol string, filter ChainFilter) ([]types.CallEdgeRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := "%" + symbol + "%"
	seen := make(map[string]bool)
	var out []types.CallEdgeRow

	for _, contextID := range chain {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT file_key, caller, callee, line
			FROM call_edges
			WHERE context_id = ? AND %s LIKE ?
			ORDER BY file_key, line`, column),
			contextID, pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to search call edges in %s: %w", contextID, err)
		}
		for rows.Next() {
			var r types.CallEdgeRow
			if err := rows.Scan(&r.FileKey, &r.Caller, &r.Callee, &r.Line); err != nil {
				rows.Close()
				return nil, err
			}
			if !filter.admits(r.FileKey) {
				continue
			}
			key := dedupKey(r.FileKey, r.Caller, r.Callee, r.Line)
			if seen[key] {
				continue
			}
			seen[key] = true
			r.ContextID = contextID
			r.RepoID = types.RepoOfFileKey(r.FileKey)
			out = append(out, r)
		}
		if err := closeRows(rows); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SymbolsByFile lists symbols of one file. Dedup key:
// (qualifiedName, line, col, kind) — the file is fixed.
func (s *Store) SymbolsByFile(ctx context.Context, chain []string, fileKey string, filter ChainFilter) ([]types.SymbolRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !filter.admits(fileKey) {
		return nil, nil
	}

	seen := make(map[string]bool)
	var out []types.SymbolRow
	for _, contextID := range chain {
		rows, err := s.db.QueryContext(ctx, `
			SELECT file_key, name, qualified_name, kind, line, col, extent_end_line
			FROM symbols
			WHERE context_id = ? AND file_key = ?
			ORDER BY line, col`,
			contextID, fileKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load file symbols in %s: %w", contextID, err)
		}
		for rows.Next() {
			var r types.SymbolRow
			if err := rows.Scan(&r.FileKey, &r.Name, &r.QualifiedName, &r.Kind,
				&r.Line, &r.Col, &r.ExtentEndLine); err != nil {
				rows.Close()
				return nil, err
			}
			key := dedupKey(r.QualifiedName, r.Line, r.Col, r.Kind)
			if seen[key] {
				continue
			}
			seen[key] = true
			r.ContextID = contextID
			r.RepoID = types.RepoOfFileKey(r.FileKey)
			out = append(out, r)
		}
		if err := closeRows(rows); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// dedupKey joins parts with a separator no symbol name contains.
func dedupKey(parts ...interface{}) string {
	var sb strings.Builder
	for i, p := range parts {
		if i > 0 {
			sb.WriteByte('\x1f')
		}
		fmt.Fprint(&sb, p)
	}
	return sb.String()
}

type closableRows interface {
	Close() error
	Err() error
}

func closeRows(rows closableRows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}
