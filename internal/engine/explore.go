package engine

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cxxtract/internal/logging"
	"cxxtract/internal/types"
)

// Exploration operations: raw lexical search and bounded file reads for
// callers that want to look around the workspace without a fact query.
// Every operation runs under a hard cost cap.

const (
	hardCapRgHits    = 5000
	hardCapFetch     = 20000
	hardCapReadBytes = 512 * 1024
)

// applyCap clamps a requested budget to [1, hardCap], recording a
// "{name}_capped" reason when the request exceeded the cap.
func applyCap(requested, hardCap int, name string, reasons *[]string) int {
	if requested < 1 {
		requested = 1
	}
	if hardCap < 1 {
		hardCap = 1
	}
	if requested > hardCap {
		*reasons = append(*reasons, name+"_capped")
		return hardCap
	}
	return requested
}

// RgSearchResult is the projection of one raw recall sweep.
type RgSearchResult struct {
	Pattern string             `json:"pattern"`
	Hits    []RgHit            `json:"hits"`
	Cost    types.CostEnvelope `json:"cost"`
}

// RgHit is one match, resolved to a file-key when the path falls inside the
// workspace.
type RgHit struct {
	FileKey    string `json:"file_key,omitempty"`
	Path       string `json:"path"`
	LineNumber int    `json:"line_number"`
	LineText   string `json:"line_text"`
	RepoID     string `json:"repo_id"`
}

// RgSearch runs a raw regex across the candidate repos.
func (e *Engine) RgSearch(ctx context.Context, scope types.QueryScope, pattern string, maxHits int) (*RgSearchResult, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "RgSearch")
	defer timer.Stop()

	if strings.TrimSpace(pattern) == "" {
		return nil, types.Validationf(types.KindInvalidArgument, "pattern is empty")
	}
	ws, err := e.ResolveWorkspace(ctx, scope.WorkspaceID, scope.ManifestPath)
	if err != nil {
		return nil, err
	}

	var reasons []string
	if maxHits == 0 {
		maxHits = hardCapRgHits
	}
	budget := applyCap(maxHits, hardCapRgHits, "rg_hits", &reasons)

	res := &RgSearchResult{
		Pattern: pattern,
		Cost:    types.CostEnvelope{Requested: maxHits, Applied: budget},
	}
	repos := e.CandidateRepos(ws.Manifest, scope.EntryRepos, maxHopsOrDefault(scope.MaxHops))
	for _, repoID := range repos {
		if len(res.Hits) >= budget {
			res.Cost.Truncated = true
			reasons = append(reasons, "rg_hits_capped")
			break
		}
		repo := ws.Manifest.Repo(repoID)
		hits, err := e.recall.Search(ctx, pattern, ws.Manifest.RepoRoot(repo), 5, budget-len(res.Hits))
		if err != nil {
			logging.EngineWarn("rg search failed in %s: %v", repoID, err)
			continue
		}
		for _, h := range hits {
			hit := RgHit{Path: h.Path, LineNumber: h.LineNumber, LineText: h.LineText, RepoID: repoID}
			if r := ws.Resolver.ResolveFileKey(h.Path); r != nil {
				hit.FileKey = r.FileKey
			}
			res.Hits = append(res.Hits, hit)
		}
	}
	res.Cost.Consumed = len(res.Hits)
	res.Cost.TruncationReasons = mergeWarnings(reasons)
	res.Cost.Truncated = res.Cost.Truncated || len(res.Cost.TruncationReasons) > 0
	return res, nil
}

// ReadFileResult is a bounded slice of one workspace file.
type ReadFileResult struct {
	FileKey   string             `json:"file_key"`
	AbsPath   string             `json:"abs_path"`
	StartLine int                `json:"start_line"`
	EndLine   int                `json:"end_line"`
	Content   string             `json:"content"`
	Cost      types.CostEnvelope `json:"cost"`
}

// ReadFile reads a 1-based line range of a workspace file. The target may
// be a file-key or an absolute path; paths outside every repo root are
// refused.
func (e *Engine) ReadFile(ctx context.Context, scope types.QueryScope, target string, startLine, endLine, maxBytes int) (*ReadFileResult, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "ReadFile")
	defer timer.Stop()

	ws, err := e.ResolveWorkspace(ctx, scope.WorkspaceID, scope.ManifestPath)
	if err != nil {
		return nil, err
	}

	var absPath, fileKey string
	if abs, kerr := ws.Resolver.FileKeyToAbsPath(target); kerr == nil {
		absPath, fileKey = abs, target
	} else if r := ws.Resolver.ResolveFileKey(target); r != nil {
		absPath, fileKey = r.AbsPath, r.FileKey
	} else {
		return nil, types.Validationf(types.KindFileOutsideWorkspace,
			"path %q is outside every workspace repo", target)
	}

	var reasons []string
	if maxBytes == 0 {
		maxBytes = hardCapReadBytes
	}
	budget := applyCap(maxBytes, hardCapReadBytes, "read_bytes", &reasons)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fileKey, err)
	}

	lines := strings.Split(string(data), "\n")
	if startLine < 1 {
		startLine = 1
	}
	if endLine < startLine || endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > len(lines) {
		startLine = len(lines)
	}
	content := strings.Join(lines[startLine-1:endLine], "\n")
	requested := len(content)
	if len(content) > budget {
		content = content[:budget]
		reasons = append(reasons, "read_bytes_capped")
	}

	return &ReadFileResult{
		FileKey:   fileKey,
		AbsPath:   absPath,
		StartLine: startLine,
		EndLine:   endLine,
		Content:   content,
		Cost: types.CostEnvelope{
			Requested:         requested,
			Applied:           budget,
			Consumed:          len(content),
			Truncated:         len(reasons) > 0,
			TruncationReasons: mergeWarnings(reasons),
		},
	}, nil
}

// ListCandidates exposes the candidate funnel with provenance, without
// running classification or parsing.
func (e *Engine) ListCandidates(ctx context.Context, scope types.QueryScope, symbol string) (*types.CandidateResolution, error) {
	ws, err := e.ResolveWorkspace(ctx, scope.WorkspaceID, scope.ManifestPath)
	if err != nil {
		return nil, err
	}
	contextID, baselineID, _, err := e.ResolveContexts(ctx, ws.Manifest.WorkspaceID, scope)
	if err != nil {
		return nil, err
	}
	overlayID := ""
	if contextID != baselineID {
		overlayID = contextID
	}
	repos := e.CandidateRepos(ws.Manifest, scope.EntryRepos, maxHopsOrDefault(scope.MaxHops))

	var reasons []string
	maxFiles := scope.MaxFiles
	if maxFiles == 0 {
		maxFiles = e.cfg.MaxRecallFiles
	}
	maxFiles = applyCap(maxFiles, hardCapFetch, "fetch", &reasons)

	res := e.ResolveCandidates(ctx, ws, symbol, baselineID, overlayID, repos, maxFiles)
	res.TruncationReasons = mergeWarnings(append(res.TruncationReasons, reasons...))
	res.Truncated = res.Truncated || len(reasons) > 0
	return &res, nil
}
