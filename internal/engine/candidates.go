package engine

import (
	"context"
	"fmt"
	"sort"

	"cxxtract/internal/logging"
	"cxxtract/internal/recall"
	"cxxtract/internal/types"
)

// Candidate sources, recorded per file-key in the provenance map.
const (
	sourceBaselineFTS  = "baseline_fts"
	sourceLiveRg       = "rg"
	sourceOverlayFTS   = "overlay_fts"
	sourceOverlayState = "overlay_state"
)

// candidateSet accumulates candidates in stable insertion order with their
// provenance.
type candidateSet struct {
	order []string
	prov  map[string][]string
}

func newCandidateSet() *candidateSet {
	return &candidateSet{prov: make(map[string][]string)}
}

func (s *candidateSet) add(fileKey, source string) {
	if _, ok := s.prov[fileKey]; !ok {
		s.order = append(s.order, fileKey)
	}
	s.prov[fileKey] = append(s.prov[fileKey], source)
}

func (s *candidateSet) has(fileKey string) bool {
	_, ok := s.prov[fileKey]
	return ok
}

func (s *candidateSet) remove(fileKey string) {
	if _, ok := s.prov[fileKey]; !ok {
		return
	}
	delete(s.prov, fileKey)
	for i, k := range s.order {
		if k == fileKey {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// ResolveCandidates runs the four-stage candidate funnel for a symbol:
// baseline FTS, live rg across candidate repos, overlay FTS, overlay file
// states, then the stable-order cap.
func (e *Engine) ResolveCandidates(ctx context.Context, ws *Workspace, symbol, baselineID, overlayID string, repos []string, maxFiles int) types.CandidateResolution {
	timer := logging.StartTimer(logging.CategoryEngine, "ResolveCandidates")
	defer timer.Stop()

	if maxFiles <= 0 {
		maxFiles = e.cfg.MaxRecallFiles
	}

	set := newCandidateSet()
	deleted := make(map[string]bool)
	var warnings []string

	// 1. Baseline FTS recall.
	for _, key := range e.store.SearchRecallCandidates(ctx, baselineID, symbol, repos, maxFiles) {
		set.add(key, sourceBaselineFTS)
	}

	// 2. Live rg across the candidate repos, budgeted per repo.
	pattern := recall.BuildSymbolRegex(symbol)
	if pattern != "" && len(repos) > 0 {
		perRepo := maxFiles / len(repos)
		if perRepo < 20 {
			perRepo = 20
		}
		for _, repoID := range repos {
			repo := ws.Manifest.Repo(repoID)
			if repo == nil {
				continue
			}
			hits, err := e.recall.Search(ctx, pattern, ws.Manifest.RepoRoot(repo), 5, 0)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("recall[%s]: %v", repoID, err))
				continue
			}
			added := 0
			for _, hit := range hits {
				res := ws.Resolver.ResolveFileKey(hit.Path)
				if res == nil || set.has(res.FileKey) {
					continue
				}
				set.add(res.FileKey, sourceLiveRg)
				if added++; added >= perRepo {
					break
				}
			}
		}
	}

	// 3. Overlay FTS, overriding provenance for keys it re-confirms.
	if overlayID != "" && overlayID != baselineID {
		for _, key := range e.store.SearchRecallCandidates(ctx, overlayID, symbol, repos, maxFiles) {
			set.add(key, sourceOverlayFTS)
		}

		// 4. Overlay file states: the overlay's view of adds, edits,
		// renames, and deletes wins over anything recall produced.
		states, err := e.store.GetContextFileStates(ctx, overlayID)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("recall[%s]: file states unavailable: %v", overlayID, err))
		}
		for _, st := range states {
			switch st.State {
			case types.StateDeleted:
				set.remove(st.FileKey)
				deleted[st.FileKey] = true
			case types.StateAdded, types.StateModified:
				if !set.has(st.FileKey) {
					set.add(st.FileKey, sourceOverlayState)
				}
			case types.StateRenamed:
				if st.ReplacedFromFileKey != "" {
					set.remove(st.ReplacedFromFileKey)
					deleted[st.ReplacedFromFileKey] = true
				}
				if !set.has(st.FileKey) {
					set.add(st.FileKey, sourceOverlayState)
				}
			}
		}
	}

	// 5. Cap, preserving insertion order.
	res := types.CandidateResolution{
		Candidates: set.order,
		Deleted:    deleted,
		Provenance: set.prov,
		Warnings:   warnings,
	}
	for key := range deleted {
		res.DeletedKeys = append(res.DeletedKeys, key)
	}
	sort.Strings(res.DeletedKeys)
	if len(res.Candidates) > maxFiles {
		res.Candidates = res.Candidates[:maxFiles]
		res.Truncated = true
		res.TruncationReasons = append(res.TruncationReasons, "max_files")
	}
	return res
}
