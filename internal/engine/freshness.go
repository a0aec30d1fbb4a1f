package engine

import (
	"context"
	"sort"

	"cxxtract/internal/compiledb"
	"cxxtract/internal/extractor"
	"cxxtract/internal/hashing"
	"cxxtract/internal/logging"
	"cxxtract/internal/types"
)

// Classify sorts candidates into fresh / stale / unparsed against the
// context chain and emits parse tasks for everything stale. writeContextID
// is where re-parsed facts land (chain[0]).
func (e *Engine) Classify(ctx context.Context, chain []string, writeContextID string, candidates []string, ws *Workspace, compileDBs map[string]*compiledb.Index) types.Classification {
	timer := logging.StartTimer(logging.CategoryEngine, "Classify")
	defer timer.Stop()

	cls := types.Classification{TaskMeta: make(map[string]types.TaskMeta)}
	warn := make(map[string]bool)

	for _, fileKey := range candidates {
		absPath, err := ws.Resolver.FileKeyToAbsPath(fileKey)
		if err != nil {
			cls.Unparsed = append(cls.Unparsed, fileKey)
			warn[fileKey+":invalid_file_key"] = true
			continue
		}
		repoID, relPath, _ := types.SplitFileKey(fileKey)

		idx := compileDBs[repoID]
		if idx == nil {
			cls.Unparsed = append(cls.Unparsed, fileKey)
			warn[fileKey+":missing_compile_db"] = true
			continue
		}
		entry, match := idx.Lookup(absPath)
		if match == types.MatchMissing {
			cls.Unparsed = append(cls.Unparsed, fileKey)
			warn[fileKey+":missing_compile_entry"] = true
			continue
		}
		if match == types.MatchFallback {
			warn[fileKey+":fallback_compile_entry"] = true
		}
		cls.TaskMeta[fileKey] = types.TaskMeta{
			RepoID:    repoID,
			MatchType: match,
			FlagsHash: entry.FlagsHash,
		}

		task := types.ParseTask{
			ContextID: writeContextID,
			FileKey:   fileKey,
			RepoID:    repoID,
			RelPath:   relPath,
			AbsPath:   absPath,
			Flags:     entry.Flags,
			Directory: entry.Directory,
			MatchType: match,
			FlagsHash: entry.FlagsHash,
		}

		cached, tracked, err := e.store.GetCompositeHash(ctx, chain, fileKey)
		if err != nil || cached == "" {
			cls.Stale = append(cls.Stale, fileKey)
			cls.Tasks = append(cls.Tasks, task)
			continue
		}
		// Recompute from the current content and flags; the cached
		// includes hash stands in until a re-parse refreshes it.
		current := hashing.CompositeHash(hashing.HashFile(absPath), tracked.IncludesHash, entry.FlagsHash)
		if current == cached {
			cls.Fresh = append(cls.Fresh, fileKey)
		} else {
			cls.Stale = append(cls.Stale, fileKey)
			cls.Tasks = append(cls.Tasks, task)
		}
	}

	for w := range warn {
		cls.Warnings = append(cls.Warnings, w)
	}
	sort.Strings(cls.Warnings)
	return cls
}

// Parse fans the tasks out through the parser pool, funnels every
// successful payload into the single-writer, and flushes so the caller's
// subsequent reads observe the new facts.
func (e *Engine) Parse(ctx context.Context, ws *Workspace, tasks []types.ParseTask) types.ParseOutcome {
	timer := logging.StartTimer(logging.CategoryEngine, "Parse")
	defer timer.Stop()

	var out types.ParseOutcome
	if len(tasks) == 0 {
		return out
	}

	pool := extractor.NewPool(e.cfg.ExtractorBinary, e.cfg.MaxParseWorkers, e.cfg.ParseTimeout(), ws.Resolver, e.store)
	results := pool.ParseFiles(ctx, tasks)

	warn := make(map[string]bool)
	for _, task := range tasks {
		payload, ok := results[task.FileKey]
		if !ok || payload == nil {
			out.Failed = append(out.Failed, task.FileKey)
			warn[task.FileKey+":parse_failed"] = true
			continue
		}
		if err := e.writer.Enqueue(ctx, payload); err != nil {
			out.Failed = append(out.Failed, task.FileKey)
			warn[task.FileKey+":persist_failed"] = true
			logging.EngineWarn("enqueue failed for %s: %v", task.FileKey, err)
			continue
		}
		out.Parsed = append(out.Parsed, task.FileKey)
		out.PersistedFactRows += payload.FactRowCount()
		for _, w := range payload.Warnings {
			warn[w] = true
		}
	}
	if err := e.writer.Flush(ctx); err != nil {
		logging.EngineWarn("writer flush failed: %v", err)
	}

	for w := range warn {
		out.Warnings = append(out.Warnings, w)
	}
	sort.Strings(out.Warnings)
	return out
}
