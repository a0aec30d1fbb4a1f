// Package extractor owns the parser pool: bounded-concurrency invocation
// of the external C++ AST extractor, JSON decoding, composite-hash
// computation, and the per-attempt audit trail. A task that fails for any
// reason yields a nil payload — a reported failure, never a panic or an
// error that aborts sibling tasks.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"cxxtract/internal/hashing"
	"cxxtract/internal/logging"
	"cxxtract/internal/types"
	"cxxtract/internal/workspace"
)

const maxStderrBytes = 1000

// auditor is the slice of the storage engine the pool needs for the
// parse-run audit trail.
type auditor interface {
	InsertParseRun(ctx context.Context, contextID, fileKey, absPath string) (int64, error)
	FinishParseRun(ctx context.Context, runID int64, success bool, errMsg string) error
}

// Pool runs extractor subprocesses under a counting semaphore.
type Pool struct {
	Binary   string
	Timeout  time.Duration
	Resolver *workspace.Resolver

	sem   *semaphore.Weighted
	audit auditor

	// runner is swappable for tests; defaults to spawning the binary.
	runner func(ctx context.Context, task types.ParseTask) (stdout, stderr []byte, err error)
}

// NewPool builds a pool with maxWorkers concurrent subprocesses.
func NewPool(binary string, maxWorkers int, timeout time.Duration, resolver *workspace.Resolver, audit auditor) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	p := &Pool{
		Binary:   binary,
		Timeout:  timeout,
		Resolver: resolver,
		sem:      semaphore.NewWeighted(int64(maxWorkers)),
		audit:    audit,
	}
	p.runner = p.spawn
	return p
}

// ParseFiles fans the tasks out across the worker semaphore and collects
// one entry per task: the payload on success, nil on reported failure.
func (p *Pool) ParseFiles(ctx context.Context, tasks []types.ParseTask) map[string]*types.ParsePayload {
	timer := logging.StartTimer(logging.CategoryParser, "ParseFiles")
	defer timer.Stop()

	results := make(map[string]*types.ParsePayload, len(tasks))
	var mu sync.Mutex

	g, groupCtx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := p.sem.Acquire(groupCtx, 1); err != nil {
				mu.Lock()
				results[task.FileKey] = nil
				mu.Unlock()
				return nil
			}
			defer p.sem.Release(1)

			payload := p.parseOne(groupCtx, task)
			mu.Lock()
			results[task.FileKey] = payload
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	logging.Parser("parsed %d/%d tasks", countNonNil(results), len(tasks))
	return results
}

// parseOne runs one extractor subprocess end to end: audit start, spawn,
// decode, resolve includes, hash, audit finish.
func (p *Pool) parseOne(ctx context.Context, task types.ParseTask) *types.ParsePayload {
	runID, err := p.audit.InsertParseRun(ctx, task.ContextID, task.FileKey, task.AbsPath)
	if err != nil {
		logging.ParserWarn("audit insert failed for %s: %v", task.FileKey, err)
	}
	finish := func(success bool, errMsg string) {
		if ferr := p.audit.FinishParseRun(ctx, runID, success, errMsg); ferr != nil {
			logging.ParserWarn("audit finish failed for %s: %v", task.FileKey, ferr)
		}
	}

	stdout, stderr, err := p.runner(ctx, task)
	if err != nil {
		msg := err.Error()
		if len(stderr) > 0 {
			msg = msg + ": " + string(truncateBytes(stderr, maxStderrBytes))
		}
		logging.ParserWarn("extractor failed for %s: %s", task.FileKey, msg)
		finish(false, msg)
		return nil
	}

	var output types.ExtractorOutput
	if err := json.Unmarshal(stdout, &output); err != nil {
		finish(false, fmt.Sprintf("invalid extractor JSON: %v", err))
		return nil
	}
	if !output.Success {
		// Partial arrays under success=false are discarded wholesale.
		finish(false, "extractor reported success=false: "+firstDiagnostic(output))
		return nil
	}

	payload := p.buildPayload(task, output)
	finish(true, "")
	return payload
}

// buildPayload resolves include deps and computes the composite hash.
func (p *Pool) buildPayload(task types.ParseTask, output types.ExtractorOutput) *types.ParsePayload {
	var (
		resolved       []types.ResolvedIncludeDep
		includeHashes  []string
		warnings       []string
		haveUnresolved bool
	)
	for _, dep := range output.IncludeDeps {
		r := p.Resolver.ResolveIncludeDep(dep.Path, dep.Depth)
		resolved = append(resolved, r)
		if r.Resolved {
			includeHashes = append(includeHashes, hashing.HashFile(r.AbsPath))
		} else {
			// Out-of-workspace includes still participate in the
			// freshness hash via their path identity.
			includeHashes = append(includeHashes, hashing.ContentHash([]byte(r.RawPath)))
			haveUnresolved = true
		}
	}
	if haveUnresolved {
		warnings = append(warnings, task.FileKey+":external_unresolved_include")
	}

	contentHash := hashing.HashFile(task.AbsPath)
	flagsHash := hashing.FlagsHash(task.Flags)
	includesHash := hashing.IncludesHash(includeHashes)

	return &types.ParsePayload{
		ContextID:           task.ContextID,
		FileKey:             task.FileKey,
		RepoID:              task.RepoID,
		RelPath:             task.RelPath,
		AbsPath:             task.AbsPath,
		ContentHash:         contentHash,
		FlagsHash:           flagsHash,
		IncludesHash:        includesHash,
		CompositeHash:       hashing.CompositeHash(contentHash, includesHash, flagsHash),
		Output:              output,
		ResolvedIncludeDeps: resolved,
		Warnings:            warnings,
	}
}

// spawn executes the extractor binary for one task. The process is killed
// when the per-task timeout expires; a timeout is an error like any other.
func (p *Pool) spawn(ctx context.Context, task types.ParseTask) ([]byte, []byte, error) {
	runCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	args := []string{"--action", "extract-all", "--file", task.AbsPath, "--"}
	args = append(args, task.Flags...)
	// Remapped include roots become extra -I flags so headers referenced
	// through out-of-tree prefixes still resolve on disk.
	args = append(args, p.Resolver.RemapIncludeFlags()...)

	cmd := exec.CommandContext(runCtx, p.Binary, args...)
	cmd.Dir = task.Directory
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("extractor timed out after %s", p.Timeout)
	}
	if err != nil {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("extractor failed: %w", err)
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

func firstDiagnostic(output types.ExtractorOutput) string {
	if len(output.Diagnostics) > 0 {
		return output.Diagnostics[0]
	}
	return "no diagnostics"
}

func truncateBytes(b []byte, max int) []byte {
	if len(b) <= max {
		return b
	}
	return b[:max]
}

func countNonNil(m map[string]*types.ParsePayload) int {
	n := 0
	for _, v := range m {
		if v != nil {
			n++
		}
	}
	return n
}
