// Package recall invokes the external lexical-search binary (ripgrep) to
// produce candidate files for a symbol. Recall is best-effort by contract:
// every failure surfaces as a warning, never an error, so the orchestrator
// can still serve cached results degraded.
package recall

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cxxtract/internal/logging"
)

// Hit is one projected rg match line.
type Hit struct {
	Path       string
	LineNumber int
	LineText   string
}

// Engine runs lexical searches over repo roots on disk.
type Engine struct {
	Binary  string
	Globs   []string
	Timeout time.Duration

	// run is swappable for tests; defaults to executing the binary.
	run func(ctx context.Context, args []string, dir string) ([]byte, int, error)
}

// New builds an engine over the configured rg binary and glob set.
func New(binary string, globs []string, timeout time.Duration) *Engine {
	e := &Engine{Binary: binary, Globs: globs, Timeout: timeout}
	e.run = e.execute
	return e
}

// BuildSymbolRegex synthesizes the search pattern for a possibly qualified
// symbol: each :: part is escaped and joined with optional whitespace
// around the separator, the whole wrapped in word boundaries. Whitespace
// only; comments between parts stay unmatched on purpose.
func BuildSymbolRegex(symbol string) string {
	parts := strings.Split(symbol, "::")
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		escaped = append(escaped, regexp.QuoteMeta(p))
	}
	if len(escaped) == 0 {
		return ""
	}
	return `\b` + strings.Join(escaped, `\s*::\s*`) + `\b`
}

// Search runs rg rooted at dir and returns projected match hits. perFileMax
// bounds matches within one file; maxHits bounds the projected total. The
// error return is rg failing outright (exit ≥ 2, spawn failure, timeout);
// callers convert it to a warning.
func (e *Engine) Search(ctx context.Context, pattern, dir string, perFileMax, maxHits int) ([]Hit, error) {
	timer := logging.StartTimer(logging.CategoryRecall, "Search")
	defer timer.Stop()

	if pattern == "" {
		return nil, nil
	}
	if perFileMax <= 0 {
		perFileMax = 5
	}

	args := []string{"--json", "--no-heading", "--max-count", strconv.Itoa(perFileMax)}
	for _, glob := range e.Globs {
		args = append(args, "--type-add", "cxx:"+glob)
	}
	if len(e.Globs) > 0 {
		args = append(args, "--type", "cxx")
	}
	args = append(args, "--", pattern, ".")

	runCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	out, exitCode, err := e.run(runCtx, args, dir)
	if err != nil {
		return nil, fmt.Errorf("rg failed: %w", err)
	}
	// Exit 1 means "no matches", which is a perfectly good answer.
	if exitCode > 1 {
		return nil, fmt.Errorf("rg exited %d", exitCode)
	}

	hits := ParseHits(out, dir, maxHits)
	logging.RecallDebug("rg %q in %s: %d hits", pattern, dir, len(hits))
	return hits, nil
}

// execute runs the real binary.
func (e *Engine) execute(ctx context.Context, args []string, dir string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, e.Binary, args...)
	cmd.Dir = dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return stdout.Bytes(), exitErr.ExitCode(), nil
		}
		if ctx.Err() != nil {
			return nil, -1, fmt.Errorf("timed out: %w", ctx.Err())
		}
		return nil, -1, err
	}
	return stdout.Bytes(), 0, nil
}

// rgLine mirrors the subset of rg's JSON-lines schema the engine consumes.
type rgLine struct {
	Type string `json:"type"`
	Data struct {
		Path struct {
			Text string `json:"text"`
		} `json:"path"`
		LineNumber int `json:"line_number"`
		Lines      struct {
			Text string `json:"text"`
		} `json:"lines"`
	} `json:"data"`
}

// ParseHits filters rg JSON lines to match records with a resolvable path.
// Relative paths are joined against root. Unparseable lines are skipped:
// rg interleaves begin/end/summary records the engine does not care about.
func ParseHits(output []byte, root string, maxHits int) []Hit {
	var hits []Hit
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec rgLine
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Type != "match" || rec.Data.Path.Text == "" {
			continue
		}
		p := strings.ReplaceAll(rec.Data.Path.Text, "\\", "/")
		if !strings.HasPrefix(p, "/") && !isWindowsAbs(p) {
			p = strings.TrimSuffix(strings.ReplaceAll(root, "\\", "/"), "/") + "/" + strings.TrimPrefix(p, "./")
		}
		hits = append(hits, Hit{
			Path:       p,
			LineNumber: rec.Data.LineNumber,
			LineText:   strings.TrimRight(rec.Data.Lines.Text, "\n"),
		})
		if maxHits > 0 && len(hits) >= maxHits {
			break
		}
	}
	return hits
}

func isWindowsAbs(p string) bool {
	return len(p) >= 3 && p[1] == ':' && (p[2] == '/' || p[2] == '\\')
}

// Version reports whether rg is runnable and its parsed version string.
// The engine wants ≥ 13 for stable --json output; older versions log a
// warning and still run.
func (e *Engine) Version(ctx context.Context) (string, bool) {
	out, exitCode, err := e.run(ctx, []string{"--version"}, "")
	if err != nil || exitCode != 0 {
		return "", false
	}
	fields := strings.Fields(strings.SplitN(string(out), "\n", 2)[0])
	if len(fields) < 2 {
		return "", false
	}
	version := fields[1]
	if major, err := strconv.Atoi(strings.SplitN(version, ".", 2)[0]); err == nil && major < 13 {
		logging.RecallWarn("rg %s is older than 13.0; --json output may differ", version)
	}
	return version, true
}
