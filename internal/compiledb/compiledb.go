// Package compiledb consumes compile_commands.json catalogs. It normalizes
// entry paths, extracts the forwarded flag list per translation unit, and
// answers exact and fallback (header → sibling TU) lookups. The catalog is
// read-only input; its semantic correctness is the build system's problem.
package compiledb

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cxxtract/internal/hashing"
	"cxxtract/internal/logging"
	"cxxtract/internal/types"
)

// rawEntry mirrors one compile_commands.json element.
type rawEntry struct {
	File      string   `json:"file"`
	Directory string   `json:"directory"`
	Arguments []string `json:"arguments"`
	Command   string   `json:"command"`
}

// Entry is one normalized compile command.
type Entry struct {
	File      string // as written in the catalog
	Directory string
	AbsPath   string // normalized absolute source path
	Flags     []string
	FlagsHash string
}

// Index is an immutable lookup structure over one catalog. Keys are
// case-folded normalized absolute paths so lookups behave on
// case-insensitive filesystems.
type Index struct {
	byPath map[string]*Entry
	byDir  map[string][]*Entry
}

// sourceExts are translation-unit extensions eligible as fallback donors.
var sourceExts = map[string]bool{
	".c": true, ".cc": true, ".cpp": true, ".cxx": true, ".c++": true, ".m": true, ".mm": true,
}

// headerExts are extensions that may borrow a sibling TU's flags.
var headerExts = map[string]bool{
	".h": true, ".hh": true, ".hpp": true, ".hxx": true, ".ipp": true, ".inl": true,
}

// Load reads and indexes a compile-command catalog.
func Load(ccPath string) (*Index, error) {
	timer := logging.StartTimer(logging.CategoryCompileDB, "Load")
	defer timer.Stop()

	data, err := os.ReadFile(ccPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read compile db %s: %w", ccPath, err)
	}
	var raw []rawEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse compile db %s: %w", ccPath, err)
	}

	idx := &Index{
		byPath: make(map[string]*Entry, len(raw)),
		byDir:  make(map[string][]*Entry),
	}
	skipped := 0
	for _, r := range raw {
		e, err := normalizeEntry(r)
		if err != nil {
			skipped++
			logging.Get(logging.CategoryCompileDB).Debug("skipping entry %q: %v", r.File, err)
			continue
		}
		key := foldPath(e.AbsPath)
		idx.byPath[key] = e
		dirKey := foldPath(path.Dir(e.AbsPath))
		idx.byDir[dirKey] = append(idx.byDir[dirKey], e)
	}
	for _, entries := range idx.byDir {
		sort.Slice(entries, func(i, j int) bool { return entries[i].AbsPath < entries[j].AbsPath })
	}

	logging.Get(logging.CategoryCompileDB).Info("loaded %s: %d entries, %d skipped", ccPath, len(idx.byPath), skipped)
	return idx, nil
}

func normalizeEntry(r rawEntry) (*Entry, error) {
	if r.File == "" {
		return nil, fmt.Errorf("entry has no file")
	}
	args := r.Arguments
	if len(args) == 0 {
		if strings.TrimSpace(r.Command) == "" {
			return nil, fmt.Errorf("entry has neither arguments nor command")
		}
		args = splitCommand(r.Command)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("entry command is empty after splitting")
	}

	abs := NormalizeAbs(r.Directory, r.File)
	flags := stripFlags(args, r.Directory, abs)
	return &Entry{
		File:      r.File,
		Directory: r.Directory,
		AbsPath:   abs,
		Flags:     flags,
		FlagsHash: hashing.FlagsHash(flags),
	}, nil
}

// stripFlags drops the compiler token, output-flag pairs, compile markers,
// and the source path itself; what remains is forwarded to the extractor.
func stripFlags(args []string, directory, sourceAbs string) []string {
	flags := make([]string, 0, len(args))
	sourceKey := foldPath(sourceAbs)
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-o" || arg == "--output":
			i++ // consume the output path too
		case strings.HasPrefix(arg, "--output="):
		case strings.HasPrefix(arg, "/Fo") || strings.HasPrefix(arg, "/Fe"):
		case arg == "-c" || arg == "/c":
		case !strings.HasPrefix(arg, "-") && !strings.HasPrefix(arg, "/") &&
			foldPath(NormalizeAbs(directory, arg)) == sourceKey:
			// the source file itself
		default:
			flags = append(flags, arg)
		}
	}
	return flags
}

// Get returns the exact entry for an absolute path, or nil.
func (idx *Index) Get(absPath string) *Entry {
	return idx.byPath[foldPath(absPath)]
}

// Has reports whether an exact entry exists.
func (idx *Index) Has(absPath string) bool {
	return idx.Get(absPath) != nil
}

// Len is the number of indexed entries.
func (idx *Index) Len() int { return len(idx.byPath) }

// Lookup resolves a path to an entry with a match type: exact when the
// catalog names the file, fallback when a sibling TU donates its flags to a
// header, missing otherwise.
func (idx *Index) Lookup(absPath string) (*Entry, types.MatchType) {
	if e := idx.Get(absPath); e != nil {
		return e, types.MatchExact
	}
	if e := idx.Fallback(absPath); e != nil {
		return e, types.MatchFallback
	}
	return nil, types.MatchMissing
}

// Fallback picks the sibling translation unit whose name best matches a
// header absent from the catalog. Scoring favors the exact header/TU pair,
// then shared name prefixes; ties break by lexical order of absolute path
// so the choice is deterministic.
func (idx *Index) Fallback(absPath string) *Entry {
	norm := strings.ToLower(path.Ext(absPath))
	if !headerExts[norm] {
		return nil
	}
	siblings := idx.byDir[foldPath(path.Dir(NormalizeAbs("", absPath)))]
	if len(siblings) == 0 {
		return nil
	}

	stem := strings.ToLower(strings.TrimSuffix(path.Base(absPath), path.Ext(absPath)))
	var best *Entry
	bestScore := -1 << 30
	for _, e := range siblings {
		ext := strings.ToLower(path.Ext(e.AbsPath))
		if !sourceExts[ext] {
			continue
		}
		score := fallbackScore(stem, e)
		// Sibling lists are pre-sorted, so a strict > keeps the
		// lexically smallest path among equal scores.
		if score > bestScore {
			bestScore = score
			best = e
		}
	}
	return best
}

func fallbackScore(headerStem string, e *Entry) int {
	candStem := strings.ToLower(strings.TrimSuffix(path.Base(e.AbsPath), path.Ext(e.AbsPath)))

	score := 8 // same directory by construction
	if candStem == headerStem {
		score += 20 // the header/TU pair, e.g. foo.h next to foo.cc
	}
	score += commonPrefixLen(headerStem, candStem) * 10
	if sourceExts[strings.ToLower(path.Ext(e.AbsPath))] {
		score += 2
	}
	score -= abs(len(candStem) - len(headerStem))
	return score
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// NormalizeAbs resolves file against directory and returns a cleaned,
// forward-slash absolute path.
func NormalizeAbs(directory, file string) string {
	p := file
	if !filepath.IsAbs(p) && !isWindowsAbs(p) {
		p = filepath.Join(directory, p)
	}
	return path.Clean(filepath.ToSlash(p))
}

// foldPath is the index key: normalized then case-folded, so exact and
// fallback lookups survive case-insensitive filesystems.
func foldPath(p string) string {
	return strings.ToLower(path.Clean(filepath.ToSlash(p)))
}

// isWindowsAbs spots drive-letter paths even when running elsewhere, since
// catalogs may be produced on a different host than they are consumed.
func isWindowsAbs(p string) bool {
	return len(p) >= 3 && p[1] == ':' && (p[2] == '/' || p[2] == '\\')
}

// splitCommand tokenizes a shell command string: whitespace separated with
// single quotes, double quotes, and backslash escapes honored.
func splitCommand(command string) []string {
	var (
		args     []string
		current  strings.Builder
		inSingle bool
		inDouble bool
		escaped  bool
		started  bool
	)
	flush := func() {
		if started {
			args = append(args, current.String())
			current.Reset()
			started = false
		}
	}
	for _, r := range command {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
			started = true
		case r == '\\' && !inSingle:
			escaped = true
			started = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			started = true
		case r == '"' && !inSingle:
			inDouble = !inDouble
			started = true
		case (r == ' ' || r == '\t' || r == '\n') && !inSingle && !inDouble:
			flush()
		default:
			current.WriteRune(r)
			started = true
		}
	}
	flush()
	return args
}
