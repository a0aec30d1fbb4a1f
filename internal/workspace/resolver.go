package workspace

import (
	"path"
	"sort"
	"strings"

	"cxxtract/internal/types"
)

// Resolver maps between absolute paths and canonical "repoId:relPath"
// file-keys for one manifest. Prefix matching is case-folded so the mapping
// survives case-insensitive filesystems; the returned paths keep the
// manifest's original casing.
type Resolver struct {
	manifest *Manifest
	roots    []repoRoot // manifest order
	remaps   []PathRemap
}

type repoRoot struct {
	repoID string
	root   string // absolute, forward-slash
	folded string // case-folded root with trailing slash
}

// NewResolver builds a resolver over a validated manifest. Path remaps are
// ordered longest from_prefix first so the most specific rewrite wins.
func NewResolver(m *Manifest) *Resolver {
	r := &Resolver{manifest: m}
	for i := range m.Repos {
		root := m.RepoRoot(&m.Repos[i])
		r.roots = append(r.roots, repoRoot{
			repoID: m.Repos[i].RepoID,
			root:   root,
			folded: strings.ToLower(root) + "/",
		})
	}
	r.remaps = append(r.remaps, m.PathRemaps...)
	sort.SliceStable(r.remaps, func(i, j int) bool {
		return len(r.remaps[i].FromPrefix) > len(r.remaps[j].FromPrefix)
	})
	return r
}

// Manifest returns the manifest this resolver was built from.
func (r *Resolver) Manifest() *Manifest { return r.manifest }

// Resolution is a successful absPath → file-key mapping.
type Resolution struct {
	FileKey string
	RepoID  string
	RelPath string
	AbsPath string // normalized
}

// ResolveFileKey maps an absolute path to the first repo (manifest order)
// whose root is a path-prefix of it. Returns nil when no repo contains the
// path.
func (r *Resolver) ResolveFileKey(absPath string) *Resolution {
	norm := normalizePath(absPath)
	folded := strings.ToLower(norm)
	for _, root := range r.roots {
		if !strings.HasPrefix(folded+"/", root.folded) {
			continue
		}
		if len(norm) <= len(root.root) {
			continue // the root itself, not a file under it
		}
		rel := norm[len(root.root)+1:]
		return &Resolution{
			FileKey: types.FileKey(root.repoID, rel),
			RepoID:  root.repoID,
			RelPath: rel,
			AbsPath: norm,
		}
	}
	return nil
}

// FileKeyToAbsPath is the inverse of ResolveFileKey.
func (r *Resolver) FileKeyToAbsPath(fileKey string) (string, error) {
	repoID, relPath, ok := types.SplitFileKey(fileKey)
	if !ok || relPath == "" {
		return "", types.Validationf(types.KindInvalidFileKey, "malformed file-key %q", fileKey)
	}
	repo := r.manifest.Repo(repoID)
	if repo == nil {
		return "", types.Validationf(types.KindUnknownRepo, "file-key %q references unknown repo %q", fileKey, repoID)
	}
	return path.Join(r.manifest.RepoRoot(repo), relPath), nil
}

// ContainsPath reports whether an absolute path falls under any repo root.
// Exploration reads use this to refuse paths outside the workspace.
func (r *Resolver) ContainsPath(absPath string) bool {
	return r.ResolveFileKey(absPath) != nil
}

// ResolveIncludeDep maps a raw include path (as the extractor reported it)
// to a file-key: direct repo membership first, then path remaps, longest
// from_prefix first. Unresolved deps keep their raw path with Resolved
// false; depth is diagnostic only and passes through untouched.
func (r *Resolver) ResolveIncludeDep(raw string, depth int) types.ResolvedIncludeDep {
	dep := types.ResolvedIncludeDep{RawPath: raw, Depth: depth}

	if res := r.ResolveFileKey(raw); res != nil {
		dep.Resolved = true
		dep.FileKey = res.FileKey
		dep.AbsPath = res.AbsPath
		return dep
	}

	norm := normalizePath(raw)
	folded := strings.ToLower(norm)
	for _, remap := range r.remaps {
		from := strings.ToLower(normalizePath(remap.FromPrefix))
		if !strings.HasPrefix(folded, from) {
			continue
		}
		rest := strings.TrimPrefix(norm[len(from):], "/")
		repo := r.manifest.Repo(remap.ToRepoID)
		if repo == nil {
			continue
		}
		rel := path.Join(remap.ToPrefix, rest)
		abs := path.Join(r.manifest.RepoRoot(repo), rel)
		if res := r.ResolveFileKey(abs); res != nil {
			dep.Resolved = true
			dep.FileKey = res.FileKey
			dep.AbsPath = res.AbsPath
			return dep
		}
	}
	return dep
}

// RemapIncludeFlags derives extra -I flags from the manifest's path remaps
// so the extractor can find headers at their real on-disk locations when the
// compile flags reference a remapped prefix. One flag per distinct target.
func (r *Resolver) RemapIncludeFlags() []string {
	var flags []string
	seen := make(map[string]bool)
	for _, remap := range r.remaps {
		repo := r.manifest.Repo(remap.ToRepoID)
		if repo == nil {
			continue
		}
		dir := path.Join(r.manifest.RepoRoot(repo), remap.ToPrefix)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		flags = append(flags, "-I"+dir)
	}
	return flags
}

// normalizePath cleans a path into forward-slash form without touching the
// filesystem. Backslashes are rewritten unconditionally: manifests and
// extractor output may be produced on a different host than they are
// consumed on.
func normalizePath(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}
