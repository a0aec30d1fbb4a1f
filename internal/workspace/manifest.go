// Package workspace models the multi-repo topology of a workspace: the
// manifest that declares repos and path remaps, and the resolver that maps
// between absolute paths and canonical file-keys.
package workspace

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"cxxtract/internal/logging"
	"cxxtract/internal/types"
)

// Repo is one repository declared in the manifest. Root is relative to the
// workspace root unless absolute. Sync fields are optional as a group: a
// repo with a remote_url must also carry token_env_var and commit_sha.
type Repo struct {
	RepoID          string   `yaml:"repo_id"`
	Root            string   `yaml:"root"`
	CompileCommands string   `yaml:"compile_commands"`
	DefaultBranch   string   `yaml:"default_branch"`
	DependsOn       []string `yaml:"depends_on"`
	RemoteURL       string   `yaml:"remote_url"`
	TokenEnvVar     string   `yaml:"token_env_var"`
	ProjectPath     string   `yaml:"project_path"`
	CommitSHA       string   `yaml:"commit_sha"`
}

// PathRemap rewrites include paths whose prefix matches FromPrefix into a
// repo-relative location, so out-of-tree include roots still resolve to
// file-keys.
type PathRemap struct {
	FromPrefix string `yaml:"from_prefix"`
	ToRepoID   string `yaml:"to_repo_id"`
	ToPrefix   string `yaml:"to_prefix"`
}

// Manifest is the parsed, validated workspace topology.
type Manifest struct {
	WorkspaceID string      `yaml:"workspace_id"`
	Repos       []Repo      `yaml:"repos"`
	PathRemaps  []PathRemap `yaml:"path_remaps"`

	// Set after load, not part of the YAML schema.
	RootPath     string `yaml:"-"`
	ManifestPath string `yaml:"-"`
}

var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// LoadManifest reads and validates a manifest. The workspace root defaults
// to the manifest's directory.
func LoadManifest(manifestPath string) (*Manifest, error) {
	timer := logging.StartTimer(logging.CategoryWorkspace, "LoadManifest")
	defer timer.Stop()

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", manifestPath, err)
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, types.Validationf(types.KindInvalidArgument, "invalid manifest %s: %v", manifestPath, err)
	}

	abs, err := filepath.Abs(manifestPath)
	if err != nil {
		abs = manifestPath
	}
	m.ManifestPath = filepath.ToSlash(abs)
	m.RootPath = path.Dir(m.ManifestPath)

	if err := m.Validate(); err != nil {
		return nil, err
	}
	logging.Get(logging.CategoryWorkspace).Info("loaded manifest %s: workspace=%s repos=%d remaps=%d",
		manifestPath, m.WorkspaceID, len(m.Repos), len(m.PathRemaps))
	return &m, nil
}

// Validate enforces the manifest invariants: unique non-empty repo ids,
// HTTPS remotes with token+sha, 40-hex shas, remaps targeting known repos.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.WorkspaceID) == "" {
		return types.Validationf(types.KindInvalidArgument, "manifest: workspace_id is required")
	}
	if len(m.Repos) == 0 {
		return types.Validationf(types.KindInvalidArgument, "manifest: at least one repo is required")
	}

	seen := make(map[string]bool, len(m.Repos))
	for i := range m.Repos {
		r := &m.Repos[i]
		if strings.TrimSpace(r.RepoID) == "" {
			return types.Validationf(types.KindInvalidArgument, "manifest: repo %d has empty repo_id", i)
		}
		if strings.Contains(r.RepoID, ":") {
			return types.Validationf(types.KindInvalidArgument, "manifest: repo_id %q must not contain ':'", r.RepoID)
		}
		if seen[r.RepoID] {
			return types.Validationf(types.KindInvalidArgument, "manifest: duplicate repo_id %q", r.RepoID)
		}
		seen[r.RepoID] = true
		if strings.TrimSpace(r.Root) == "" {
			return types.Validationf(types.KindInvalidArgument, "manifest: repo %q has empty root", r.RepoID)
		}

		if r.RemoteURL != "" {
			if !strings.HasPrefix(r.RemoteURL, "https://") {
				return types.Validationf(types.KindInvalidArgument, "manifest: repo %q remote_url must be HTTPS", r.RepoID)
			}
			if r.TokenEnvVar == "" {
				return types.Validationf(types.KindInvalidArgument, "manifest: repo %q has remote_url but no token_env_var", r.RepoID)
			}
			if r.CommitSHA == "" {
				return types.Validationf(types.KindInvalidCommitSHA, "manifest: repo %q has remote_url but no commit_sha", r.RepoID)
			}
		}
		if r.CommitSHA != "" {
			r.CommitSHA = strings.ToLower(r.CommitSHA)
			if !shaPattern.MatchString(r.CommitSHA) {
				return types.Validationf(types.KindInvalidCommitSHA, "manifest: repo %q commit_sha %q is not 40 hex chars", r.RepoID, r.CommitSHA)
			}
		}
	}

	for _, r := range m.Repos {
		for _, dep := range r.DependsOn {
			if !seen[dep] {
				return types.Validationf(types.KindUnknownRepo, "manifest: repo %q depends on unknown repo %q", r.RepoID, dep)
			}
		}
	}
	for _, remap := range m.PathRemaps {
		if remap.FromPrefix == "" {
			return types.Validationf(types.KindInvalidArgument, "manifest: path remap with empty from_prefix")
		}
		if !seen[remap.ToRepoID] {
			return types.Validationf(types.KindUnknownRepo, "manifest: path remap targets unknown repo %q", remap.ToRepoID)
		}
	}
	return nil
}

// Repo returns the declared repo by id, or nil.
func (m *Manifest) Repo(repoID string) *Repo {
	for i := range m.Repos {
		if m.Repos[i].RepoID == repoID {
			return &m.Repos[i]
		}
	}
	return nil
}

// RepoRoot is the absolute, forward-slash root of a repo.
func (m *Manifest) RepoRoot(r *Repo) string {
	root := filepath.ToSlash(r.Root)
	if !path.IsAbs(root) && !isWindowsAbs(root) {
		root = path.Join(m.RootPath, root)
	}
	return path.Clean(root)
}

// CompileCommandsPath is the absolute catalog path for a repo, or "" when
// the repo declares none.
func (m *Manifest) CompileCommandsPath(r *Repo) string {
	if r.CompileCommands == "" {
		return ""
	}
	cc := filepath.ToSlash(r.CompileCommands)
	if !path.IsAbs(cc) && !isWindowsAbs(cc) {
		cc = path.Join(m.RepoRoot(r), cc)
	}
	return path.Clean(cc)
}

func isWindowsAbs(p string) bool {
	return len(p) >= 3 && p[1] == ':' && (p[2] == '/' || p[2] == '\\')
}

// ManifestCache caches parsed manifests by path. Like the compile-db cache
// it is process-wide and dropped on explicit refresh.
type ManifestCache struct {
	mu        sync.Mutex
	manifests map[string]*Manifest
}

// NewManifestCache returns an empty cache.
func NewManifestCache() *ManifestCache {
	return &ManifestCache{manifests: make(map[string]*Manifest)}
}

// Load returns the cached manifest for a path, loading on a miss.
func (c *ManifestCache) Load(manifestPath string) (*Manifest, error) {
	key := filepath.ToSlash(manifestPath)

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.manifests[key]; ok {
		return m, nil
	}
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	c.manifests[key] = m
	return m, nil
}

// Invalidate drops a cached manifest; an empty path drops everything.
func (c *ManifestCache) Invalidate(manifestPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if manifestPath == "" {
		c.manifests = make(map[string]*Manifest)
		return
	}
	delete(c.manifests, filepath.ToSlash(manifestPath))
}
