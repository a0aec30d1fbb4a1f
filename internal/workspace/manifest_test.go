package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cxxtract/internal/types"
)

const validManifest = `
workspace_id: ws1
repos:
  - repo_id: repoA
    root: repoA
    compile_commands: build/compile_commands.json
    default_branch: main
  - repo_id: repoB
    root: repoB
    default_branch: main
    depends_on: [repoA]
path_remaps:
  - from_prefix: /opt/sdk/include
    to_repo_id: repoA
    to_prefix: include
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "workspace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManifestValid(t *testing.T) {
	path := writeManifest(t, validManifest)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "ws1", m.WorkspaceID)
	require.Len(t, m.Repos, 2)
	assert.Equal(t, filepath.ToSlash(filepath.Dir(path)), m.RootPath)

	repoA := m.Repo("repoA")
	require.NotNil(t, repoA)
	assert.True(t, strings.HasSuffix(m.CompileCommandsPath(repoA), "repoA/build/compile_commands.json"))
	assert.Nil(t, m.Repo("nope"))
}

func TestLoadManifestRejectsUnknownKeys(t *testing.T) {
	path := writeManifest(t, validManifest+"\nsurprise: true\n")
	_, err := LoadManifest(path)
	require.Error(t, err)
}

func TestValidateRules(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*Manifest)
		wantKind string
	}{
		{
			name:     "duplicate repo id",
			mutate:   func(m *Manifest) { m.Repos[1].RepoID = "repoA" },
			wantKind: types.KindInvalidArgument,
		},
		{
			name:     "colon in repo id",
			mutate:   func(m *Manifest) { m.Repos[0].RepoID = "a:b" },
			wantKind: types.KindInvalidArgument,
		},
		{
			name:     "non-https remote",
			mutate:   func(m *Manifest) { m.Repos[0].RemoteURL = "git@host:repo.git" },
			wantKind: types.KindInvalidArgument,
		},
		{
			name: "remote without sha",
			mutate: func(m *Manifest) {
				m.Repos[0].RemoteURL = "https://host/repo.git"
				m.Repos[0].TokenEnvVar = "TOKEN"
			},
			wantKind: types.KindInvalidCommitSHA,
		},
		{
			name:     "short sha",
			mutate:   func(m *Manifest) { m.Repos[0].CommitSHA = "abc123" },
			wantKind: types.KindInvalidCommitSHA,
		},
		{
			name:     "unknown dependency",
			mutate:   func(m *Manifest) { m.Repos[0].DependsOn = []string{"ghost"} },
			wantKind: types.KindUnknownRepo,
		},
		{
			name:     "remap to unknown repo",
			mutate:   func(m *Manifest) { m.PathRemaps[0].ToRepoID = "ghost" },
			wantKind: types.KindUnknownRepo,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeManifest(t, validManifest)
			m, err := LoadManifest(path)
			require.NoError(t, err)

			tc.mutate(m)
			err = m.Validate()
			require.Error(t, err)
			var verr *types.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.wantKind, verr.Kind)
		})
	}
}

func TestValidateLowercasesSHA(t *testing.T) {
	path := writeManifest(t, validManifest)
	m, err := LoadManifest(path)
	require.NoError(t, err)

	m.Repos[0].RemoteURL = "https://host/repo.git"
	m.Repos[0].TokenEnvVar = "TOKEN"
	m.Repos[0].CommitSHA = strings.Repeat("AB", 20)
	require.NoError(t, m.Validate())
	assert.Equal(t, strings.Repeat("ab", 20), m.Repos[0].CommitSHA)
}

func TestManifestCache(t *testing.T) {
	path := writeManifest(t, validManifest)

	cache := NewManifestCache()
	first, err := cache.Load(path)
	require.NoError(t, err)
	second, err := cache.Load(path)
	require.NoError(t, err)
	assert.Same(t, first, second)

	cache.Invalidate(path)
	third, err := cache.Load(path)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}
