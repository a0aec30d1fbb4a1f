package workspace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifest(t *testing.T) *Manifest {
	t.Helper()
	m := &Manifest{
		WorkspaceID: "ws1",
		RootPath:    "/ws",
		Repos: []Repo{
			{RepoID: "repoA", Root: "repoA"},
			{RepoID: "repoB", Root: "vendor/repoB"},
		},
		PathRemaps: []PathRemap{
			{FromPrefix: "/opt/sdk/include", ToRepoID: "repoA", ToPrefix: "include"},
			{FromPrefix: "/opt/sdk", ToRepoID: "repoB", ToPrefix: ""},
		},
	}
	require.NoError(t, m.Validate())
	return m
}

func TestResolveFileKey(t *testing.T) {
	r := NewResolver(testManifest(t))

	res := r.ResolveFileKey("/ws/repoA/src/a.cpp")
	require.NotNil(t, res)
	assert.Equal(t, "repoA:src/a.cpp", res.FileKey)
	assert.Equal(t, "repoA", res.RepoID)
	assert.Equal(t, "src/a.cpp", res.RelPath)
	assert.Equal(t, "/ws/repoA/src/a.cpp", res.AbsPath)

	// Case-folded prefix match, backslash tolerance.
	res = r.ResolveFileKey(`/WS/REPOA\src\b.h`)
	require.NotNil(t, res)
	assert.Equal(t, "repoA:src/b.h", res.FileKey)

	assert.Nil(t, r.ResolveFileKey("/elsewhere/x.cpp"))
	assert.Nil(t, r.ResolveFileKey("/ws/repoA"), "the repo root itself is not a file")
}

func TestFileKeyRoundTrip(t *testing.T) {
	r := NewResolver(testManifest(t))

	for _, key := range []string{"repoA:src/a.cpp", "repoB:inc/deep/dir/x.hpp"} {
		abs, err := r.FileKeyToAbsPath(key)
		require.NoError(t, err)
		res := r.ResolveFileKey(abs)
		require.NotNil(t, res, "round trip failed for %s", key)
		assert.Equal(t, key, res.FileKey)
	}
}

func TestFileKeyToAbsPathErrors(t *testing.T) {
	r := NewResolver(testManifest(t))

	_, err := r.FileKeyToAbsPath("nocolon")
	assert.Error(t, err)
	_, err = r.FileKeyToAbsPath(":src/a.cpp")
	assert.Error(t, err)
	_, err = r.FileKeyToAbsPath("ghost:src/a.cpp")
	assert.Error(t, err)
}

func TestResolveIncludeDep(t *testing.T) {
	r := NewResolver(testManifest(t))

	// Direct membership.
	dep := r.ResolveIncludeDep("/ws/repoA/include/foo.h", 1)
	assert.True(t, dep.Resolved)
	assert.Equal(t, "repoA:include/foo.h", dep.FileKey)
	assert.Equal(t, 1, dep.Depth)

	// Longest from_prefix wins: /opt/sdk/include beats /opt/sdk.
	dep = r.ResolveIncludeDep("/opt/sdk/include/foo.h", 2)
	assert.True(t, dep.Resolved)
	assert.Equal(t, "repoA:include/foo.h", dep.FileKey)

	// Shorter remap catches the rest.
	dep = r.ResolveIncludeDep("/opt/sdk/lib/bar.h", 1)
	assert.True(t, dep.Resolved)
	assert.Equal(t, "repoB:lib/bar.h", dep.FileKey)

	// Unresolvable keeps the raw path.
	dep = r.ResolveIncludeDep("/usr/include/vector", 3)
	assert.False(t, dep.Resolved)
	assert.Equal(t, "/usr/include/vector", dep.RawPath)
	assert.Empty(t, dep.FileKey)
}

func TestContainsPath(t *testing.T) {
	r := NewResolver(testManifest(t))
	assert.True(t, r.ContainsPath("/ws/repoB/x.cc"))
	assert.False(t, r.ContainsPath(filepath.Join("/tmp", "x.cc")))
}
