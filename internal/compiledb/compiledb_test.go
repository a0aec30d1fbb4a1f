package compiledb

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cxxtract/internal/hashing"
	"cxxtract/internal/types"
)

func writeCatalog(t *testing.T, entries []map[string]interface{}) string {
	t.Helper()
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "compile_commands.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadArgumentsEntry(t *testing.T) {
	path := writeCatalog(t, []map[string]interface{}{
		{
			"file":      "src/a.cpp",
			"directory": "/work/repo",
			"arguments": []string{"clang++", "-std=c++17", "-Iinclude", "-c", "src/a.cpp", "-o", "out/a.o"},
		},
	})

	idx, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, idx.Len())

	e := idx.Get("/work/repo/src/a.cpp")
	require.NotNil(t, e)
	assert.Equal(t, "/work/repo/src/a.cpp", e.AbsPath)
	assert.Equal(t, []string{"-std=c++17", "-Iinclude"}, e.Flags)
	assert.Equal(t, hashing.FlagsHash(e.Flags), e.FlagsHash)
}

func TestLoadCommandStringEntry(t *testing.T) {
	path := writeCatalog(t, []map[string]interface{}{
		{
			"file":      "b.cc",
			"directory": "/work/repo/src",
			"command":   `g++ -DNAME="quoted value" --output=b.o -c b.cc`,
		},
	})

	idx, err := Load(path)
	require.NoError(t, err)

	e := idx.Get("/work/repo/src/b.cc")
	require.NotNil(t, e)
	assert.Equal(t, []string{`-DNAME=quoted value`}, e.Flags)
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	path := writeCatalog(t, []map[string]interface{}{
		{
			"file":      "/work/Repo/Src/A.cpp",
			"directory": "/work/Repo",
			"arguments": []string{"cc", "-c", "/work/Repo/Src/A.cpp"},
		},
	})

	idx, err := Load(path)
	require.NoError(t, err)
	assert.True(t, idx.Has("/work/repo/src/a.cpp"))
	assert.True(t, idx.Has("/WORK/REPO/SRC/A.CPP"))
}

func TestFallbackPicksHeaderPair(t *testing.T) {
	path := writeCatalog(t, []map[string]interface{}{
		{
			"file":      "/work/repo/src/webrtc_connection.cc",
			"directory": "/work/repo",
			"arguments": []string{"cc", "-DWEBRTC", "-c", "/work/repo/src/webrtc_connection.cc"},
		},
		{
			"file":      "/work/repo/src/other.cc",
			"directory": "/work/repo",
			"arguments": []string{"cc", "-DOTHER", "-c", "/work/repo/src/other.cc"},
		},
	})

	idx, err := Load(path)
	require.NoError(t, err)

	e, match := idx.Lookup("/work/repo/src/webrtc_connection.h")
	require.NotNil(t, e)
	assert.Equal(t, types.MatchFallback, match)
	assert.Equal(t, "/work/repo/src/webrtc_connection.cc", e.AbsPath)
}

func TestFallbackTieBreaksLexically(t *testing.T) {
	// Two equally scored siblings: the lexically smaller path wins so the
	// choice is stable across loads.
	path := writeCatalog(t, []map[string]interface{}{
		{
			"file":      "/work/repo/src/zz.cc",
			"directory": "/work/repo",
			"arguments": []string{"cc", "-c", "/work/repo/src/zz.cc"},
		},
		{
			"file":      "/work/repo/src/aa.cc",
			"directory": "/work/repo",
			"arguments": []string{"cc", "-c", "/work/repo/src/aa.cc"},
		},
	})

	idx, err := Load(path)
	require.NoError(t, err)

	e, match := idx.Lookup("/work/repo/src/unrelated.h")
	require.NotNil(t, e)
	assert.Equal(t, types.MatchFallback, match)
	assert.Equal(t, "/work/repo/src/aa.cc", e.AbsPath)
}

func TestLookupMissing(t *testing.T) {
	path := writeCatalog(t, nil)
	idx, err := Load(path)
	require.NoError(t, err)

	e, match := idx.Lookup("/work/repo/src/nowhere.cpp")
	assert.Nil(t, e)
	assert.Equal(t, types.MatchMissing, match)

	// Non-header files never fall back.
	e, match = idx.Lookup("/work/repo/src/nowhere.h")
	assert.Nil(t, e)
	assert.Equal(t, types.MatchMissing, match)
}

func TestSplitCommandQuoting(t *testing.T) {
	got := splitCommand(`cc -I'/path with space' -D"A B" back\ slash plain`)
	assert.Equal(t, []string{"cc", "-I/path with space", "-DA B", "back slash", "plain"}, got)
}

func TestCacheLoadAndInvalidate(t *testing.T) {
	path := writeCatalog(t, []map[string]interface{}{
		{
			"file":      "/work/repo/src/a.cpp",
			"directory": "/work/repo",
			"arguments": []string{"cc", "-c", "/work/repo/src/a.cpp"},
		},
	})

	cache := NewCache()
	first, err := cache.Load("ws1", "repoA", path)
	require.NoError(t, err)
	second, err := cache.Load("ws1", "repoA", path)
	require.NoError(t, err)
	assert.Same(t, first, second, "cache must return the identical index")
	assert.Equal(t, 1, cache.Size())

	assert.Equal(t, 0, cache.Invalidate("ws2"))
	assert.Equal(t, 1, cache.Invalidate("ws1"))
	assert.Equal(t, 0, cache.Size())
}
