package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cxxtract/internal/types"
)

func TestRgSearch(t *testing.T) {
	env := setupEnv(t)
	env.addSource("src/foo.cpp", "void foo() {}\n", symbolFacts("foo", 1))
	env.setCompileDB("src/foo.cpp")

	res, err := env.eng.RgSearch(context.Background(), env.scope, `\bfoo\b`, 100)
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "repoA:src/foo.cpp", res.Hits[0].FileKey)
	assert.Equal(t, "repoA", res.Hits[0].RepoID)
	assert.Equal(t, len(res.Hits), res.Cost.Consumed)

	_, err = env.eng.RgSearch(context.Background(), env.scope, "  ", 10)
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, types.KindInvalidArgument, verr.Kind)
}

func TestRgSearchCapsRequest(t *testing.T) {
	env := setupEnv(t)
	env.addSource("src/foo.cpp", "void foo() {}\n", symbolFacts("foo", 1))
	env.setCompileDB("src/foo.cpp")

	res, err := env.eng.RgSearch(context.Background(), env.scope, "foo", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, hardCapRgHits, res.Cost.Applied)
	assert.True(t, res.Cost.Truncated)
	assert.Contains(t, res.Cost.TruncationReasons, "rg_hits_capped")
}

func TestReadFileByKeyAndRange(t *testing.T) {
	env := setupEnv(t)
	env.addSource("src/foo.cpp", "line one\nline two\nline three\n", symbolFacts("foo", 1))
	env.setCompileDB("src/foo.cpp")
	ctx := context.Background()

	res, err := env.eng.ReadFile(ctx, env.scope, "repoA:src/foo.cpp", 2, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, "line two\nline three", res.Content)
	assert.Equal(t, 2, res.StartLine)
	assert.Equal(t, 3, res.EndLine)

	// Absolute in-workspace paths resolve to the same key.
	abs := filepath.Join(env.dir, "repoA", "src", "foo.cpp")
	res, err = env.eng.ReadFile(ctx, env.scope, abs, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "repoA:src/foo.cpp", res.FileKey)
	assert.True(t, strings.HasPrefix(res.Content, "line one"))
}

func TestReadFileOutsideWorkspace(t *testing.T) {
	env := setupEnv(t)
	env.addSource("src/foo.cpp", "x\n", symbolFacts("foo", 1))
	env.setCompileDB("src/foo.cpp")

	_, err := env.eng.ReadFile(context.Background(), env.scope, "/etc/passwd", 0, 0, 0)
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, types.KindFileOutsideWorkspace, verr.Kind)
}

func TestReadFileByteCap(t *testing.T) {
	env := setupEnv(t)
	env.addSource("src/big.cpp", strings.Repeat("a", 200)+"\n", symbolFacts("big", 1))
	env.setCompileDB("src/big.cpp")

	res, err := env.eng.ReadFile(context.Background(), env.scope, "repoA:src/big.cpp", 0, 0, 100)
	require.NoError(t, err)
	assert.Len(t, res.Content, 100)
	assert.True(t, res.Cost.Truncated)
	assert.Contains(t, res.Cost.TruncationReasons, "read_bytes_capped")
}

func TestListCandidatesProvenance(t *testing.T) {
	env := setupEnv(t)
	env.addSource("src/foo.cpp", "void foo() {}\n", symbolFacts("foo", 1))
	env.setCompileDB("src/foo.cpp")
	ctx := context.Background()

	// Before any parse only rg contributes; after a parse the baseline FTS
	// does too.
	res, err := env.eng.ListCandidates(ctx, env.scope, "foo")
	require.NoError(t, err)
	require.Contains(t, res.Candidates, "repoA:src/foo.cpp")
	assert.Contains(t, res.Provenance["repoA:src/foo.cpp"], sourceLiveRg)

	_, err = env.eng.QueryDefinition(ctx, env.scope, "foo")
	require.NoError(t, err)

	res, err = env.eng.ListCandidates(ctx, env.scope, "foo")
	require.NoError(t, err)
	assert.Contains(t, res.Provenance["repoA:src/foo.cpp"], sourceBaselineFTS)
}
