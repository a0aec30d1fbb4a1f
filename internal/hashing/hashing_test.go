package hashing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashDeterministic(t *testing.T) {
	a := ContentHash([]byte("int main() { return 0; }"))
	b := ContentHash([]byte("int main() { return 0; }"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, ContentHash([]byte("int main() { return 1; }")))
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.cpp")
	require.NoError(t, os.WriteFile(path, []byte("void f();"), 0o644))

	assert.Equal(t, ContentHash([]byte("void f();")), HashFile(path))
}

func TestHashFileMissingYieldsEmpty(t *testing.T) {
	assert.Equal(t, "", HashFile(filepath.Join(t.TempDir(), "gone.cpp")))
}

func TestFlagsHashOrderIndependent(t *testing.T) {
	a := FlagsHash([]string{"-std=c++20", "-Iinclude", "-DNDEBUG"})
	b := FlagsHash([]string{"-DNDEBUG", "-std=c++20", "-Iinclude"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, FlagsHash([]string{"-std=c++17", "-Iinclude", "-DNDEBUG"}))
	// Input slice must not be mutated by sorting.
	flags := []string{"-b", "-a"}
	FlagsHash(flags)
	assert.Equal(t, []string{"-b", "-a"}, flags)
}

func TestIncludesHashOrderIndependent(t *testing.T) {
	h1 := ContentHash([]byte("one"))
	h2 := ContentHash([]byte("two"))
	assert.Equal(t, IncludesHash([]string{h1, h2}), IncludesHash([]string{h2, h1}))
	assert.NotEqual(t, IncludesHash([]string{h1}), IncludesHash([]string{h1, h2}))
}

func TestCompositeHashComponents(t *testing.T) {
	content := ContentHash([]byte("body"))
	includes := IncludesHash([]string{ContentHash([]byte("hdr"))})
	flags := FlagsHash([]string{"-O2"})

	c := CompositeHash(content, includes, flags)
	assert.Len(t, c, 64)
	assert.Equal(t, c, CompositeHash(content, includes, flags))

	// Any single component change must change the composite.
	assert.NotEqual(t, c, CompositeHash(ContentHash([]byte("body2")), includes, flags))
	assert.NotEqual(t, c, CompositeHash(content, IncludesHash(nil), flags))
	assert.NotEqual(t, c, CompositeHash(content, includes, FlagsHash([]string{"-O3"})))

	// Components must not be swappable.
	assert.NotEqual(t, c, CompositeHash(flags, includes, content))
}

func TestEmptyInputsStable(t *testing.T) {
	assert.Equal(t, FlagsHash(nil), FlagsHash([]string{}))
	assert.Equal(t, IncludesHash(nil), IncludesHash([]string{}))
	assert.NotEmpty(t, CompositeHash("", "", ""))
}
