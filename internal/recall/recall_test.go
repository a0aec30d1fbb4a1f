package recall

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSymbolRegex(t *testing.T) {
	cases := []struct {
		symbol string
		want   string
	}{
		{"foo", `\bfoo\b`},
		{"ns::foo", `\bns\s*::\s*foo\b`},
		{"a::b::c", `\ba\s*::\s*b\s*::\s*c\b`},
		{"operator++", `\boperator\+\+\b`},
		{" ns :: foo ", `\bns\s*::\s*foo\b`},
		{"::foo", `\bfoo\b`},
		{"", ""},
		{"::", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BuildSymbolRegex(tc.symbol), "symbol %q", tc.symbol)
	}
}

const sampleRgOutput = `{"type":"begin","data":{"path":{"text":"src/a.cpp"}}}
{"type":"match","data":{"path":{"text":"src/a.cpp"},"line_number":10,"lines":{"text":"void foo() {}\n"}}}
{"type":"match","data":{"path":{"text":"./src/b.cpp"},"line_number":3,"lines":{"text":"foo();\n"}}}
not json at all
{"type":"match","data":{"path":{"text":""},"line_number":1,"lines":{"text":"x"}}}
{"type":"match","data":{"path":{"text":"/abs/c.cpp"},"line_number":7,"lines":{"text":"foo()\n"}}}
{"type":"end","data":{"path":{"text":"src/a.cpp"}}}
`

func TestParseHits(t *testing.T) {
	hits := ParseHits([]byte(sampleRgOutput), "/ws/repoA", 0)
	require.Len(t, hits, 3, "only match records with a path count")

	assert.Equal(t, "/ws/repoA/src/a.cpp", hits[0].Path)
	assert.Equal(t, 10, hits[0].LineNumber)
	assert.Equal(t, "void foo() {}", hits[0].LineText)
	assert.Equal(t, "/ws/repoA/src/b.cpp", hits[1].Path, "./ prefix is stripped")
	assert.Equal(t, "/abs/c.cpp", hits[2].Path, "absolute paths pass through")
}

func TestParseHitsCap(t *testing.T) {
	hits := ParseHits([]byte(sampleRgOutput), "/ws", 1)
	assert.Len(t, hits, 1)
}

func fakeEngine(output string, exitCode int, err error) *Engine {
	e := New("rg", []string{"*.cpp"}, time.Second)
	e.run = func(ctx context.Context, args []string, dir string) ([]byte, int, error) {
		return []byte(output), exitCode, err
	}
	return e
}

func TestSearchProjectsHits(t *testing.T) {
	e := fakeEngine(sampleRgOutput, 0, nil)
	hits, err := e.Search(context.Background(), `\bfoo\b`, "/ws/repoA", 5, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestSearchNoMatchesIsNotAnError(t *testing.T) {
	e := fakeEngine("", 1, nil)
	hits, err := e.Search(context.Background(), `\bfoo\b`, "/ws", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchFailuresAreErrors(t *testing.T) {
	e := fakeEngine("", 2, nil)
	_, err := e.Search(context.Background(), `\bfoo\b`, "/ws", 5, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited 2")

	e = fakeEngine("", -1, errors.New("binary not found"))
	_, err = e.Search(context.Background(), `\bfoo\b`, "/ws", 5, 0)
	require.Error(t, err)
}

func TestSearchEmptyPattern(t *testing.T) {
	e := fakeEngine(sampleRgOutput, 0, nil)
	hits, err := e.Search(context.Background(), "", "/ws", 5, 0)
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestSearchPassesGlobArgs(t *testing.T) {
	var captured []string
	e := New("rg", []string{"*.cpp", "*.h"}, time.Second)
	e.run = func(ctx context.Context, args []string, dir string) ([]byte, int, error) {
		captured = args
		return nil, 1, nil
	}
	_, err := e.Search(context.Background(), `\bfoo\b`, "/ws", 3, 0)
	require.NoError(t, err)

	joined := strings.Join(captured, " ")
	assert.Contains(t, joined, "--json")
	assert.Contains(t, joined, "--max-count 3")
	assert.Contains(t, joined, "--type-add cxx:*.cpp")
	assert.Contains(t, joined, "--type-add cxx:*.h")
	assert.Contains(t, joined, "--type cxx")
}

func TestVersion(t *testing.T) {
	e := fakeEngine("ripgrep 14.1.0 (rev abc)\nfeatures: +pcre2", 0, nil)
	version, ok := e.Version(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "14.1.0", version)

	e = fakeEngine("", -1, errors.New("no binary"))
	_, ok = e.Version(context.Background())
	assert.False(t, ok)
}
