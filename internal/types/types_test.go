package types

import "testing"

func TestFileKeyRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		repoID  string
		relPath string
		want    string
	}{
		{"forward slashes", "core", "src/a.cpp", "core:src/a.cpp"},
		{"backslashes normalized", "core", `src\win\a.cpp`, "core:src/win/a.cpp"},
		{"nested path", "third_party", "abseil/strings/str_cat.h", "third_party:abseil/strings/str_cat.h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FileKey(tt.repoID, tt.relPath)
			if got != tt.want {
				t.Errorf("FileKey(%q, %q) = %q, want %q", tt.repoID, tt.relPath, got, tt.want)
			}
			repo, rel, ok := SplitFileKey(got)
			if !ok {
				t.Fatalf("SplitFileKey(%q) not ok", got)
			}
			if repo != tt.repoID {
				t.Errorf("repo = %q, want %q", repo, tt.repoID)
			}
			if rel != got[len(repo)+1:] {
				t.Errorf("rel = %q, want %q", rel, got[len(repo)+1:])
			}
		})
	}
}

func TestSplitFileKeyMalformed(t *testing.T) {
	for _, key := range []string{"", "nocolon", ":leading"} {
		if _, _, ok := SplitFileKey(key); ok {
			t.Errorf("SplitFileKey(%q) = ok, want malformed", key)
		}
	}
	// A colon inside the rel path belongs to the path, not the separator.
	repo, rel, ok := SplitFileKey("repo:a:b")
	if !ok || repo != "repo" || rel != "a:b" {
		t.Errorf("SplitFileKey(repo:a:b) = (%q, %q, %v)", repo, rel, ok)
	}
}

func TestRepoOfFileKey(t *testing.T) {
	if got := RepoOfFileKey("core:src/a.cpp"); got != "core" {
		t.Errorf("RepoOfFileKey = %q, want core", got)
	}
	if got := RepoOfFileKey("garbage"); got != "unknown" {
		t.Errorf("RepoOfFileKey malformed = %q, want unknown", got)
	}
}

func TestValidationError(t *testing.T) {
	err := Validationf(KindWorkspaceNotFound, "Workspace not found: %s", "ws1")
	if err.Kind != KindWorkspaceNotFound {
		t.Errorf("Kind = %q", err.Kind)
	}
	want := "workspace_not_found: Workspace not found: ws1"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestFactRowCount(t *testing.T) {
	p := &ParsePayload{
		Output: ExtractorOutput{
			Symbols:    []ExtractedSymbol{{Name: "foo"}, {Name: "bar"}},
			References: []ExtractedReference{{Symbol: "foo"}},
			CallEdges:  []ExtractedCallEdge{{Caller: "a", Callee: "b"}},
		},
		ResolvedIncludeDeps: []ResolvedIncludeDep{{RawPath: "x.h"}, {RawPath: "y.h"}, {RawPath: "z.h"}},
	}
	if got := p.FactRowCount(); got != 7 {
		t.Errorf("FactRowCount = %d, want 7", got)
	}
}

func TestRound4(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{2.0 / 3.0, 0.6667},
		{1.0, 1.0},
		{0.0, 0.0},
		{0.12344, 0.1234},
		{0.12346, 0.1235},
	}
	for _, tt := range tests {
		if got := Round4(tt.in); got != tt.want {
			t.Errorf("Round4(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
