package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cxxtract/internal/types"
)

func TestBuildEnvelopeMath(t *testing.T) {
	env := buildEnvelope(
		[]string{"repoA:a.cpp", "repoA:b.cpp", "repoB:x.cpp"},
		[]string{"repoA:c.cpp"},
		[]string{"repoB:y.cpp", "garbage"},
		[]string{"w1"},
		types.OverlaySparse,
	)

	assert.Equal(t, 6, env.TotalCandidates)
	assert.InDelta(t, types.Round4(3.0/6.0), env.VerifiedRatio, 0.00001)
	assert.InDelta(t, types.Round4(2.0/3.0), env.RepoCoverage["repoA"], 0.00001)
	assert.InDelta(t, 0.5, env.RepoCoverage["repoB"], 0.00001)
	assert.InDelta(t, 0.0, env.RepoCoverage["unknown"], 0.00001, "malformed keys bucket under unknown")

	// Coverage numerators must sum to the verified count.
	sum := 0.0
	for repo, ratio := range env.RepoCoverage {
		total := 0
		for _, k := range append(append(append([]string{}, env.VerifiedFiles...), env.StaleFiles...), env.UnparsedFiles...) {
			if types.RepoOfFileKey(k) == repo {
				total++
			}
		}
		sum += ratio * float64(total)
	}
	assert.InDelta(t, float64(len(env.VerifiedFiles)), sum, 0.01)
}

func TestBuildEnvelopeEmpty(t *testing.T) {
	env := buildEnvelope(nil, nil, nil, nil, types.OverlaySparse)
	assert.Zero(t, env.TotalCandidates)
	assert.Zero(t, env.VerifiedRatio, "ratio is 0, not NaN, on an empty candidate set")
	assert.Empty(t, env.RepoCoverage)
}

func TestApplyCap(t *testing.T) {
	var reasons []string
	assert.Equal(t, 100, applyCap(100, 5000, "rg_hits", &reasons))
	assert.Empty(t, reasons)

	assert.Equal(t, 5000, applyCap(999999, 5000, "rg_hits", &reasons))
	assert.Equal(t, []string{"rg_hits_capped"}, reasons)

	reasons = nil
	assert.Equal(t, 1, applyCap(0, 5000, "fetch", &reasons), "zero and negative clamp to 1")
	assert.Equal(t, 1, applyCap(-3, 5000, "fetch", &reasons))
	assert.Empty(t, reasons)
}

func TestMergeWarnings(t *testing.T) {
	got := mergeWarnings([]string{"b", "a"}, []string{"a", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
