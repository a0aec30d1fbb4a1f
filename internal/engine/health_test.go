package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthReport(t *testing.T) {
	env := setupEnv(t)

	report := env.eng.Health(context.Background())
	assert.Equal(t, Version, report.Version)
	assert.True(t, report.RgAvailable, "stub rg answers --version")
	assert.Equal(t, "14.1.0", report.RgVersion)
	assert.True(t, report.ExtractorAvailable)
	assert.Zero(t, report.WriterQueueDepth)
	assert.NotZero(t, report.Store.SchemaVersion)
}
