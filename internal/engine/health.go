package engine

import (
	"context"
	"os/exec"
	"time"

	"cxxtract/internal/store"
)

// Version is the build version, overridden at link time.
var Version = "dev"

// HealthReport is the status surface: one snapshot of every moving part.
type HealthReport struct {
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Store         store.MetricsReport `json:"store"`

	RgAvailable        bool   `json:"rg_available"`
	RgVersion          string `json:"rg_version,omitempty"`
	ExtractorAvailable bool   `json:"extractor_available"`

	WriterQueueDepth int   `json:"writer_queue_depth"`
	WriterLagMS      int64 `json:"writer_lag_ms"`
	WriterDropped    int64 `json:"writer_dropped"`
	WriterPersisted  int64 `json:"writer_persisted"`
}

// Health assembles the report. Probes degrade rather than fail: a missing
// binary is reported, not an error.
func (e *Engine) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Version:       Version,
		UptimeSeconds: int64(time.Since(e.started).Seconds()),
		Store:         e.store.Metrics(ctx),

		WriterQueueDepth: e.writer.QueueDepth(),
		WriterLagMS:      e.writer.LagMS(),
		WriterDropped:    e.writer.Dropped(),
		WriterPersisted:  e.writer.Persisted(),
	}
	report.RgVersion, report.RgAvailable = e.recall.Version(ctx)
	_, err := exec.LookPath(e.cfg.ExtractorBinary)
	report.ExtractorAvailable = err == nil
	return report
}
