package store

import (
	"context"
	"database/sql"

	"cxxtract/internal/logging"
)

// MetricsReport is a point-in-time snapshot of store health, assembled for
// the status surface.
type MetricsReport struct {
	TrackedFiles        int     `json:"tracked_files"`
	Symbols             int     `json:"symbols"`
	ActiveContexts      int     `json:"active_contexts"`
	DiskUsageBytes      int64   `json:"disk_usage_bytes"`
	IndexQueueDepth     int     `json:"index_queue_depth"`
	OldestPendingJobAge float64 `json:"oldest_pending_job_age_s"`
	SyncQueueDepth      int     `json:"sync_queue_depth"`
	RunningSyncJobs     int     `json:"running_sync_jobs"`
	SyncFailuresLastHr  int     `json:"sync_failures_last_hour"`
	VectorReady         bool    `json:"vector_ready"`
	SchemaVersion       int     `json:"schema_version"`
}

// Metrics assembles the report. Individual probe failures degrade to zero
// values; metrics never fail a status call.
func (s *Store) Metrics(ctx context.Context) MetricsReport {
	timer := logging.StartTimer(logging.CategoryStore, "Metrics")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var r MetricsReport
	r.VectorReady = s.vectorReady
	r.DiskUsageBytes = s.FileSizeBytes()
	_ = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&r.SchemaVersion)

	count := func(query string, args ...interface{}) int {
		var n int
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			logging.StoreDebug("metrics probe failed: %v", err)
			return 0
		}
		return n
	}
	r.TrackedFiles = count("SELECT COUNT(*) FROM tracked_files")
	r.Symbols = count("SELECT COUNT(*) FROM symbols")
	r.ActiveContexts = count("SELECT COUNT(*) FROM analysis_contexts WHERE status = 'active'")
	r.IndexQueueDepth = count("SELECT COUNT(*) FROM index_jobs WHERE status = 'pending'")
	r.SyncQueueDepth = count("SELECT COUNT(*) FROM repo_sync_jobs WHERE status = 'pending'")
	r.RunningSyncJobs = count("SELECT COUNT(*) FROM repo_sync_jobs WHERE status = 'running'")
	r.SyncFailuresLastHr = count(`
		SELECT COUNT(*) FROM repo_sync_jobs
		WHERE status IN ('failed', 'dead_letter') AND updated_at > datetime('now', '-1 hour')`)

	// julianday delta is in days; convert to seconds.
	var age sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `
		SELECT (julianday('now') - julianday(MIN(created_at))) * 86400.0
		FROM index_jobs WHERE status = 'pending'`).Scan(&age); err == nil && age.Valid {
		r.OldestPendingJobAge = age.Float64
	}
	return r
}
