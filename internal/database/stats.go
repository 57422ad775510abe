package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/your-username/agent-observability/backend/internal/models"
)

const (
	DefaultStatsWindow       = 24 * time.Hour
	DefaultPerformanceWindow = time.Hour
)

// durationExpr pulls a millisecond duration out of the payload using the same
// key order as models.Event.PayloadDuration. Keys holding anything but a
// number are skipped.
const durationExpr = `CASE WHEN json_valid(payload) AND json_type(payload) = 'object' THEN COALESCE(
	CASE WHEN json_type(payload, '$.response_time') IN ('integer', 'real') THEN json_extract(payload, '$.response_time') END,
	CASE WHEN json_type(payload, '$.duration_ms') IN ('integer', 'real') THEN json_extract(payload, '$.duration_ms') END,
	CASE WHEN json_type(payload, '$.duration') IN ('integer', 'real') THEN json_extract(payload, '$.duration') END) END`

// GetStats aggregates events whose timestamp falls within the trailing window.
func (db *DB) GetStats(ctx context.Context, window time.Duration) (*models.Stats, error) {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	since := db.now().UTC().Add(-window)

	q := `
		SELECT
			COUNT(*),
			COUNT(DISTINCT app),
			COUNT(DISTINCT session_id),
			COUNT(DISTINCT event_type),
			COALESCE(SUM(CASE WHEN severity >= 3 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN severity = 2 THEN 1 ELSE 0 END), 0),
			AVG(` + durationExpr + `)
		FROM events
		WHERE timestamp >= ?
	`

	stats := models.Stats{Since: since}
	var avg sql.NullFloat64
	err := db.db.QueryRowContext(ctx, q, toMillis(since)).Scan(
		&stats.TotalEvents,
		&stats.UniqueApps,
		&stats.UniqueSessions,
		&stats.UniqueEventTypes,
		&stats.ErrorCount,
		&stats.WarningCount,
		&avg,
	)
	if err != nil {
		return nil, &models.StorageError{Op: "stats", Err: err}
	}
	if avg.Valid {
		stats.AvgDuration = &avg.Float64
	}
	return &stats, nil
}

// GetPerformanceByApp summarises per-app activity over the trailing window,
// busiest app first.
func (db *DB) GetPerformanceByApp(ctx context.Context, window time.Duration) ([]models.AppPerformance, error) {
	if window <= 0 {
		window = DefaultPerformanceWindow
	}
	since := db.now().UTC().Add(-window)

	q := `
		SELECT
			app,
			COUNT(*) AS event_count,
			COALESCE(SUM(CASE WHEN severity >= 3 THEN 1 ELSE 0 END), 0),
			AVG(` + durationExpr + `),
			COUNT(DISTINCT session_id)
		FROM events
		WHERE timestamp >= ?
		GROUP BY app
		ORDER BY event_count DESC, app ASC
	`

	rows, err := db.db.QueryContext(ctx, q, toMillis(since))
	if err != nil {
		return nil, &models.StorageError{Op: "performance", Err: err}
	}
	defer rows.Close()

	perf := make([]models.AppPerformance, 0)
	for rows.Next() {
		var (
			p   models.AppPerformance
			avg sql.NullFloat64
		)
		if err := rows.Scan(&p.App, &p.EventCount, &p.ErrorCount, &avg, &p.ActiveSessions); err != nil {
			return nil, &models.StorageError{Op: "performance", Err: err}
		}
		if avg.Valid {
			v := avg.Float64
			p.AvgResponseTime = &v
		}
		perf = append(perf, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "performance", Err: err}
	}
	return perf, nil
}

// HourlyBuckets returns per-app event and error counts grouped by hour for
// events at or after since. Hours with no events are not returned.
func (db *DB) HourlyBuckets(ctx context.Context, since time.Time) ([]models.HourlyBucket, error) {
	q := `
		SELECT
			app,
			timestamp / 3600000 AS hour,
			COUNT(*),
			COALESCE(SUM(CASE WHEN severity >= 3 THEN 1 ELSE 0 END), 0)
		FROM events
		WHERE timestamp >= ?
		GROUP BY app, hour
		ORDER BY app ASC, hour ASC
	`

	rows, err := db.db.QueryContext(ctx, q, toMillis(since))
	if err != nil {
		return nil, &models.StorageError{Op: "hourly buckets", Err: err}
	}
	defer rows.Close()

	buckets := make([]models.HourlyBucket, 0)
	for rows.Next() {
		var (
			b    models.HourlyBucket
			hour int64
		)
		if err := rows.Scan(&b.App, &hour, &b.EventCount, &b.ErrorCount); err != nil {
			return nil, &models.StorageError{Op: "hourly buckets", Err: err}
		}
		b.Hour = fromMillis(hour * int64(time.Hour/time.Millisecond))
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "hourly buckets", Err: err}
	}
	return buckets, nil
}
