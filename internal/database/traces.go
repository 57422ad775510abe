package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/your-username/agent-observability/backend/internal/models"
)

const traceColumns = `trace_id, operation_name, service_name, start_time, end_time, duration, status, tags`

const defaultTraceListLimit = 100

// InsertTrace records a new trace. Inserting an id that already exists is a no-op.
func (db *DB) InsertTrace(ctx context.Context, t *models.Trace) error {
	if t.TraceID == "" {
		return &models.ValidationError{Field: "trace_id", Reason: "is required"}
	}
	if t.StartTime.IsZero() {
		t.StartTime = db.now().UTC()
	}
	if t.Status == "" {
		t.Status = models.TraceStatusActive
	}

	_, err := db.db.ExecContext(ctx, `
		INSERT INTO traces (trace_id, operation_name, service_name, start_time, status, tags)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (trace_id) DO NOTHING
	`, t.TraceID, t.OperationName, t.ServiceName, toMillis(t.StartTime), t.Status, nullBytes(t.Tags))
	if err != nil {
		return &models.StorageError{Op: "insert trace", Err: err}
	}
	return nil
}

// GetTrace returns the trace row or ErrNotFound.
func (db *DB) GetTrace(ctx context.Context, traceID string) (*models.Trace, error) {
	row := db.db.QueryRowContext(ctx, "SELECT "+traceColumns+" FROM traces WHERE trace_id = ?", traceID)
	t, err := scanTrace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.StorageError{Op: "get trace", Err: err}
	}
	return t, nil
}

// FinishTrace stamps end_time, duration and status on a trace.
// It returns ErrNotFound when the trace does not exist.
func (db *DB) FinishTrace(ctx context.Context, traceID, status string, endTime time.Time) (*models.Trace, error) {
	t, err := db.GetTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}
	if status == "" {
		status = models.TraceStatusCompleted
	}

	duration := endTime.Sub(t.StartTime).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	_, err = db.db.ExecContext(ctx,
		"UPDATE traces SET end_time = ?, duration = ?, status = ? WHERE trace_id = ?",
		toMillis(endTime), duration, status, traceID)
	if err != nil {
		return nil, &models.StorageError{Op: "finish trace", Err: err}
	}

	end := endTime.UTC()
	t.EndTime = &end
	t.Duration = &duration
	t.Status = status
	return t, nil
}

// ListTraces returns the most recently started traces.
func (db *DB) ListTraces(ctx context.Context, limit int) ([]models.Trace, error) {
	if limit <= 0 || limit > defaultTraceListLimit {
		limit = defaultTraceListLimit
	}

	rows, err := db.db.QueryContext(ctx,
		"SELECT "+traceColumns+" FROM traces ORDER BY start_time DESC LIMIT ?", limit)
	if err != nil {
		return nil, &models.StorageError{Op: "list traces", Err: err}
	}
	defer rows.Close()

	traces := make([]models.Trace, 0)
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, &models.StorageError{Op: "list traces", Err: err}
		}
		traces = append(traces, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list traces", Err: err}
	}
	return traces, nil
}

func scanTrace(row rowScanner) (*models.Trace, error) {
	var (
		t        models.Trace
		start    int64
		end, dur sql.NullInt64
		tags     sql.NullString
	)
	if err := row.Scan(&t.TraceID, &t.OperationName, &t.ServiceName, &start, &end, &dur, &t.Status, &tags); err != nil {
		return nil, err
	}

	t.StartTime = fromMillis(start)
	if end.Valid {
		e := fromMillis(end.Int64)
		t.EndTime = &e
	}
	if dur.Valid {
		d := dur.Int64
		t.Duration = &d
	}
	if tags.Valid && tags.String != "" {
		t.Tags = rawJSON(tags.String)
	}
	return &t, nil
}
