package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/your-username/agent-observability/backend/internal/models"
)

const eventColumns = `id, timestamp, app, session_id, event_type, summary, payload,
	trace_id, span_id, parent_span_id, severity, tags, created_at`

const insertEventQuery = `
	INSERT INTO events (timestamp, app, session_id, event_type, summary, payload,
		trace_id, span_id, parent_span_id, severity, tags, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertEvent validates and persists an event, returning its assigned id.
// Severity, session and timestamp defaults are filled in when absent.
func (db *DB) InsertEvent(ctx context.Context, e *models.Event) (int64, error) {
	if strings.TrimSpace(e.App) == "" {
		return 0, &models.ValidationError{Field: "app", Reason: "is required"}
	}
	if strings.TrimSpace(e.EventType) == "" {
		return 0, &models.ValidationError{Field: "event_type", Reason: "is required"}
	}
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return 0, &models.ValidationError{Field: "payload", Reason: "is required"}
	}
	if !json.Valid(e.Payload) {
		return 0, &models.ValidationError{Field: "payload", Reason: "must be valid JSON"}
	}
	if len(e.Tags) > 0 && !json.Valid(e.Tags) {
		return 0, &models.ValidationError{Field: "tags", Reason: "must be valid JSON"}
	}

	now := db.now().UTC()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.SessionID == "" {
		e.SessionID = models.DefaultSessionID
	}
	e.Severity = models.SeverityFor(e.EventType)
	e.CreatedAt = now

	res, err := db.db.ExecContext(ctx, insertEventQuery,
		toMillis(e.Timestamp),
		e.App,
		e.SessionID,
		e.EventType,
		nullString(e.Summary),
		string(e.Payload),
		nullString(e.TraceID),
		nullString(e.SpanID),
		nullString(e.ParentSpanID),
		e.Severity,
		nullBytes(e.Tags),
		toMillis(e.CreatedAt),
	)
	if err != nil {
		return 0, &models.StorageError{Op: "insert event", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, &models.StorageError{Op: "insert event id", Err: err}
	}
	e.ID = id
	return id, nil
}

// QueryEvents returns events matching every populated filter field, newest first.
// The limit is clamped to the configured maximum.
func (db *DB) QueryEvents(ctx context.Context, f models.EventFilter) ([]models.Event, error) {
	var (
		where []string
		args  []any
	)

	if f.ID > 0 {
		where = append(where, "id = ?")
		args = append(args, f.ID)
	}
	if f.App != "" {
		where = append(where, "app = ?")
		args = append(args, f.App)
	}
	if f.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.MinSeverity > 0 {
		where = append(where, "severity >= ?")
		args = append(args, f.MinSeverity)
	}
	if f.TraceID != "" {
		where = append(where, "trace_id = ?")
		args = append(args, f.TraceID)
	}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if !f.StartTime.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, toMillis(f.StartTime))
	}
	if !f.EndTime.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, toMillis(f.EndTime))
	}
	if f.Search != "" {
		pattern := "%" + escapeLike(f.Search) + "%"
		where = append(where, `(summary LIKE ? ESCAPE '\' OR payload LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	q := "SELECT " + eventColumns + " FROM events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, db.clampLimit(f.Limit))

	return db.selectEvents(ctx, "query events", q, args...)
}

// RecentEvents returns the newest n events.
func (db *DB) RecentEvents(ctx context.Context, n int) ([]models.Event, error) {
	return db.QueryEvents(ctx, models.EventFilter{Limit: n})
}

// GetEvent returns a single event by id.
func (db *DB) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	row := db.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM events WHERE id = ?", id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.StorageError{Op: "get event", Err: err}
	}
	return e, nil
}

// GetTraceEvents returns the causal timeline of a trace, oldest first.
func (db *DB) GetTraceEvents(ctx context.Context, traceID string) ([]models.Event, error) {
	q := "SELECT " + eventColumns + " FROM events WHERE trace_id = ? ORDER BY timestamp ASC, id ASC"
	return db.selectEvents(ctx, "trace events", q, traceID)
}

// CountEventsSince counts events whose timestamp is at or after since.
func (db *DB) CountEventsSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := db.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE timestamp >= ?", toMillis(since)).Scan(&n)
	if err != nil {
		return 0, &models.StorageError{Op: "count events", Err: err}
	}
	return n, nil
}

func (db *DB) selectEvents(ctx context.Context, op, q string, args ...any) ([]models.Event, error) {
	rows, err := db.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &models.StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, &models.StorageError{Op: op, Err: err}
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: op, Err: err}
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		e                        models.Event
		ts, created              int64
		summary, traceID, spanID sql.NullString
		parentSpanID, tags       sql.NullString
		payload                  string
	)
	if err := row.Scan(&e.ID, &ts, &e.App, &e.SessionID, &e.EventType, &summary, &payload,
		&traceID, &spanID, &parentSpanID, &e.Severity, &tags, &created); err != nil {
		return nil, err
	}

	e.Timestamp = fromMillis(ts)
	e.CreatedAt = fromMillis(created)
	e.Summary = summary.String
	e.TraceID = traceID.String
	e.SpanID = spanID.String
	e.ParentSpanID = parentSpanID.String
	e.Payload = rawJSON(payload)
	if tags.Valid && tags.String != "" {
		e.Tags = rawJSON(tags.String)
	}
	return &e, nil
}

// rawJSON returns stored text as JSON, quoting it when it is not valid JSON.
func rawJSON(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return quoted
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
