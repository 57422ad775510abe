package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/your-username/agent-observability/backend/internal/models"
)

const alertColumns = `id, rule_name, condition_type, condition_value, triggered_at, resolved_at, status, event_id, webhook_sent`

// InsertAlert persists a triggered alert and assigns its id.
func (db *DB) InsertAlert(ctx context.Context, a *models.Alert) (int64, error) {
	if a.TriggeredAt.IsZero() {
		a.TriggeredAt = db.now().UTC()
	}
	if a.Status == "" {
		a.Status = models.AlertStatusActive
	}
	value := string(a.ConditionValue)
	if value == "" {
		value = "{}"
	}

	var eventID sql.NullInt64
	if a.EventID > 0 {
		eventID = sql.NullInt64{Int64: a.EventID, Valid: true}
	}

	res, err := db.db.ExecContext(ctx, `
		INSERT INTO alerts (rule_name, condition_type, condition_value, triggered_at, status, event_id, webhook_sent)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.RuleName, string(a.ConditionType), value, toMillis(a.TriggeredAt), string(a.Status), eventID, a.WebhookSent)
	if err != nil {
		return 0, &models.StorageError{Op: "insert alert", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, &models.StorageError{Op: "insert alert id", Err: err}
	}
	a.ID = id
	return id, nil
}

// MarkWebhookSent records a successful notification for an alert.
func (db *DB) MarkWebhookSent(ctx context.Context, id int64) error {
	if _, err := db.db.ExecContext(ctx, "UPDATE alerts SET webhook_sent = 1 WHERE id = ?", id); err != nil {
		return &models.StorageError{Op: "mark webhook sent", Err: err}
	}
	return nil
}

// ResolveAlert moves an active alert to resolved. Resolving an already resolved
// alert leaves its resolved_at untouched.
func (db *DB) ResolveAlert(ctx context.Context, id int64) (*models.Alert, error) {
	now := db.now().UTC()
	_, err := db.db.ExecContext(ctx,
		"UPDATE alerts SET status = 'resolved', resolved_at = ? WHERE id = ? AND status = 'active'",
		toMillis(now), id)
	if err != nil {
		return nil, &models.StorageError{Op: "resolve alert", Err: err}
	}
	return db.GetAlert(ctx, id)
}

// GetAlert returns a single alert or ErrNotFound.
func (db *DB) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	row := db.db.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.StorageError{Op: "get alert", Err: err}
	}
	return a, nil
}

// ListAlerts returns alerts newest first, optionally restricted to one status.
func (db *DB) ListAlerts(ctx context.Context, status models.AlertStatus, limit int) ([]models.Alert, error) {
	q := "SELECT " + alertColumns + " FROM alerts"
	var args []any
	if status != "" {
		q += " WHERE status = ?"
		args = append(args, string(status))
	}
	q += " ORDER BY triggered_at DESC, id DESC LIMIT ?"
	args = append(args, db.clampLimit(limit))

	rows, err := db.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &models.StorageError{Op: "list alerts", Err: err}
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, &models.StorageError{Op: "list alerts", Err: err}
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list alerts", Err: err}
	}
	return alerts, nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a         models.Alert
		condition string
		status    string
		value     string
		triggered int64
		resolved  sql.NullInt64
		eventID   sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.RuleName, &condition, &value, &triggered, &resolved, &status, &eventID, &a.WebhookSent); err != nil {
		return nil, err
	}

	a.ConditionType = models.ConditionType(condition)
	a.Status = models.AlertStatus(status)
	a.ConditionValue = rawJSON(value)
	a.TriggeredAt = fromMillis(triggered)
	if resolved.Valid {
		r := fromMillis(resolved.Int64)
		a.ResolvedAt = &r
	}
	a.EventID = eventID.Int64
	return &a, nil
}

// resolveBefore bulk-resolves active alerts triggered before cutoff.
func resolveBefore(ctx context.Context, tx *sql.Tx, cutoff, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE alerts SET status = 'resolved', resolved_at = ? WHERE status = 'active' AND triggered_at < ?",
		toMillis(now), toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
