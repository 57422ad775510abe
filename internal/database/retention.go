package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/your-username/agent-observability/backend/internal/models"
)

// PruneExpired applies a retention policy in one transaction. Zero cutoffs
// skip the corresponding step.
func (db *DB) PruneExpired(ctx context.Context, p models.RetentionPolicy) (*models.PruneResult, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &models.StorageError{Op: "prune begin", Err: err}
	}
	defer tx.Rollback()

	var result models.PruneResult

	if !p.EventsBefore.IsZero() {
		res, err := tx.ExecContext(ctx, "DELETE FROM events WHERE created_at < ?", toMillis(p.EventsBefore))
		if err != nil {
			return nil, &models.StorageError{Op: "prune events", Err: err}
		}
		result.EventsDeleted, _ = res.RowsAffected()
	}

	if !p.TracesBefore.IsZero() {
		res, err := tx.ExecContext(ctx, "DELETE FROM traces WHERE start_time < ?", toMillis(p.TracesBefore))
		if err != nil {
			return nil, &models.StorageError{Op: "prune traces", Err: err}
		}
		result.TracesDeleted, _ = res.RowsAffected()
	}

	if !p.ResolveAlertsBefore.IsZero() {
		n, err := resolveBefore(ctx, tx, p.ResolveAlertsBefore, db.now().UTC())
		if err != nil {
			return nil, &models.StorageError{Op: "auto-resolve alerts", Err: err}
		}
		result.AlertsResolved = n
	}

	if !p.ResolvedAlertsBefore.IsZero() {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM alerts WHERE status = 'resolved' AND resolved_at < ?", toMillis(p.ResolvedAlertsBefore))
		if err != nil {
			return nil, &models.StorageError{Op: "prune alerts", Err: err}
		}
		result.AlertsDeleted, _ = res.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return nil, &models.StorageError{Op: "prune commit", Err: fmt.Errorf("commit: %w", err)}
	}

	log.Debug().
		Int64("events", result.EventsDeleted).
		Int64("traces", result.TracesDeleted).
		Int64("alerts_resolved", result.AlertsResolved).
		Int64("alerts_deleted", result.AlertsDeleted).
		Msg("Retention sweep applied")

	return &result, nil
}
