package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/your-username/agent-observability/backend/internal/models"
	"github.com/your-username/agent-observability/backend/internal/monitoring"
)

const healthTimeout = 5 * time.Second

// AlertStore is the alert read and resolve surface of the event store.
type AlertStore interface {
	ListAlerts(ctx context.Context, status models.AlertStatus, limit int) ([]models.Alert, error)
	ResolveAlert(ctx context.Context, id int64) (*models.Alert, error)
}

// RuleSource exposes the configured alert rules.
type RuleSource interface {
	Rules() []models.AlertRule
}

// GetAlerts returns alerts newest first, optionally filtered by status.
func GetAlerts(store AlertStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := models.AlertStatus(r.URL.Query().Get("status"))
		switch status {
		case "", models.AlertStatusActive, models.AlertStatusResolved:
		default:
			badRequest(w, "status", "must be active or resolved")
			return
		}

		limit, err := parseLimit(r.URL.Query())
		if err != nil {
			handleError(w, r, err)
			return
		}

		alerts, err := store.ListAlerts(r.Context(), status, limit)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, alerts)
	}
}

// ResolveAlert marks an alert resolved. Unknown ids are 404.
func ResolveAlert(store AlertStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "alertID"), 10, 64)
		if err != nil || id <= 0 {
			badRequest(w, "id", "must be a positive integer")
			return
		}

		alert, err := store.ResolveAlert(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"alert":   alert,
		})
	}
}

// GetAlertRules returns the rules evaluated on ingestion.
func GetAlertRules(rules RuleSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := rules.Rules()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"rules": list,
			"count": len(list),
		})
	}
}

// HealthCheck returns the health snapshot. A component that is down turns
// the response into a 503.
func HealthCheck(monitor *monitoring.HealthMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		health := monitor.GetHealth(ctx)
		status := http.StatusOK
		if health.Status == monitoring.HealthStatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	}
}
