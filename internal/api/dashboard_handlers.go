package api

import (
	"context"
	"net/http"

	"github.com/your-username/agent-observability/backend/internal/errorgroups"
	"github.com/your-username/agent-observability/backend/internal/models"
)

// AnalyticsSource computes the analytics report on demand.
type AnalyticsSource interface {
	Report(ctx context.Context) (*models.AnalyticsReport, error)
	Anomalies(ctx context.Context) ([]models.Anomaly, error)
}

// ErrorGroupSource reports the live failure groups.
type ErrorGroupSource interface {
	Groups() []errorgroups.Group
}

// GetAnalytics returns overview stats, per-app performance and anomalies.
func GetAnalytics(service AnalyticsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := service.Report(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// GetAnomalies returns only the anomalies of the last day.
func GetAnomalies(service AnalyticsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		anomalies, err := service.Anomalies(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"anomalies": anomalies,
			"count":     len(anomalies),
		})
	}
}

// GetErrorGroups returns failing events grouped by recognised pattern.
func GetErrorGroups(source ErrorGroupSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups := source.Groups()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"groups": groups,
			"count":  len(groups),
		})
	}
}
