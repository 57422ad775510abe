package api

import (
	"net/http"

	"github.com/your-username/agent-observability/backend/internal/monitoring"
)

// PrometheusMetrics serves the metrics registry in the Prometheus text format.
func PrometheusMetrics(metrics *monitoring.Metrics) http.HandlerFunc {
	handler := metrics.Handler()
	return handler.ServeHTTP
}
