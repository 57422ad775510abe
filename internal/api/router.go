package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/your-username/agent-observability/backend/internal/config"
	"github.com/your-username/agent-observability/backend/internal/export"
	"github.com/your-username/agent-observability/backend/internal/ingestion"
	"github.com/your-username/agent-observability/backend/internal/monitoring"
)

const (
	maxJSONBodyBytes = 1 << 20
	requestTimeout   = 60 * time.Second
)

// Store is everything the gateway reads from the event store directly.
type Store interface {
	EventReader
	AlertStore
	export.EventSource
}

// Dependencies are the components the router serves. Rules may be nil when
// alerting is disabled and Errors when error grouping is off.
type Dependencies struct {
	Auth      config.AuthConfig
	Store     Store
	Ingest    *ingestion.HTTPHandler
	Traces    TraceService
	Analytics AnalyticsSource
	Queries   QueryService
	Rules     RuleSource
	Errors    ErrorGroupSource
	Health    *monitoring.HealthMonitor
	Metrics   *monitoring.Metrics
	Realtime  http.HandlerFunc
}

// NewRouter wires the HTTP gateway.
func NewRouter(d Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:     []string{"Content-Disposition", "X-Export-Rows"},
		MaxAge:             300,
		OptionsPassthrough: true,
	}))
	r.Use(optionsShortCircuit)

	r.Get("/health", HealthCheck(d.Health))

	r.Group(func(r chi.Router) {
		if d.Auth.Enabled {
			r.Use(NewAuthenticator(d.Auth).Middleware)
		}

		if d.Realtime != nil {
			r.Get("/ws", d.Realtime)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Get("/metrics", PrometheusMetrics(d.Metrics))

			events := NewEventHandler(d.Store)
			exports := NewExportHandler(export.NewExporter(d.Store))
			r.Route("/events", func(r chi.Router) {
				r.Post("/", d.Ingest.IngestEvent())
				r.Post("/bulk", d.Ingest.BulkIngest())
				r.Get("/", events.QueryEvents)
				r.Get("/export", exports.ExportEvents)
				r.Get("/{eventID}", events.GetEvent)
			})
			r.Get("/export/formats", exports.GetExportFormats)

			r.Get("/analytics", GetAnalytics(d.Analytics))
			r.Get("/analytics/anomalies", GetAnomalies(d.Analytics))
			if d.Errors != nil {
				r.Get("/analytics/errors", GetErrorGroups(d.Errors))
			}

			traces := NewTraceHandler(d.Traces)
			r.Route("/traces", func(r chi.Router) {
				r.Get("/", traces.GetTraces)
				r.Post("/", traces.StartTrace)
				r.Get("/{traceID}", traces.GetTrace)
				r.Post("/{traceID}/finish", traces.FinishTrace)
			})

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", GetAlerts(d.Store))
				if d.Rules != nil {
					r.Get("/rules", GetAlertRules(d.Rules))
				}
				r.Post("/{alertID}/resolve", ResolveAlert(d.Store))
			})

			r.Route("/query", func(r chi.Router) {
				r.Get("/fields", GetAvailableFields())
				r.Post("/sql", GenerateSQL(d.Queries))
				r.Post("/", ExecuteQuery(d.Queries))
			})
		})
	})

	return r
}

// optionsShortCircuit answers every OPTIONS request with the CORS headers
// already set and no body.
func optionsShortCircuit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
