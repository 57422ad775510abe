package models

import "time"

// Stats aggregates event counts over a trailing window.
type Stats struct {
	TotalEvents      int64     `json:"total_events"`
	UniqueApps       int64     `json:"unique_apps"`
	UniqueSessions   int64     `json:"unique_sessions"`
	UniqueEventTypes int64     `json:"unique_event_types"`
	ErrorCount       int64     `json:"error_count"`
	WarningCount     int64     `json:"warning_count"`
	AvgDuration      *float64  `json:"avg_duration"`
	Since            time.Time `json:"since"`
}

// ErrorRate returns the fraction of error events in the window.
func (s *Stats) ErrorRate() float64 {
	if s == nil || s.TotalEvents == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.TotalEvents)
}

// AppPerformance is the per-application activity summary.
type AppPerformance struct {
	App             string   `json:"app"`
	EventCount      int64    `json:"event_count"`
	ErrorCount      int64    `json:"error_count"`
	AvgResponseTime *float64 `json:"avg_response_time"`
	ActiveSessions  int64    `json:"active_sessions"`
}

// HourlyBucket is the event and error count for one app in one hour.
type HourlyBucket struct {
	App        string    `json:"app"`
	Hour       time.Time `json:"hour"`
	EventCount int64     `json:"event_count"`
	ErrorCount int64     `json:"error_count"`
}

// Anomaly classification labels.
const (
	AnomalySpike      = "spike"
	AnomalyDrop       = "drop"
	AnomalyErrorSpike = "error_spike"
	AnomalyNormal     = "normal"
)

// Anomaly is an hourly bucket that deviates from the app's trailing baseline.
type Anomaly struct {
	App         string    `json:"app"`
	Hour        time.Time `json:"hour"`
	EventCount  int64     `json:"event_count"`
	ErrorCount  int64     `json:"error_count"`
	AvgEvents   float64   `json:"avg_events"`
	AvgErrors   float64   `json:"avg_errors"`
	AnomalyType string    `json:"anomaly_type"`
}

// AnalyticsReport is the body of GET /analytics.
type AnalyticsReport struct {
	Overview    *Stats           `json:"overview"`
	Performance []AppPerformance `json:"performance"`
	Anomalies   []Anomaly        `json:"anomalies"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// StoreCounts is the row count snapshot reported by /health.
type StoreCounts struct {
	Events       int64 `json:"events"`
	Traces       int64 `json:"traces"`
	Alerts       int64 `json:"alerts"`
	ActiveAlerts int64 `json:"active_alerts"`
}

// RetentionPolicy carries the cutoffs applied by a retention sweep.
type RetentionPolicy struct {
	EventsBefore         time.Time
	TracesBefore         time.Time
	ResolveAlertsBefore  time.Time
	ResolvedAlertsBefore time.Time
}

// PruneResult reports how many rows a sweep touched.
type PruneResult struct {
	EventsDeleted  int64 `json:"events_deleted"`
	TracesDeleted  int64 `json:"traces_deleted"`
	AlertsResolved int64 `json:"alerts_resolved"`
	AlertsDeleted  int64 `json:"alerts_deleted"`
}
