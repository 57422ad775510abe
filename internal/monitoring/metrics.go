package monitoring

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "telemetry"

// Metrics holds the process-lifetime counters shared by every component.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	eventsReceived   prometheus.Counter
	eventsRejected   *prometheus.CounterVec
	ingestDuration   prometheus.Histogram
	alertsTriggered  *prometheus.CounterVec
	webhookDispatch  *prometheus.CounterVec
	tracesStarted    prometheus.Counter
	tracesFinished   *prometheus.CounterVec
	wsConnections    prometheus.Gauge
	wsMessagesSent   prometheus.Counter
	wsMessagesDrop   prometheus.Counter
	queriesExecuted  *prometheus.CounterVec
	queryDuration    prometheus.Histogram
	retentionDeleted *prometheus.CounterVec
	retentionRuns    *prometheus.CounterVec
}

// NewMetrics registers every collector on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total number of events persisted.",
		}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Total number of events rejected by reason.",
		}, []string{"reason"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent ingesting a single event.",
			Buckets:   prometheus.DefBuckets,
		}),
		alertsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_triggered_total",
			Help:      "Total number of alerts recorded by condition.",
		}, []string{"condition"}),
		webhookDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_dispatch_total",
			Help:      "Outbound alert notifications by result.",
		}, []string{"result"}),
		tracesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_started_total",
			Help:      "Total number of traces created.",
		}),
		tracesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_finished_total",
			Help:      "Total number of traces finished by status.",
		}, []string{"status"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Currently connected realtime subscribers.",
		}),
		wsMessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_sent_total",
			Help:      "Messages queued to realtime subscribers.",
		}),
		wsMessagesDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_dropped_total",
			Help:      "Messages dropped because a subscriber buffer was full.",
		}),
		queriesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_executed_total",
			Help:      "Ad-hoc realtime queries by result.",
		}, []string{"result"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of event store reads served over HTTP and realtime queries.",
			Buckets:   prometheus.DefBuckets,
		}),
		retentionDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_rows_total",
			Help:      "Rows removed or resolved by retention sweeps.",
		}, []string{"kind"}),
		retentionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_runs_total",
			Help:      "Retention sweeps by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsReceived,
		m.eventsRejected,
		m.ingestDuration,
		m.alertsTriggered,
		m.webhookDispatch,
		m.tracesStarted,
		m.tracesFinished,
		m.wsConnections,
		m.wsMessagesSent,
		m.wsMessagesDrop,
		m.queriesExecuted,
		m.queryDuration,
		m.retentionDeleted,
		m.retentionRuns,
	)

	// Pre-create label values so they show up at /metrics before the first increment.
	for _, c := range []string{"error_rate", "event_rate", "response_time"} {
		m.alertsTriggered.WithLabelValues(c)
	}
	for _, r := range []string{"sent", "failed"} {
		m.webhookDispatch.WithLabelValues(r)
	}

	return m
}

// Registry exposes the underlying registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordEvent(d time.Duration) {
	if m == nil {
		return
	}
	m.eventsReceived.Inc()
	m.ingestDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.eventsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordAlert(condition string) {
	if m == nil {
		return
	}
	m.alertsTriggered.WithLabelValues(condition).Inc()
}

func (m *Metrics) RecordWebhook(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.webhookDispatch.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordTraceStarted() {
	if m == nil {
		return
	}
	m.tracesStarted.Inc()
}

func (m *Metrics) RecordTraceFinished(status string) {
	if m == nil {
		return
	}
	m.tracesFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}

func (m *Metrics) RecordMessageSent() {
	if m == nil {
		return
	}
	m.wsMessagesSent.Inc()
}

func (m *Metrics) RecordMessageDropped() {
	if m == nil {
		return
	}
	m.wsMessagesDrop.Inc()
}

func (m *Metrics) RecordQuery(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "rejected"
	}
	m.queriesExecuted.WithLabelValues(result).Inc()
	m.queryDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordRetention(ok bool, events, traces, resolved, alerts int64) {
	if m == nil {
		return
	}
	if !ok {
		m.retentionRuns.WithLabelValues("failed").Inc()
		return
	}
	m.retentionRuns.WithLabelValues("ok").Inc()
	m.retentionDeleted.WithLabelValues("events").Add(float64(events))
	m.retentionDeleted.WithLabelValues("traces").Add(float64(traces))
	m.retentionDeleted.WithLabelValues("alerts_resolved").Add(float64(resolved))
	m.retentionDeleted.WithLabelValues("alerts").Add(float64(alerts))
}

// Snapshot flattens the service's own metric families into name -> value,
// summing across label values. Histograms report their sample count and sum.
func (m *Metrics) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	if m == nil {
		return out
	}

	families, err := m.registry.Gather()
	if err != nil {
		return out
	}

	prefix := namespace + "_"
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		name = strings.TrimPrefix(name, prefix)

		for _, metric := range mf.GetMetric() {
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[name] += metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[name] += metric.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				h := metric.GetHistogram()
				out[name+"_count"] += float64(h.GetSampleCount())
				out[name+"_sum"] += h.GetSampleSum()
			}
		}
	}
	return out
}
