package tracing

import (
	"context"
	"encoding/json"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-username/agent-observability/backend/internal/config"
	"github.com/your-username/agent-observability/backend/internal/database"
	"github.com/your-username/agent-observability/backend/internal/models"
	"github.com/your-username/agent-observability/backend/internal/monitoring"
)

var hexID = regexp.MustCompile(`^[0-9a-f]+$`)

func newManager(t *testing.T) (*TraceManager, *database.DB) {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{
		Path:              filepath.Join(t.TempDir(), "traces.db"),
		MaxEventsPerQuery: 1000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTraceManager(db, monitoring.NewMetrics()), db
}

func TestGenerateIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := GenerateTraceID()
		require.Len(t, id, 16)
		require.Regexp(t, hexID, id)
		require.False(t, seen[id], "duplicate trace id %s", id)
		seen[id] = true
	}

	span := GenerateSpanID()
	assert.Len(t, span, 8)
	assert.Regexp(t, hexID, span)
}

func TestTraceLifecycle(t *testing.T) {
	tm, _ := newManager(t)
	ctx := context.Background()

	tr, err := tm.StartTrace(ctx, "op", "svc", json.RawMessage(`{"team":"core"}`))
	require.NoError(t, err)
	assert.Len(t, tr.TraceID, 16)
	assert.Equal(t, models.TraceStatusActive, tr.Status)

	detail, err := tm.GetTrace(ctx, tr.TraceID)
	require.NoError(t, err)
	assert.Nil(t, detail.Trace.EndTime)
	assert.Empty(t, detail.Events)

	finished, err := tm.FinishTrace(ctx, tr.TraceID, models.TraceStatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, finished)
	require.NotNil(t, finished.Duration)
	assert.GreaterOrEqual(t, *finished.Duration, int64(0))
	assert.Equal(t, models.TraceStatusCompleted, finished.Status)

	missing, err := tm.FinishTrace(ctx, "does-not-exist", "")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = tm.GetTrace(ctx, "does-not-exist")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestProcessEventStartsTraceWhenAbsent(t *testing.T) {
	tm, db := newManager(t)
	ctx := context.Background()

	e := &models.Event{App: "svc", EventType: "request", Payload: json.RawMessage(`{"path":"/"}`)}
	opened, err := tm.ProcessEvent(ctx, e)
	require.NoError(t, err)
	require.NotNil(t, opened)
	require.Len(t, e.TraceID, 16)
	assert.Empty(t, e.SpanID)
	assert.Equal(t, e.TraceID, opened.TraceID)

	// nothing is stored until the event is
	_, err = db.GetTrace(ctx, e.TraceID)
	require.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, tm.OpenTrace(ctx, opened))
	tr, err := db.GetTrace(ctx, e.TraceID)
	require.NoError(t, err)
	assert.Equal(t, "request", tr.OperationName)
	assert.Equal(t, "svc", tr.ServiceName)

	// opening the same trace twice keeps the first row
	require.NoError(t, tm.OpenTrace(ctx, &models.Trace{TraceID: e.TraceID, OperationName: "other"}))
	tr, err = db.GetTrace(ctx, e.TraceID)
	require.NoError(t, err)
	assert.Equal(t, "request", tr.OperationName)
}

func TestProcessEventJoinsExistingTrace(t *testing.T) {
	tm, _ := newManager(t)
	ctx := context.Background()

	tr, err := tm.StartTrace(ctx, "op", "svc", nil)
	require.NoError(t, err)

	e := &models.Event{App: "svc", EventType: "info", TraceID: tr.TraceID, Payload: json.RawMessage(`{}`)}
	opened, err := tm.ProcessEvent(ctx, e)
	require.NoError(t, err)
	assert.Nil(t, opened)
	assert.Equal(t, tr.TraceID, e.TraceID)
	assert.Len(t, e.SpanID, 8)

	keep := &models.Event{App: "svc", EventType: "info", TraceID: tr.TraceID, SpanID: "client-span", Payload: json.RawMessage(`{}`)}
	opened, err = tm.ProcessEvent(ctx, keep)
	require.NoError(t, err)
	assert.Nil(t, opened)
	assert.Equal(t, "client-span", keep.SpanID)
}

func TestProcessEventReadsConventions(t *testing.T) {
	tm, db := newManager(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		event   models.Event
		traceID string
		spanID  string
		parent  string
	}{
		{
			name:    "opentelemetry tags",
			event:   models.Event{Tags: json.RawMessage(`{"trace_id":"otel-1","span_id":"s1","parent_span_id":"p1"}`)},
			traceID: "otel-1", spanID: "s1", parent: "p1",
		},
		{
			name:    "jaeger payload",
			event:   models.Event{Payload: json.RawMessage(`{"traceID":"jaeger-1","spanID":"s2"}`)},
			traceID: "jaeger-1", spanID: "s2",
		},
		{
			name:    "zipkin payload",
			event:   models.Event{Payload: json.RawMessage(`{"traceId":"zipkin-1","id":"s3","parentId":"p3"}`)},
			traceID: "zipkin-1", spanID: "s3", parent: "p3",
		},
		{
			name:    "summary text",
			event:   models.Event{Summary: "Root=1-5759e988-bd862e3fe1be46a994272793;Sampled=1"},
			traceID: "1-5759e988-bd862e3fe1be46a994272793",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.event
			e.App = "svc"
			e.EventType = "info"
			if e.Payload == nil {
				e.Payload = json.RawMessage(`{}`)
			}

			opened, err := tm.ProcessEvent(ctx, &e)
			require.NoError(t, err)
			require.NotNil(t, opened)
			assert.Equal(t, tt.traceID, e.TraceID)
			assert.Equal(t, tt.spanID, e.SpanID)
			assert.Equal(t, tt.parent, e.ParentSpanID)

			require.NoError(t, tm.OpenTrace(ctx, opened))
			_, err = db.GetTrace(ctx, tt.traceID)
			assert.NoError(t, err)
		})
	}

	plainID := &models.Event{App: "svc", EventType: "info", Payload: json.RawMessage(`{"id":"order-7"}`)}
	_, err := tm.ProcessEvent(ctx, plainID)
	require.NoError(t, err)
	assert.Len(t, plainID.TraceID, 16)
	assert.Empty(t, plainID.SpanID)
}

func TestGetTraceBuildsSpanTree(t *testing.T) {
	tm, db := newManager(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	tr, err := tm.StartTrace(ctx, "checkout", "shop", nil)
	require.NoError(t, err)

	events := []models.Event{
		{Timestamp: base, App: "shop", EventType: "info", Summary: "POST /checkout", SpanID: "root"},
		{Timestamp: base.Add(time.Second), App: "payments", EventType: "info", Summary: "calling stripe", SpanID: "child", ParentSpanID: "root"},
		{Timestamp: base.Add(3 * time.Second), App: "payments", EventType: "error", Summary: "card declined", SpanID: "child", ParentSpanID: "root"},
		{Timestamp: base.Add(4 * time.Second), App: "other", EventType: "info", SpanID: "x"},
	}
	for i := range events {
		events[i].Payload = json.RawMessage(`{}`)
		events[i].TraceID = tr.TraceID
		if i == 3 {
			events[i].TraceID = "unrelated"
		}
		_, err := db.InsertEvent(ctx, &events[i])
		require.NoError(t, err)
	}

	detail, err := tm.GetTrace(ctx, tr.TraceID)
	require.NoError(t, err)
	require.Len(t, detail.Events, 3)
	assert.True(t, detail.Events[0].Timestamp.Before(detail.Events[2].Timestamp))

	require.Len(t, detail.Spans, 1)
	root := detail.Spans[0]
	assert.Equal(t, "root", root.SpanID)
	assert.Equal(t, "POST /checkout", root.Operation)
	require.Len(t, root.Children, 1)

	child := root.Children[0]
	assert.Equal(t, "stripe", child.Operation)
	assert.Equal(t, "error", child.Status)
	assert.EqualValues(t, 2000, child.Duration)
	assert.Len(t, child.EventIDs, 2)
}
