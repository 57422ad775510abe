package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-username/agent-observability/backend/internal/models"
	"github.com/your-username/agent-observability/backend/internal/monitoring"
	"github.com/your-username/agent-observability/backend/internal/querybuilder"
)

type fakeBackend struct{}

func (fakeBackend) RecentEvents(ctx context.Context, n int) ([]models.Event, error) {
	return []models.Event{{ID: 7, App: "seed", EventType: "info", Payload: json.RawMessage(`{}`)}}, nil
}

func (fakeBackend) Snapshot(ctx context.Context) (*models.Stats, []models.AppPerformance, error) {
	return &models.Stats{TotalEvents: 1}, []models.AppPerformance{{App: "seed", EventCount: 1}}, nil
}

func (fakeBackend) Execute(ctx context.Context, raw json.RawMessage) ([]map[string]interface{}, error) {
	var text string
	_ = json.Unmarshal(raw, &text)
	switch {
	case strings.HasPrefix(text, "SELECT"):
		return []map[string]interface{}{{"id": 1}}, nil
	case text == "boom":
		return nil, &models.StorageError{Op: "select", Err: errors.New("disk I/O error")}
	default:
		return nil, &querybuilder.RejectedError{Err: errors.New("statement type 'DELETE' not allowed")}
	}
}

type testServer struct {
	hub     *Hub
	server  *httptest.Server
	metrics *monitoring.Metrics
	cancel  context.CancelFunc
}

// racingBackend stores events while the init snapshot is being read.
type racingBackend struct {
	fakeBackend
	hub *Hub
}

func (b racingBackend) Snapshot(ctx context.Context) (*models.Stats, []models.AppPerformance, error) {
	b.hub.BroadcastEvent(&models.Event{ID: 7, App: "seed", EventType: "info", Payload: json.RawMessage(`{}`)})
	b.hub.BroadcastEvent(&models.Event{ID: 8, App: "late", EventType: "info", Payload: json.RawMessage(`{}`)})
	return b.fakeBackend.Snapshot(ctx)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, func(*Hub) Backend {
		b := fakeBackend{}
		return Backend{Events: b, Analytics: b, Queries: b}
	})
}

func newTestServerWith(t *testing.T, backend func(*Hub) Backend) *testServer {
	t.Helper()
	metrics := monitoring.NewMetrics()
	hub := NewHub(metrics)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(HandleWebSocket(hub, backend(hub)))
	ts := &testServer{hub: hub, server: srv, metrics: metrics, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		srv.Close()
	})
	return ts
}

type wsMessage map[string]interface{}

func (ts *testServer) dial(t *testing.T) (*gws.Conn, wsMessage) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	init := readMessage(t, conn)
	require.Equal(t, "init", init["type"])
	return conn, init
}

func readMessage(t *testing.T, conn *gws.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func send(t *testing.T, conn *gws.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// drain reads until the pong answering a sentinel ping and returns
// everything received before it.
func drain(t *testing.T, conn *gws.Conn) []wsMessage {
	t.Helper()
	send(t, conn, map[string]interface{}{"type": "ping", "timestamp": "sentinel"})
	var out []wsMessage
	for {
		msg := readMessage(t, conn)
		if msg["type"] == "pong" && msg["timestamp"] == "sentinel" {
			return out
		}
		out = append(out, msg)
	}
}

func TestInitMessage(t *testing.T) {
	ts := newTestServer(t)
	_, init := ts.dial(t)

	assert.NotEmpty(t, init["clientId"])
	assert.Len(t, init["events"], 1)
	assert.Equal(t, float64(1), init["stats"].(map[string]interface{})["total_events"])
	assert.Len(t, init["performance"], 1)
	assert.Equal(t, []interface{}{"alerts", "events"}, init["channels"])
	assert.Equal(t, 1, ts.hub.ClientCount())
	assert.Equal(t, float64(1), ts.metrics.Snapshot()["websocket_connections"])
}

func TestEventsStoredDuringInitAreDelivered(t *testing.T) {
	ts := newTestServerWith(t, func(h *Hub) Backend {
		b := racingBackend{hub: h}
		return Backend{Events: b, Analytics: b, Queries: b}
	})
	conn, init := ts.dial(t)

	events := init["events"].([]interface{})
	require.Len(t, events, 1)
	assert.Equal(t, float64(7), events[0].(map[string]interface{})["id"])

	// event 7 is already in init and is not repeated
	msgs := drain(t, conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, "event", msgs[0]["type"])
	assert.Equal(t, float64(8), msgs[0]["data"].(map[string]interface{})["id"])

	ts.hub.BroadcastEvent(&models.Event{ID: 9, App: "a", EventType: "info", Payload: json.RawMessage(`{}`)})
	msgs = drain(t, conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, float64(9), msgs[0]["data"].(map[string]interface{})["id"])
}

func TestPingEchoesTimestamp(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := ts.dial(t)

	send(t, conn, map[string]interface{}{"type": "ping", "timestamp": 1712345678901})
	pong := readMessage(t, conn)
	assert.Equal(t, "pong", pong["type"])
	assert.Equal(t, float64(1712345678901), pong["timestamp"])
	assert.NotEmpty(t, pong["serverTime"])
}

func TestBroadcastRespectsFilters(t *testing.T) {
	ts := newTestServer(t)
	all, _ := ts.dial(t)
	byApp, _ := ts.dial(t)
	bySeverity, _ := ts.dial(t)

	send(t, byApp, map[string]interface{}{"type": "set_filters", "filters": map[string]interface{}{"app": "a"}})
	assert.Equal(t, "filters_updated", readMessage(t, byApp)["type"])
	send(t, bySeverity, map[string]interface{}{"type": "set_filters", "filters": map[string]interface{}{"severity": 2}})
	assert.Equal(t, "filters_updated", readMessage(t, bySeverity)["type"])

	events := []*models.Event{
		{ID: 1, App: "a", EventType: "info", Severity: 1, Payload: json.RawMessage(`{}`)},
		{ID: 2, App: "b", EventType: "error", Severity: 3, Payload: json.RawMessage(`{}`)},
		{ID: 3, App: "a", EventType: "warning", Severity: 2, Payload: json.RawMessage(`{}`)},
	}
	for _, e := range events {
		ts.hub.BroadcastEvent(e)
	}

	ids := func(msgs []wsMessage) []float64 {
		var out []float64
		for _, m := range msgs {
			require.Equal(t, "event", m["type"])
			out = append(out, m["data"].(map[string]interface{})["id"].(float64))
		}
		return out
	}

	assert.Equal(t, []float64{1, 2, 3}, ids(drain(t, all)))
	assert.Equal(t, []float64{1, 3}, ids(drain(t, byApp)))
	assert.Equal(t, []float64{2, 3}, ids(drain(t, bySeverity)))
}

func TestSubscriptionTopics(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := ts.dial(t)

	send(t, conn, map[string]interface{}{"type": "unsubscribe", "channels": []string{"events"}})
	ack := readMessage(t, conn)
	assert.Equal(t, "unsubscribed", ack["type"])
	assert.Equal(t, []interface{}{"alerts"}, ack["channels"])

	ts.hub.BroadcastEvent(&models.Event{ID: 1, App: "a", EventType: "info", Payload: json.RawMessage(`{}`)})
	ts.hub.OnAlert(&monitoring.AlertNotification{
		Alert:     &models.Alert{ID: 9, RuleName: "high_error_rate", Status: models.AlertStatusActive},
		Rule:      models.AlertRule{Name: "high_error_rate", Condition: models.ConditionErrorRate, Threshold: 0.1},
		Event:     &models.Event{ID: 1, App: "a", EventType: "error", Payload: json.RawMessage(`{}`)},
		Observed:  0.5,
		Severity:  "high",
		Timestamp: time.Now().UTC(),
	})

	msgs := drain(t, conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alert", msgs[0]["type"])
	assert.Equal(t, "high_error_rate", msgs[0]["rule"])
	assert.Equal(t, "error_rate", msgs[0]["condition"])
	assert.Equal(t, "high", msgs[0]["severity"])

	send(t, conn, map[string]interface{}{"type": "unsubscribe", "channels": []string{"alerts"}})
	readMessage(t, conn)
	send(t, conn, map[string]interface{}{"type": "subscribe", "channels": []string{"events"}})
	ack = readMessage(t, conn)
	assert.Equal(t, "subscribed", ack["type"])
	assert.Equal(t, []interface{}{"events"}, ack["channels"])
}

func TestProtocolErrorsKeepConnectionOpen(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := ts.dial(t)

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte("{not json")))
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "malformed message", msg["message"])

	send(t, conn, map[string]interface{}{"type": "teleport"})
	assert.Equal(t, "unknown message type: teleport", readMessage(t, conn)["message"])

	send(t, conn, map[string]interface{}{"type": "subscribe", "channels": []string{"metrics"}})
	assert.Equal(t, "unknown channel: metrics", readMessage(t, conn)["message"])

	send(t, conn, map[string]interface{}{"type": "ping"})
	assert.Equal(t, "pong", readMessage(t, conn)["type"])
}

func TestQueryMessages(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := ts.dial(t)

	send(t, conn, map[string]interface{}{"type": "query", "queryId": "q1", "query": "SELECT * FROM events"})
	res := readMessage(t, conn)
	assert.Equal(t, "query_result", res["type"])
	assert.Equal(t, "q1", res["queryId"])
	assert.Len(t, res["result"], 1)

	send(t, conn, map[string]interface{}{"type": "query", "queryId": "q2", "query": "DELETE FROM events"})
	res = readMessage(t, conn)
	assert.Equal(t, "error", res["type"])
	assert.Equal(t, "q2", res["queryId"])
	assert.Contains(t, res["message"], "not allowed")

	send(t, conn, map[string]interface{}{"type": "query", "queryId": "q3", "query": "boom"})
	res = readMessage(t, conn)
	assert.Equal(t, "q3", res["queryId"])
	assert.Equal(t, "query failed", res["message"])
}

func TestDisconnectRemovesClient(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := ts.dial(t)
	require.Equal(t, 1, ts.hub.ClientCount())

	conn.Close()
	require.Eventually(t, func() bool { return ts.hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)

	// broadcasting with nobody connected is a no-op
	ts.hub.BroadcastEvent(&models.Event{ID: 1, App: "a", EventType: "info", Payload: json.RawMessage(`{}`)})
	assert.Equal(t, float64(0), ts.metrics.Snapshot()["websocket_connections"])
}

func TestSlowClientDropsMessages(t *testing.T) {
	metrics := monitoring.NewMetrics()
	hub := NewHub(metrics)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	// no pumps: the buffer is never drained
	client := newClient(hub, nil, Backend{})
	require.True(t, hub.add(client))
	client.flushPending(0)

	e := &models.Event{ID: 1, App: "a", EventType: "info", Payload: json.RawMessage(`{}`)}
	for i := 0; i < sendBufferSize+5; i++ {
		hub.BroadcastEvent(e)
	}

	snap := metrics.Snapshot()
	assert.Equal(t, float64(sendBufferSize), snap["websocket_messages_sent_total"])
	assert.Equal(t, float64(5), snap["websocket_messages_dropped_total"])

	cancel()
	<-hub.Done()
	assert.Zero(t, hub.ClientCount())
	assert.False(t, client.enqueue([]byte("late")))
}
