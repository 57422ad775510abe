package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-username/agent-observability/backend/internal/config"
	"github.com/your-username/agent-observability/backend/internal/database"
	"github.com/your-username/agent-observability/backend/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{
		Path:              filepath.Join(t.TempDir(), "events.db"),
		MaxEventsPerQuery: 100,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func post(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func countEvents(t *testing.T, db *database.DB) int64 {
	t.Helper()
	counts, err := db.Counts(context.Background())
	require.NoError(t, err)
	return counts.Events
}

func TestIngestEventHandler(t *testing.T) {
	db := newTestDB(t)
	h := NewHTTPHandler(NewEventProcessor(db, nil, nil, nil, nil))

	rec := post(t, h.IngestEvent(), `{"app":"svc1","event_type":"error","payload":{"msg":"boom"},"trace_id":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotZero(t, resp.ID)
	assert.Equal(t, "abc", resp.TraceID)

	stored, err := db.GetEvent(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityError, stored.Severity)
	assert.JSONEq(t, `{"msg":"boom"}`, string(stored.Payload))
}

func TestIngestEventHandlerValidation(t *testing.T) {
	db := newTestDB(t)
	h := NewHTTPHandler(NewEventProcessor(db, nil, nil, nil, nil))

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing app", `{"event_type":"info","payload":{}}`, "app is required"},
		{"missing event type", `{"app":"svc","payload":{}}`, "event_type is required"},
		{"missing payload", `{"app":"svc","event_type":"info"}`, "payload is required"},
		{"null payload", `{"app":"svc","event_type":"info","payload":null}`, "payload is required"},
		{"bad timestamp", `{"app":"svc","event_type":"info","payload":{},"timestamp":"yesterday"}`, "timestamp"},
		{"malformed", `{"app":`, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h.IngestEvent(), tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			assert.Contains(t, body["error"], tt.want)
		})
	}

	assert.Zero(t, countEvents(t, db))
}

func TestBulkIngestHandler(t *testing.T) {
	db := newTestDB(t)
	h := NewHTTPHandler(NewEventProcessor(db, nil, nil, nil, nil))

	body := `{"events":[
		{"app":"a","event_type":"info","payload":{"n":1}},
		{"app":"","event_type":"info","payload":{"n":2}},
		{"app":"b","event_type":"warning","payload":{"n":3}}
	]}`
	rec := post(t, h.BulkIngest(), body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BulkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, 3, resp.Received)
	assert.Equal(t, 2, resp.Accepted)
	assert.Len(t, resp.IDs, 2)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Index)
	assert.Equal(t, "app is required", resp.Errors[0].Error)
	assert.EqualValues(t, 2, countEvents(t, db))
}

func TestBulkIngestAcceptsBareArray(t *testing.T) {
	db := newTestDB(t)
	h := NewHTTPHandler(NewEventProcessor(db, nil, nil, nil, nil))

	rec := post(t, h.BulkIngest(), `[{"app":"a","event_type":"info","payload":{}}]`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BulkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Accepted)
}

func TestBulkIngestRejectsEmpty(t *testing.T) {
	db := newTestDB(t)
	h := NewHTTPHandler(NewEventProcessor(db, nil, nil, nil, nil))

	for _, body := range []string{`{"events":[]}`, `[]`, `"nope"`} {
		rec := post(t, h.BulkIngest(), body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}
