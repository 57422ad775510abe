package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]Event
	keys    []string
}

func (rec *recorder) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events/bulk" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Events []Event `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec.mu.Lock()
		rec.batches = append(rec.batches, body.Events)
		rec.keys = append(rec.keys, r.Header.Get("X-API-Key"))
		rec.mu.Unlock()

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success":  true,
			"received": len(body.Events),
			"accepted": len(body.Events),
		})
	}
}

func (rec *recorder) count() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	n := 0
	for _, b := range rec.batches {
		n += len(b)
	}
	return n
}

func testConfig(endpoint string) *Config {
	return &Config{
		Endpoint:      endpoint,
		App:           "checkout",
		SessionID:     "sess-1",
		BatchSize:     2,
		FlushInterval: time.Hour,
		MaxRetries:    3,
		RetryBackoff:  time.Millisecond,
		APIKey:        "secret",
		Tags:          map[string]interface{}{"env": "test"},
	}
}

func TestFlushSendsBatches(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	a := New(testConfig(srv.URL))
	a.Info("started", map[string]interface{}{"port": 8080})
	a.Error(errors.New("boom"), "payment failed")
	a.Send(Event{EventType: "custom", Tags: map[string]interface{}{"env": "override", "region": "eu"}})

	require.NoError(t, a.Flush(context.Background()))

	require.Len(t, rec.batches, 2)
	assert.Len(t, rec.batches[0], 2)
	assert.Len(t, rec.batches[1], 1)
	assert.Equal(t, []string{"secret", "secret"}, rec.keys)

	first := rec.batches[0][0]
	assert.Equal(t, "checkout", first.App)
	assert.Equal(t, "sess-1", first.SessionID)
	assert.Equal(t, "info", first.EventType)
	assert.Equal(t, "started", first.Summary)
	assert.Equal(t, "test", first.Tags["env"])
	assert.False(t, first.Timestamp.IsZero())

	assert.Equal(t, "boom", rec.batches[0][1].Payload["error"])

	custom := rec.batches[1][0]
	assert.Equal(t, "override", custom.Tags["env"])
	assert.Equal(t, "eu", custom.Tags["region"])
	assert.NotNil(t, custom.Payload)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	rec := &recorder{}
	ok := rec.handler(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		ok(w, r)
	}))
	defer srv.Close()

	a := New(testConfig(srv.URL))
	a.Track("request", "GET /", nil)

	require.NoError(t, a.Flush(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, rec.count())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"success":false,"error":"missing or invalid credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := New(testConfig(srv.URL))
	a.Track("request", "GET /", nil)

	err := a.Flush(context.Background())
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, int32(1), calls.Load())

	// The batch is dropped, so a second flush has nothing to send.
	require.NoError(t, a.Flush(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestBufferDropsOldest(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	cfg.BatchSize = 2
	cfg.MaxBufferSize = 3
	a := New(cfg)

	for _, s := range []string{"a", "b", "c", "d", "e"} {
		a.Track("info", s, nil)
	}

	assert.Equal(t, int64(2), a.Dropped())
	batch := a.take()
	require.Len(t, batch, 2)
	assert.Equal(t, "c", batch[0].Summary)
	assert.Equal(t, "d", batch[1].Summary)
}

func TestStopFlushesRemaining(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.BatchSize = 100
	a := New(cfg)
	a.Start()

	a.Warning("disk almost full", map[string]interface{}{"free_mb": 12})
	a.Stop()
	a.Stop()

	assert.Equal(t, 1, rec.count())
}

func TestFullBatchTriggersFlush(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	a := New(testConfig(srv.URL))
	a.Start()
	defer a.Stop()

	a.Info("one", nil)
	a.Info("two", nil)

	assert.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestNewAppliesDefaults(t *testing.T) {
	a := New(&Config{BatchSize: 5000})
	assert.Equal(t, maxBatchSize, a.config.BatchSize)
	assert.Equal(t, maxBatchSize, a.config.MaxBufferSize)
	assert.Equal(t, 1, a.config.MaxRetries)
	assert.Equal(t, 5*time.Second, a.config.FlushInterval)

	d := New(nil)
	assert.Equal(t, "http://localhost:3001", d.config.Endpoint)
	assert.Equal(t, 100, d.config.BatchSize)
}
