package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// maxBatchSize is the server's per-request bulk limit.
const maxBatchSize = 1000

// Config holds the agent configuration
type Config struct {
	// Endpoint is the base URL of the telemetry server.
	Endpoint string
	// App names the reporting application on every event.
	App string
	// SessionID groups the events of one run. Empty lets the server default it.
	SessionID string
	// BatchSize is the number of events to buffer before sending.
	BatchSize int
	// MaxBufferSize bounds the buffer while the server is unreachable. The
	// oldest events are dropped first.
	MaxBufferSize int
	// FlushInterval is how often to flush events
	FlushInterval time.Duration
	// MaxRetries is the maximum number of attempts per batch.
	MaxRetries int
	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration
	// APIKey is sent as X-API-Key when set.
	APIKey string
	// Tags are merged into every event's tags.
	Tags map[string]interface{}
	// HTTPTimeout for requests
	HTTPTimeout time.Duration
	// Client overrides the HTTP client.
	Client *http.Client
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Endpoint:      "http://localhost:3001",
		App:           "unknown",
		BatchSize:     100,
		MaxBufferSize: 10000,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryBackoff:  time.Second,
		Tags:          make(map[string]interface{}),
		HTTPTimeout:   10 * time.Second,
	}
}

// Event is one occurrence to report.
type Event struct {
	Timestamp    time.Time              `json:"timestamp"`
	App          string                 `json:"app"`
	SessionID    string                 `json:"session_id,omitempty"`
	EventType    string                 `json:"event_type"`
	Summary      string                 `json:"summary,omitempty"`
	Payload      map[string]interface{} `json:"payload"`
	TraceID      string                 `json:"trace_id,omitempty"`
	SpanID       string                 `json:"span_id,omitempty"`
	ParentSpanID string                 `json:"parent_span_id,omitempty"`
	Tags         map[string]interface{} `json:"tags,omitempty"`
}

// BulkError is the server's reason for rejecting one event of a batch.
type BulkError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type bulkResponse struct {
	Success  bool        `json:"success"`
	Received int         `json:"received"`
	Accepted int         `json:"accepted"`
	Errors   []BulkError `json:"errors"`
}

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Body)
}

// retryable reports whether a failed send may succeed when repeated.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError || se.Code == http.StatusTooManyRequests
	}
	return true
}

// Agent buffers events and ships them to the server in batches.
type Agent struct {
	config    *Config
	buffer    []Event
	bufferMu  sync.Mutex
	client    *http.Client
	stopChan  chan struct{}
	flushChan chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	dropped   int64
}

// New creates a new agent
func New(config *Config) *Agent {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.BatchSize > maxBatchSize {
		config.BatchSize = maxBatchSize
	}
	if config.MaxBufferSize < config.BatchSize {
		config.MaxBufferSize = config.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = defaults.HTTPTimeout
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.HTTPTimeout}
	}

	return &Agent{
		config:    config,
		buffer:    make([]Event, 0, config.BatchSize),
		client:    client,
		stopChan:  make(chan struct{}),
		flushChan: make(chan struct{}, 1),
	}
}

// Start starts the background flush loop.
func (a *Agent) Start() {
	a.wg.Add(1)
	go a.run()
}

// Stop flushes what is buffered and stops the flush loop. It is safe to
// call more than once.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
	})
	a.wg.Wait()
}

// Track records an event of the given type.
func (a *Agent) Track(eventType, summary string, payload map[string]interface{}) {
	a.Send(Event{EventType: eventType, Summary: summary, Payload: payload})
}

// Send buffers an event, filling in the app, session, timestamp and default tags.
func (a *Agent) Send(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.App == "" {
		e.App = a.config.App
	}
	if e.SessionID == "" {
		e.SessionID = a.config.SessionID
	}
	if e.Payload == nil {
		e.Payload = map[string]interface{}{}
	}
	if len(a.config.Tags) > 0 {
		tags := make(map[string]interface{}, len(a.config.Tags)+len(e.Tags))
		for k, v := range a.config.Tags {
			tags[k] = v
		}
		for k, v := range e.Tags {
			tags[k] = v
		}
		e.Tags = tags
	}

	a.addToBuffer(e)
}

// Info records an informational event.
func (a *Agent) Info(summary string, payload map[string]interface{}) {
	a.Track("info", summary, payload)
}

// Warning records a warning event.
func (a *Agent) Warning(summary string, payload map[string]interface{}) {
	a.Track("warning", summary, payload)
}

// Error records an error event carrying err's text in the payload.
func (a *Agent) Error(err error, summary string) {
	a.Track("error", summary, map[string]interface{}{"error": err.Error()})
}

// Dropped returns the number of events discarded because the buffer was full.
func (a *Agent) Dropped() int64 {
	a.bufferMu.Lock()
	defer a.bufferMu.Unlock()
	return a.dropped
}

func (a *Agent) addToBuffer(e Event) {
	a.bufferMu.Lock()
	if len(a.buffer) >= a.config.MaxBufferSize {
		a.buffer = a.buffer[1:]
		a.dropped++
	}
	a.buffer = append(a.buffer, e)
	shouldFlush := len(a.buffer) >= a.config.BatchSize
	a.bufferMu.Unlock()

	if shouldFlush {
		select {
		case a.flushChan <- struct{}{}:
		default:
		}
	}
}

// run is the main agent loop
func (a *Agent) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			ctx, cancel := context.WithTimeout(context.Background(), a.config.HTTPTimeout)
			if err := a.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("Final flush failed")
			}
			cancel()
			return
		case <-ticker.C:
			a.flushLogged()
		case <-a.flushChan:
			a.flushLogged()
		}
	}
}

func (a *Agent) flushLogged() {
	if err := a.Flush(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to ship events")
	}
}

// Flush sends everything buffered, one batch at a time. A batch that
// cannot be delivered after all retries is dropped and its error returned.
func (a *Agent) Flush(ctx context.Context) error {
	var errs []error
	for {
		batch := a.take()
		if len(batch) == 0 {
			return errors.Join(errs...)
		}
		if err := a.sendWithRetry(ctx, batch); err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			return errors.Join(append(errs, ctx.Err())...)
		}
	}
}

// take removes up to one batch from the front of the buffer.
func (a *Agent) take() []Event {
	a.bufferMu.Lock()
	defer a.bufferMu.Unlock()

	n := min(len(a.buffer), a.config.BatchSize)
	if n == 0 {
		return nil
	}
	batch := make([]Event, n)
	copy(batch, a.buffer[:n])
	a.buffer = append(a.buffer[:0], a.buffer[n:]...)
	return batch
}

func (a *Agent) sendWithRetry(ctx context.Context, batch []Event) error {
	var err error
	for attempt := 1; attempt <= a.config.MaxRetries; attempt++ {
		err = a.send(ctx, batch)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("batch_size", len(batch)).Msg("Failed to send events")
		if attempt == a.config.MaxRetries {
			break
		}

		select {
		case <-time.After(time.Duration(attempt) * a.config.RetryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("dropping %d events: %w", len(batch), err)
}

// send posts a batch to the bulk ingestion endpoint.
func (a *Agent) send(ctx context.Context, batch []Event) error {
	data, err := json.Marshal(map[string]interface{}{"events": batch})
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	url := strings.TrimRight(a.config.Endpoint, "/") + "/events/bulk"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.config.APIKey != "" {
		req.Header.Set("X-API-Key", a.config.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var result bulkResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	for _, e := range result.Errors {
		entry := log.Warn().Int("index", e.Index).Str("error", e.Error)
		if e.Index >= 0 && e.Index < len(batch) {
			entry = entry.Str("event_type", batch[e.Index].EventType)
		}
		entry.Msg("Server rejected event")
	}
	return nil
}
