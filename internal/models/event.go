package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// DefaultSessionID is assigned to events that arrive without a session.
const DefaultSessionID = "default"

// Severity levels derived from the event type.
const (
	SeverityInfo    = 1
	SeverityWarning = 2
	SeverityError   = 3
)

// Event is a single observed occurrence reported by a monitored application.
type Event struct {
	ID           int64           `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	App          string          `json:"app"`
	SessionID    string          `json:"session_id"`
	EventType    string          `json:"event_type"`
	Summary      string          `json:"summary,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	TraceID      string          `json:"trace_id,omitempty"`
	SpanID       string          `json:"span_id,omitempty"`
	ParentSpanID string          `json:"parent_span_id,omitempty"`
	Severity     int             `json:"severity"`
	Tags         json.RawMessage `json:"tags,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// EventRequest is the ingestion body accepted by POST /events.
type EventRequest struct {
	Timestamp    string          `json:"timestamp,omitempty"`
	App          string          `json:"app"`
	SessionID    string          `json:"session_id,omitempty"`
	EventType    string          `json:"event_type"`
	Summary      *string         `json:"summary,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	TraceID      string          `json:"trace_id,omitempty"`
	SpanID       string          `json:"span_id,omitempty"`
	ParentSpanID string          `json:"parent_span_id,omitempty"`
	Tags         json.RawMessage `json:"tags,omitempty"`
}

// Validate checks the fields every event must carry.
func (r *EventRequest) Validate() error {
	if strings.TrimSpace(r.App) == "" {
		return &ValidationError{Field: "app", Reason: "is required"}
	}
	if strings.TrimSpace(r.EventType) == "" {
		return &ValidationError{Field: "event_type", Reason: "is required"}
	}
	if isNullJSON(r.Payload) {
		return &ValidationError{Field: "payload", Reason: "is required"}
	}
	if !json.Valid(r.Payload) {
		return &ValidationError{Field: "payload", Reason: "must be valid JSON"}
	}
	if !isNullJSON(r.Tags) && !json.Valid(r.Tags) {
		return &ValidationError{Field: "tags", Reason: "must be valid JSON"}
	}
	return nil
}

// ToEvent converts a validated request into an event ready for persistence.
// now is used when the request carries no timestamp.
func (r *EventRequest) ToEvent(now time.Time) (*Event, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	ts := now
	if r.Timestamp != "" {
		parsed, err := ParseTimestamp(r.Timestamp)
		if err != nil {
			return nil, &ValidationError{Field: "timestamp", Reason: "must be an ISO-8601 time"}
		}
		ts = parsed
	}

	e := &Event{
		Timestamp:    ts.UTC(),
		App:          strings.TrimSpace(r.App),
		SessionID:    strings.TrimSpace(r.SessionID),
		EventType:    strings.TrimSpace(r.EventType),
		Payload:      compactJSON(r.Payload),
		TraceID:      strings.TrimSpace(r.TraceID),
		SpanID:       strings.TrimSpace(r.SpanID),
		ParentSpanID: strings.TrimSpace(r.ParentSpanID),
	}
	if r.Summary != nil {
		e.Summary = *r.Summary
	}
	if !isNullJSON(r.Tags) {
		e.Tags = compactJSON(r.Tags)
	}
	if e.SessionID == "" {
		e.SessionID = DefaultSessionID
	}
	e.Severity = SeverityFor(e.EventType)
	return e, nil
}

// SeverityFor maps an event type to its severity rank.
func SeverityFor(eventType string) int {
	switch eventType {
	case "error":
		return SeverityError
	case "warning":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// PayloadDuration extracts a duration in milliseconds from the event payload.
// Keys are checked in order: response_time, duration_ms, duration.
func (e *Event) PayloadDuration() (float64, bool) {
	var body map[string]any
	if err := json.Unmarshal(e.Payload, &body); err != nil {
		return 0, false
	}
	for _, key := range []string{"response_time", "duration_ms", "duration"} {
		if v, ok := body[key].(float64); ok {
			return v, true
		}
	}
	return 0, false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC3339 and the zone-less ISO forms producers send.
// Zone-less values are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func compactJSON(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return json.RawMessage(buf.Bytes())
}

// EventFilter is the conjunctive filter accepted by event queries.
type EventFilter struct {
	ID          int64     `json:"id,omitempty"`
	App         string    `json:"app,omitempty"`
	EventType   string    `json:"event_type,omitempty"`
	MinSeverity int       `json:"severity,omitempty"`
	TraceID     string    `json:"trace_id,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	StartTime   time.Time `json:"start_time,omitempty"`
	EndTime     time.Time `json:"end_time,omitempty"`
	Search      string    `json:"search,omitempty"`
	Limit       int       `json:"limit"`
}

// SubscriberFilter is the predicate a realtime subscriber applies to broadcast events.
type SubscriberFilter struct {
	App       string `json:"app,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Severity  int    `json:"severity,omitempty"`
}

// Matches reports whether the event passes every populated field of the filter.
func (f *SubscriberFilter) Matches(e *Event) bool {
	if f == nil {
		return true
	}
	if f.App != "" && e.App != f.App {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Severity > 0 && e.Severity < f.Severity {
		return false
	}
	return true
}
