package models

import (
	"encoding/json"
	"time"
)

// Trace status values.
const (
	TraceStatusActive    = "active"
	TraceStatusCompleted = "completed"
	TraceStatusFailed    = "failed"
)

// Trace is a logical operation spanning one or more events.
type Trace struct {
	TraceID       string          `json:"trace_id"`
	OperationName string          `json:"operation_name"`
	ServiceName   string          `json:"service_name"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       *time.Time      `json:"end_time"`
	Duration      *int64          `json:"duration"`
	Status        string          `json:"status"`
	Tags          json.RawMessage `json:"tags,omitempty"`
}

// Span is one operation within a trace, reconstructed from the events that
// carry its span id.
type Span struct {
	SpanID    string    `json:"span_id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Service   string    `json:"service"`
	Operation string    `json:"operation"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  int64     `json:"duration"`
	Status    string    `json:"status"`
	EventIDs  []int64   `json:"event_ids"`
	Children  []*Span   `json:"children,omitempty"`
}

// TraceDetail is a trace together with its causal event timeline.
type TraceDetail struct {
	Trace  *Trace  `json:"trace"`
	Events []Event `json:"events"`
	Spans  []*Span `json:"spans,omitempty"`
}
