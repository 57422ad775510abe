package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/your-username/agent-observability/backend/internal/models"
)

// EventReader is the read side of the event store.
type EventReader interface {
	QueryEvents(ctx context.Context, f models.EventFilter) ([]models.Event, error)
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
}

// EventHandler serves event queries.
type EventHandler struct {
	store EventReader
}

func NewEventHandler(store EventReader) *EventHandler {
	return &EventHandler{store: store}
}

// QueryEvents returns events matching the query parameters, newest first.
func (h *EventHandler) QueryEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r.URL.Query())
	if err != nil {
		handleError(w, r, err)
		return
	}

	events, err := h.store.QueryEvents(r.Context(), filter)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent returns a single event by id.
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "eventID"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "id", "must be a positive integer")
		return
	}

	e, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// parseEventFilter reads app, event_type, severity, trace_id, session_id,
// start_time, end_time, search and limit.
func parseEventFilter(q url.Values) (models.EventFilter, error) {
	f := models.EventFilter{
		App:       q.Get("app"),
		EventType: q.Get("event_type"),
		TraceID:   q.Get("trace_id"),
		SessionID: q.Get("session_id"),
		Search:    q.Get("search"),
	}

	if s := q.Get("severity"); s != "" {
		sev, err := parseSeverity(s)
		if err != nil {
			return f, err
		}
		f.MinSeverity = sev
	}

	var err error
	if f.StartTime, err = parseTimeParam(q, "start_time"); err != nil {
		return f, err
	}
	if f.EndTime, err = parseTimeParam(q, "end_time"); err != nil {
		return f, err
	}
	if f.Limit, err = parseLimit(q); err != nil {
		return f, err
	}
	return f, nil
}

// parseSeverity accepts a numeric level or its name.
func parseSeverity(s string) (int, error) {
	switch strings.ToLower(s) {
	case "info":
		return models.SeverityInfo, nil
	case "warning", "warn":
		return models.SeverityWarning, nil
	case "error":
		return models.SeverityError, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < models.SeverityInfo || n > models.SeverityError {
		return 0, &models.ValidationError{Field: "severity", Reason: "must be 1-3 or info, warning, error"}
	}
	return n, nil
}

func parseTimeParam(q url.Values, name string) (time.Time, error) {
	s := q.Get(name)
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := models.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, &models.ValidationError{Field: name, Reason: "must be a timestamp"}
	}
	return t, nil
}

// parseLimit returns 0 when absent. Values above the store maximum are
// clamped by the store.
func parseLimit(q url.Values) (int, error) {
	s := q.Get("limit")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, &models.ValidationError{Field: "limit", Reason: "must be a non-negative integer"}
	}
	return n, nil
}
