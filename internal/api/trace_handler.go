package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/your-username/agent-observability/backend/internal/models"
)

// TraceService is the trace lifecycle the handler drives.
type TraceService interface {
	StartTrace(ctx context.Context, operationName, serviceName string, tags json.RawMessage) (*models.Trace, error)
	FinishTrace(ctx context.Context, traceID, status string) (*models.Trace, error)
	GetTrace(ctx context.Context, traceID string) (*models.TraceDetail, error)
	ListTraces(ctx context.Context, limit int) ([]models.Trace, error)
}

// TraceHandler handles trace-related API endpoints
type TraceHandler struct {
	traces TraceService
}

// NewTraceHandler creates a new trace handler
func NewTraceHandler(traces TraceService) *TraceHandler {
	return &TraceHandler{traces: traces}
}

type startTraceRequest struct {
	OperationName string          `json:"operation_name"`
	ServiceName   string          `json:"service_name"`
	Tags          json.RawMessage `json:"tags,omitempty"`
}

type finishTraceRequest struct {
	Status string `json:"status"`
}

// GetTraces lists the most recently started traces.
func (h *TraceHandler) GetTraces(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query())
	if err != nil {
		handleError(w, r, err)
		return
	}

	traces, err := h.traces.ListTraces(r.Context(), limit)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, traces)
}

// GetTrace returns a trace with its events and span tree, or 404.
func (h *TraceHandler) GetTrace(w http.ResponseWriter, r *http.Request) {
	detail, err := h.traces.GetTrace(r.Context(), chi.URLParam(r, "traceID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// StartTrace opens a new active trace.
func (h *TraceHandler) StartTrace(w http.ResponseWriter, r *http.Request) {
	var req startTraceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.OperationName) == "" {
		badRequest(w, "operation_name", "is required")
		return
	}
	if strings.TrimSpace(req.ServiceName) == "" {
		badRequest(w, "service_name", "is required")
		return
	}
	if len(req.Tags) > 0 && !json.Valid(req.Tags) {
		badRequest(w, "tags", "must be valid JSON")
		return
	}

	t, err := h.traces.StartTrace(r.Context(), req.OperationName, req.ServiceName, req.Tags)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"trace_id": t.TraceID,
		"trace":    t,
	})
}

// FinishTrace closes a trace. Finishing an unknown trace is not an error.
func (h *TraceHandler) FinishTrace(w http.ResponseWriter, r *http.Request) {
	var req finishTraceRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Status {
	case "", models.TraceStatusCompleted, models.TraceStatusFailed:
	default:
		badRequest(w, "status", "must be completed or failed")
		return
	}

	t, err := h.traces.FinishTrace(r.Context(), chi.URLParam(r, "traceID"), req.Status)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"trace":   t,
	})
}
