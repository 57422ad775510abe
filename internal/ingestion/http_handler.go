package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/your-username/agent-observability/backend/internal/models"
)

const (
	maxEventBodyBytes = 1 << 20
	maxBulkBodyBytes  = 10 << 20
	// MaxBulkEvents caps the number of events accepted by one bulk request.
	MaxBulkEvents = 1000
)

// HTTPHandler serves the event ingestion endpoints.
type HTTPHandler struct {
	processor *EventProcessor
}

// NewHTTPHandler creates a new HTTP ingestion handler
func NewHTTPHandler(processor *EventProcessor) *HTTPHandler {
	return &HTTPHandler{processor: processor}
}

// IngestResponse is returned by POST /events.
type IngestResponse struct {
	Success bool   `json:"success"`
	ID      int64  `json:"id"`
	TraceID string `json:"trace_id,omitempty"`
}

// BulkError reports why one event of a bulk request was not stored.
type BulkError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BulkResponse is returned by POST /events/bulk.
type BulkResponse struct {
	Success  bool        `json:"success"`
	Received int         `json:"received"`
	Accepted int         `json:"accepted"`
	IDs      []int64     `json:"ids"`
	Errors   []BulkError `json:"errors,omitempty"`
}

// IngestEvent handles POST /events
func (h *HTTPHandler) IngestEvent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxEventBodyBytes)
		defer r.Body.Close()

		var req models.EventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.processor.metrics.RecordRejected("malformed")
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		e, err := h.processor.Ingest(r.Context(), &req)
		if err != nil {
			writeError(w, statusFor(err), messageFor(err))
			return
		}

		writeJSON(w, http.StatusOK, IngestResponse{
			Success: true,
			ID:      e.ID,
			TraceID: e.TraceID,
		})
	}
}

// BulkIngest handles POST /events/bulk. Each event is ingested on its own;
// one bad event does not reject the rest. The body is either
// {"events": [...]} or a bare array.
func (h *HTTPHandler) BulkIngest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBulkBodyBytes)
		defer r.Body.Close()

		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			h.processor.metrics.RecordRejected("malformed")
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		requests, err := decodeBulk(raw)
		if err != nil {
			h.processor.metrics.RecordRejected("malformed")
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		resp := BulkResponse{
			Received: len(requests),
			IDs:      make([]int64, 0, len(requests)),
		}
		for i := range requests {
			e, err := h.processor.Ingest(r.Context(), &requests[i])
			if err != nil {
				resp.Errors = append(resp.Errors, BulkError{Index: i, Error: messageFor(err)})
				continue
			}
			resp.IDs = append(resp.IDs, e.ID)
		}
		resp.Accepted = len(resp.IDs)
		resp.Success = resp.Accepted == resp.Received

		if len(resp.Errors) > 0 {
			log.Warn().
				Int("received", resp.Received).
				Int("accepted", resp.Accepted).
				Msg("Bulk ingestion partially rejected")
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func decodeBulk(raw json.RawMessage) ([]models.EventRequest, error) {
	var requests []models.EventRequest
	if err := json.Unmarshal(raw, &requests); err != nil {
		var envelope struct {
			Events []models.EventRequest `json:"events"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, errors.New("invalid request body")
		}
		requests = envelope.Events
	}

	if len(requests) == 0 {
		return nil, errors.New("no events provided")
	}
	if len(requests) > MaxBulkEvents {
		return nil, fmt.Errorf("too many events: %d exceeds limit of %d", len(requests), MaxBulkEvents)
	}
	return requests, nil
}

func statusFor(err error) int {
	if models.IsValidation(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func messageFor(err error) string {
	if models.IsValidation(err) {
		return err.Error()
	}
	return "failed to store event"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
