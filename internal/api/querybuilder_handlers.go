package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/your-username/agent-observability/backend/internal/querybuilder"
)

// QueryService compiles and runs read requests in the realtime query grammar.
type QueryService interface {
	Compile(raw json.RawMessage) (*querybuilder.Compiled, error)
	Execute(ctx context.Context, raw json.RawMessage) ([]map[string]interface{}, error)
}

type queryRequest struct {
	Query json.RawMessage `json:"query"`
}

// GetAvailableFields returns the queryable columns of a source (events by default).
func GetAvailableFields() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := r.URL.Query().Get("source")
		if source == "" {
			source = "events"
		}
		fields, err := querybuilder.AvailableFields(source)
		if err != nil {
			badRequest(w, "source", "must be events, traces or alerts")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"source": source,
			"fields": fields,
		})
	}
}

// GenerateSQL compiles a query without running it.
func GenerateSQL(service QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeQuery(w, r)
		if !ok {
			return
		}
		compiled, err := service.Compile(req.Query)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sql":    compiled.SQL,
			"args":   compiled.Args,
			"source": compiled.Source,
		})
	}
}

// ExecuteQuery runs a query and returns its rows. Rejected queries are 400.
func ExecuteQuery(service QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeQuery(w, r)
		if !ok {
			return
		}
		rows, err := service.Execute(r.Context(), req.Query)
		if querybuilder.IsRejected(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"rows":  rows,
			"count": len(rows),
		})
	}
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (*queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return &req, true
}
