package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/your-username/agent-observability/backend/internal/export"
)

// ExportHandler handles data export API endpoints
type ExportHandler struct {
	exporter *export.Exporter
}

// NewExportHandler creates a new export handler
func NewExportHandler(exporter *export.Exporter) *ExportHandler {
	return &ExportHandler{exporter: exporter}
}

// ExportEvents writes the events matching the usual event query parameters
// as an attachment. format selects csv, json or xlsx; fields is a comma
// separated column list; headers=false drops the CSV header row.
func (h *ExportHandler) ExportEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	filter, err := parseEventFilter(q)
	if err != nil {
		handleError(w, r, err)
		return
	}

	opts := export.Options{
		Format:         format,
		Filter:         filter,
		Fields:         splitFields(q.Get("fields")),
		IncludeHeaders: q.Get("headers") != "false",
	}

	// Buffer so a failed query can still be answered with a JSON error.
	var buf bytes.Buffer
	result, err := h.exporter.Export(r.Context(), &buf, opts)
	if err != nil {
		handleError(w, r, err)
		return
	}

	log.Debug().
		Str("format", string(result.Format)).
		Int("rows", result.RowCount).
		Dur("duration", result.Duration).
		Msg("Events exported")

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", result.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Export-Rows", strconv.Itoa(result.RowCount))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// GetExportFormats lists the supported export formats.
func (h *ExportHandler) GetExportFormats(w http.ResponseWriter, r *http.Request) {
	formats := []map[string]string{
		{"format": string(export.FormatCSV), "name": "CSV", "mime_type": export.FormatCSV.ContentType()},
		{"format": string(export.FormatJSON), "name": "JSON", "mime_type": export.FormatJSON.ContentType()},
		{"format": string(export.FormatExcel), "name": "Excel", "mime_type": export.FormatExcel.ContentType()},
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"formats": formats,
		"fields":  export.DefaultFields,
	})
}

// splitFields splits comma-separated field list
func splitFields(fields string) []string {
	var result []string
	for _, field := range strings.Split(fields, ",") {
		field = strings.TrimSpace(field)
		if field != "" {
			result = append(result, field)
		}
	}
	return result
}
