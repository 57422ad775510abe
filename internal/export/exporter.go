package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/your-username/agent-observability/backend/internal/models"
)

// Format is an export file format.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatExcel Format = "xlsx"
)

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// ParseFormat accepts csv, json or xlsx. Empty means csv.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON, FormatExcel:
		return f, nil
	case "excel":
		return FormatExcel, nil
	}
	return "", &models.ValidationError{Field: "format", Reason: "must be csv, json or xlsx"}
}

// DefaultFields is the column order used when no fields are requested.
var DefaultFields = []string{
	"id", "timestamp", "app", "session_id", "event_type", "severity",
	"summary", "trace_id", "span_id", "payload", "tags",
}

var knownFields = map[string]bool{
	"id": true, "timestamp": true, "app": true, "session_id": true,
	"event_type": true, "severity": true, "summary": true, "payload": true,
	"trace_id": true, "span_id": true, "parent_span_id": true, "tags": true,
	"created_at": true,
}

// Options selects the events to export and how to lay them out.
type Options struct {
	Format         Format
	Filter         models.EventFilter
	Fields         []string
	IncludeHeaders bool
}

// Result describes a finished export.
type Result struct {
	Format   Format        `json:"format"`
	RowCount int           `json:"row_count"`
	Duration time.Duration `json:"duration"`
	FileName string        `json:"file_name"`
}

// EventSource is the query side of the event store.
type EventSource interface {
	QueryEvents(ctx context.Context, f models.EventFilter) ([]models.Event, error)
}

// Exporter writes filtered events as CSV, JSON or a spreadsheet.
type Exporter struct {
	store EventSource
	now   func() time.Time
}

func NewExporter(store EventSource) *Exporter {
	return &Exporter{store: store, now: time.Now}
}

// ValidateFields rejects unknown columns. Columns of the form payload.<key>
// or tags.<key> read a top-level key of that JSON object.
func ValidateFields(fields []string) error {
	for _, f := range fields {
		if knownFields[f] {
			continue
		}
		if key, ok := nestedKey(f); ok && key != "" {
			continue
		}
		return &models.ValidationError{Field: "fields", Reason: fmt.Sprintf("unknown field %q", f)}
	}
	return nil
}

// Export queries the store and writes the result to w.
func (e *Exporter) Export(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	start := e.now()
	if len(opts.Fields) == 0 {
		opts.Fields = DefaultFields
	}
	if err := ValidateFields(opts.Fields); err != nil {
		return nil, err
	}

	events, err := e.store.QueryEvents(ctx, opts.Filter)
	if err != nil {
		return nil, err
	}

	switch opts.Format {
	case FormatCSV:
		err = writeCSV(w, events, opts)
	case FormatJSON:
		err = writeJSON(w, events, start)
	case FormatExcel:
		err = writeExcel(w, events, opts)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("write %s export: %w", opts.Format, err)
	}

	return &Result{
		Format:   opts.Format,
		RowCount: len(events),
		Duration: e.now().Sub(start),
		FileName: fmt.Sprintf("events_%s.%s", start.UTC().Format("20060102_150405"), opts.Format),
	}, nil
}

func writeCSV(w io.Writer, events []models.Event, opts Options) error {
	cw := csv.NewWriter(w)
	if opts.IncludeHeaders {
		if err := cw.Write(opts.Fields); err != nil {
			return err
		}
	}
	for i := range events {
		if err := cw.Write(row(&events[i], opts.Fields)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, events []models.Event, exported time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"events":   events,
		"count":    len(events),
		"exported": exported.UTC(),
	})
}

func writeExcel(w io.Writer, events []models.Event, opts Options) error {
	file := excelize.NewFile()
	defer file.Close()

	const sheet = "Events"
	if err := file.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	headerStyle, err := file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 12},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 2},
		},
	})
	if err != nil {
		return err
	}

	for col, header := range opts.Fields {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := file.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
		if err := file.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return err
		}
	}

	lastCol, err := excelize.ColumnNumberToName(len(opts.Fields))
	if err != nil {
		return err
	}
	if err := file.SetColWidth(sheet, "A", lastCol, 20); err != nil {
		return err
	}

	for r := range events {
		for col, value := range row(&events[r], opts.Fields) {
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				return err
			}
			if err := file.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}

	if len(events) > 0 {
		ref := fmt.Sprintf("A1:%s%d", lastCol, len(events)+1)
		if err := file.AutoFilter(sheet, ref, nil); err != nil {
			return err
		}
	}

	return file.Write(w)
}

// row renders one event in the requested column order.
func row(e *models.Event, fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, cell(e, f))
	}
	return out
}

func cell(e *models.Event, field string) string {
	switch field {
	case "id":
		return strconv.FormatInt(e.ID, 10)
	case "timestamp":
		return e.Timestamp.UTC().Format(time.RFC3339Nano)
	case "created_at":
		return e.CreatedAt.UTC().Format(time.RFC3339Nano)
	case "app":
		return e.App
	case "session_id":
		return e.SessionID
	case "event_type":
		return e.EventType
	case "severity":
		return strconv.Itoa(e.Severity)
	case "summary":
		return e.Summary
	case "payload":
		return string(e.Payload)
	case "tags":
		return string(e.Tags)
	case "trace_id":
		return e.TraceID
	case "span_id":
		return e.SpanID
	case "parent_span_id":
		return e.ParentSpanID
	}

	key, _ := nestedKey(field)
	raw := e.Payload
	if strings.HasPrefix(field, "tags.") {
		raw = e.Tags
	}
	return lookup(raw, key)
}

func nestedKey(field string) (string, bool) {
	for _, prefix := range []string{"payload.", "tags."} {
		if strings.HasPrefix(field, prefix) {
			return strings.TrimPrefix(field, prefix), true
		}
	}
	return "", false
}

// lookup returns a top-level value of a JSON object as text.
func lookup(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	v, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}
