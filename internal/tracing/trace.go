package tracing

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/your-username/agent-observability/backend/internal/models"
	"github.com/your-username/agent-observability/backend/internal/monitoring"
)

const (
	traceIDLength = 16
	spanIDLength  = 8
)

// Store is the persistence the trace manager works against.
type Store interface {
	InsertTrace(ctx context.Context, t *models.Trace) error
	GetTrace(ctx context.Context, traceID string) (*models.Trace, error)
	FinishTrace(ctx context.Context, traceID, status string, endTime time.Time) (*models.Trace, error)
	GetTraceEvents(ctx context.Context, traceID string) ([]models.Event, error)
	ListTraces(ctx context.Context, limit int) ([]models.Trace, error)
}

// TraceManager correlates events into traces and manages trace lifecycle.
type TraceManager struct {
	store         Store
	metrics       *monitoring.Metrics
	tracePatterns []TracePattern
	now           func() time.Time
}

// TracePattern defines where a tracing convention puts its ids, both as
// structured fields and inside free text.
type TracePattern struct {
	Name        string
	Pattern     *regexp.Regexp
	TraceField  string
	SpanField   string
	ParentField string
}

// NewTraceManager creates a new trace manager
func NewTraceManager(store Store, metrics *monitoring.Metrics) *TraceManager {
	return &TraceManager{
		store:   store,
		metrics: metrics,
		now:     time.Now,
		tracePatterns: []TracePattern{
			{
				Name:        "OpenTelemetry",
				Pattern:     regexp.MustCompile(`trace[_-]?id["\s:=]+([a-fA-F0-9]{32})`),
				TraceField:  "trace_id",
				SpanField:   "span_id",
				ParentField: "parent_span_id",
			},
			{
				Name:        "Jaeger",
				Pattern:     regexp.MustCompile(`"?traceID"?\s*:\s*"?([a-fA-F0-9]{32})"?`),
				TraceField:  "traceID",
				SpanField:   "spanID",
				ParentField: "parentSpanID",
			},
			{
				Name:        "Zipkin",
				Pattern:     regexp.MustCompile(`"?traceId"?\s*:\s*"?([a-fA-F0-9]{16,32})"?`),
				TraceField:  "traceId",
				SpanField:   "id",
				ParentField: "parentId",
			},
			{
				Name:        "X-Ray",
				Pattern:     regexp.MustCompile(`Root=([0-9a-fA-F-]+);`),
				TraceField:  "trace_id",
				SpanField:   "id",
				ParentField: "parent_id",
			},
		},
	}
}

// GenerateTraceID returns a 16 hex character id derived from the current
// time and random bytes.
func GenerateTraceID() string {
	return generateID(traceIDLength)
}

// GenerateSpanID returns an 8 hex character span id.
func GenerateSpanID() string {
	return generateID(spanIDLength)
}

func generateID(n int) string {
	seed := make([]byte, 16)
	_, _ = rand.Read(seed)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d-%x", time.Now().UnixNano(), seed)))
	return hex.EncodeToString(sum[:])[:n]
}

// StartTrace creates an active trace and returns it.
func (tm *TraceManager) StartTrace(ctx context.Context, operationName, serviceName string, tags json.RawMessage) (*models.Trace, error) {
	t := &models.Trace{
		TraceID:       GenerateTraceID(),
		OperationName: operationName,
		ServiceName:   serviceName,
		StartTime:     tm.now().UTC(),
		Status:        models.TraceStatusActive,
		Tags:          tags,
	}
	if err := tm.store.InsertTrace(ctx, t); err != nil {
		return nil, err
	}
	tm.metrics.RecordTraceStarted()
	return t, nil
}

// FinishTrace closes a trace. A trace that does not exist is ignored and
// (nil, nil) is returned.
func (tm *TraceManager) FinishTrace(ctx context.Context, traceID, status string) (*models.Trace, error) {
	if status == "" {
		status = models.TraceStatusCompleted
	}
	t, err := tm.store.FinishTrace(ctx, traceID, status, tm.now().UTC())
	if errors.Is(err, models.ErrNotFound) {
		log.Debug().Str("trace_id", traceID).Msg("Finish requested for unknown trace")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tm.metrics.RecordTraceFinished(status)
	return t, nil
}

// GetTrace returns a trace with its event timeline and span tree.
func (tm *TraceManager) GetTrace(ctx context.Context, traceID string) (*models.TraceDetail, error) {
	t, err := tm.store.GetTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}
	events, err := tm.store.GetTraceEvents(ctx, traceID)
	if err != nil {
		return nil, err
	}
	return &models.TraceDetail{
		Trace:  t,
		Events: events,
		Spans:  tm.buildSpans(events),
	}, nil
}

// GetTraceEvents returns the events of a trace oldest first.
func (tm *TraceManager) GetTraceEvents(ctx context.Context, traceID string) ([]models.Event, error) {
	return tm.store.GetTraceEvents(ctx, traceID)
}

// ListTraces returns the most recent traces.
func (tm *TraceManager) ListTraces(ctx context.Context, limit int) ([]models.Trace, error) {
	return tm.store.ListTraces(ctx, limit)
}

// ProcessEvent fills in trace correlation for an event before it is stored.
// Ids already on the event win; otherwise they are read from known tracing
// conventions in tags, payload and summary. An event with no trace id, or one
// naming a trace that does not exist yet, opens a new trace: it is returned
// and must be passed to OpenTrace once the event is stored. An event joining
// an existing trace gets a span id if it has none and nil is returned.
func (tm *TraceManager) ProcessEvent(ctx context.Context, e *models.Event) (*models.Trace, error) {
	attrs := eventAttributes(e)

	if e.TraceID == "" {
		traceID, spanID, parentID := tm.extractIDs(e, attrs)
		e.TraceID = traceID
		if e.SpanID == "" {
			e.SpanID = spanID
		}
		if e.ParentSpanID == "" {
			e.ParentSpanID = parentID
		}
	}

	if e.TraceID == "" {
		e.TraceID = GenerateTraceID()
		return tm.traceFromEvent(e, attrs), nil
	}

	_, err := tm.store.GetTrace(ctx, e.TraceID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return tm.traceFromEvent(e, attrs), nil
	case err != nil:
		return nil, err
	}

	if e.SpanID == "" {
		e.SpanID = GenerateSpanID()
	}
	return nil, nil
}

// OpenTrace stores a trace returned by ProcessEvent. A trace id that is
// already stored is left as it is.
func (tm *TraceManager) OpenTrace(ctx context.Context, t *models.Trace) error {
	if err := tm.store.InsertTrace(ctx, t); err != nil {
		return err
	}
	tm.metrics.RecordTraceStarted()
	return nil
}

func (tm *TraceManager) traceFromEvent(e *models.Event, attrs map[string]interface{}) *models.Trace {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = tm.now().UTC()
	}
	operation := e.EventType
	if op := operationFromAttributes(attrs); op != "" {
		operation = op
	}

	return &models.Trace{
		TraceID:       e.TraceID,
		OperationName: operation,
		ServiceName:   e.App,
		StartTime:     ts,
		Status:        models.TraceStatusActive,
		Tags:          e.Tags,
	}
}

// extractIDs reads trace, span and parent ids from the first convention whose
// trace field is present, falling back to a trace id found in the summary text.
func (tm *TraceManager) extractIDs(e *models.Event, attrs map[string]interface{}) (traceID, spanID, parentID string) {
	for _, pattern := range tm.tracePatterns {
		tid, ok := attrs[pattern.TraceField].(string)
		if !ok || tid == "" {
			continue
		}
		spanID, _ = attrs[pattern.SpanField].(string)
		parentID, _ = attrs[pattern.ParentField].(string)
		return tid, spanID, parentID
	}

	if e.Summary == "" {
		return "", "", ""
	}
	for _, pattern := range tm.tracePatterns {
		matches := pattern.Pattern.FindStringSubmatch(e.Summary)
		if len(matches) > 1 {
			return matches[1], "", ""
		}
	}
	return "", "", ""
}

// eventAttributes merges top-level payload and tag objects, tags winning.
func eventAttributes(e *models.Event) map[string]interface{} {
	attrs := make(map[string]interface{})
	for _, raw := range []json.RawMessage{e.Payload, e.Tags} {
		if len(raw) == 0 {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal(raw, &obj); err != nil {
			continue
		}
		for k, v := range obj {
			attrs[k] = v
		}
	}
	return attrs
}

func operationFromAttributes(attrs map[string]interface{}) string {
	for _, key := range []string{"operation", "span.name", "operation_name"} {
		if op, ok := attrs[key].(string); ok && op != "" {
			return op
		}
	}
	return ""
}

// buildSpans groups trace events by span id and links children to parents.
// Spans whose parent is not part of the trace are returned as roots.
func (tm *TraceManager) buildSpans(events []models.Event) []*models.Span {
	spanMap := make(map[string]*models.Span)
	var order []*models.Span

	for i := range events {
		e := &events[i]
		if e.SpanID == "" {
			continue
		}

		span, ok := spanMap[e.SpanID]
		if !ok {
			span = &models.Span{
				SpanID:    e.SpanID,
				ParentID:  e.ParentSpanID,
				Service:   e.App,
				Operation: tm.extractOperation(e),
				StartTime: e.Timestamp,
				EndTime:   e.Timestamp,
				Status:    getSpanStatus(e.EventType),
			}
			spanMap[e.SpanID] = span
			order = append(order, span)
		}

		if e.Timestamp.Before(span.StartTime) {
			span.StartTime = e.Timestamp
		}
		if e.Timestamp.After(span.EndTime) {
			span.EndTime = e.Timestamp
		}
		span.Duration = span.EndTime.Sub(span.StartTime).Milliseconds()
		if getSpanStatus(e.EventType) == "error" {
			span.Status = "error"
		}
		span.EventIDs = append(span.EventIDs, e.ID)
	}

	roots := make([]*models.Span, 0)
	for _, span := range order {
		if parent, ok := spanMap[span.ParentID]; ok && span.ParentID != "" && parent != span {
			parent.Children = append(parent.Children, span)
			continue
		}
		roots = append(roots, span)
	}

	sort.SliceStable(roots, func(i, j int) bool {
		return roots[i].StartTime.Before(roots[j].StartTime)
	})
	return roots
}

var operationPatterns = []struct {
	pattern *regexp.Regexp
	index   int
}{
	{regexp.MustCompile(`(?i)(GET|POST|PUT|DELETE|PATCH)\s+([^\s]+)`), 0},
	{regexp.MustCompile(`(?i)operation[:\s]+([^\s,]+)`), 1},
	{regexp.MustCompile(`(?i)method[:\s]+([^\s,]+)`), 1},
	{regexp.MustCompile(`(?i)calling\s+([^\s]+)`), 1},
	{regexp.MustCompile(`(?i)executing\s+([^\s]+)`), 1},
}

// extractOperation names a span from its event's attributes or summary,
// falling back to the event type.
func (tm *TraceManager) extractOperation(e *models.Event) string {
	if op := operationFromAttributes(eventAttributes(e)); op != "" {
		return op
	}

	for _, p := range operationPatterns {
		matches := p.pattern.FindStringSubmatch(e.Summary)
		if len(matches) > p.index {
			return matches[p.index]
		}
	}

	if words := strings.Fields(e.Summary); len(words) > 0 {
		return strings.Join(words[:min(3, len(words))], " ")
	}
	return e.EventType
}

// getSpanStatus determines span status from the event type
func getSpanStatus(eventType string) string {
	switch strings.ToLower(eventType) {
	case "error", "fatal", "panic":
		return "error"
	case "warn", "warning":
		return "warning"
	default:
		return "ok"
	}
}
