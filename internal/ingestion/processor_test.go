package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-username/agent-observability/backend/internal/config"
	"github.com/your-username/agent-observability/backend/internal/models"
	"github.com/your-username/agent-observability/backend/internal/monitoring"
	"github.com/your-username/agent-observability/backend/internal/tracing"
)

// pipeline records the order in which stages see each event.
type pipeline struct {
	mu        sync.Mutex
	steps     []string
	nextID    int64
	insertErr error
	traceErr  error
	stored    []*models.Event
}

func (p *pipeline) record(step string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, step)
}

func (p *pipeline) InsertEvent(ctx context.Context, e *models.Event) (int64, error) {
	p.record("insert")
	if p.insertErr != nil {
		return 0, p.insertErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	e.ID = p.nextID
	p.stored = append(p.stored, e)
	return e.ID, nil
}

func (p *pipeline) ProcessEvent(ctx context.Context, e *models.Event) (*models.Trace, error) {
	p.record("trace")
	if p.traceErr != nil {
		return nil, p.traceErr
	}
	if e.TraceID != "" {
		return nil, nil
	}
	e.TraceID = "generated"
	return &models.Trace{TraceID: e.TraceID}, nil
}

func (p *pipeline) OpenTrace(ctx context.Context, t *models.Trace) error {
	p.record("open")
	return nil
}

func (p *pipeline) Evaluate(ctx context.Context, e *models.Event) []*models.Alert {
	p.record("evaluate")
	return nil
}

func (p *pipeline) BroadcastEvent(e *models.Event) {
	p.record("broadcast")
}

func (p *pipeline) ObserveEvent(e *models.Event) {
	p.record("observe")
}

func validRequest() *models.EventRequest {
	return &models.EventRequest{
		App:       "svc1",
		EventType: "error",
		Payload:   json.RawMessage(`{"msg":"boom"}`),
	}
}

func TestIngestRunsStagesInOrder(t *testing.T) {
	p := &pipeline{}
	metrics := monitoring.NewMetrics()
	proc := NewEventProcessor(p, p, p, p, metrics)

	e, err := proc.Ingest(context.Background(), validRequest())
	require.NoError(t, err)

	assert.EqualValues(t, 1, e.ID)
	assert.Equal(t, "generated", e.TraceID)
	assert.Equal(t, models.SeverityError, e.Severity)
	assert.Equal(t, []string{"trace", "insert", "open", "evaluate", "broadcast"}, p.steps)
	assert.Equal(t, float64(1), metrics.Snapshot()["events_received_total"])
}

func TestIngestRejectsInvalidRequest(t *testing.T) {
	p := &pipeline{}
	metrics := monitoring.NewMetrics()
	proc := NewEventProcessor(p, p, p, p, metrics)

	req := validRequest()
	req.App = ""
	_, err := proc.Ingest(context.Background(), req)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.Empty(t, p.steps)
	assert.Equal(t, float64(1), metrics.Snapshot()["events_rejected_total"])
}

func TestIngestStorageFailureSkipsFanOut(t *testing.T) {
	p := &pipeline{insertErr: &models.StorageError{Op: "insert event", Err: errors.New("disk full")}}
	proc := NewEventProcessor(p, p, p, p, nil)

	_, err := proc.Ingest(context.Background(), validRequest())
	var storageErr *models.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, []string{"trace", "insert"}, p.steps)
}

func TestIngestContinuesWhenEnrichmentFails(t *testing.T) {
	p := &pipeline{traceErr: errors.New("trace table locked")}
	proc := NewEventProcessor(p, p, p, p, nil)

	e, err := proc.Ingest(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotZero(t, e.ID)
	assert.Equal(t, []string{"trace", "insert", "evaluate", "broadcast"}, p.steps)
}

func TestIngestOptionalStages(t *testing.T) {
	p := &pipeline{}
	proc := NewEventProcessor(p, nil, nil, nil, nil)

	_, err := proc.Ingest(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"insert"}, p.steps)
}

func TestObserversSeeStoredEvents(t *testing.T) {
	p := &pipeline{}
	proc := NewEventProcessor(p, p, p, p, nil)
	proc.AddObserver(p)

	_, err := proc.Ingest(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"trace", "insert", "open", "observe", "evaluate", "broadcast"}, p.steps)

	p.steps = nil
	p.insertErr = errors.New("locked")
	_, err = proc.Ingest(context.Background(), validRequest())
	require.Error(t, err)
	assert.Equal(t, []string{"trace", "insert"}, p.steps)
}

func TestFailedInsertOpensNoTrace(t *testing.T) {
	db := newTestDB(t)
	proc := NewEventProcessor(db, tracing.NewTraceManager(db, nil), nil, nil, nil)
	ctx := context.Background()

	bad := &models.Event{EventType: "info", Payload: json.RawMessage(`{}`)}
	err := proc.ProcessEvent(ctx, bad)
	require.True(t, models.IsValidation(err))
	require.NotEmpty(t, bad.TraceID)
	_, err = db.GetTrace(ctx, bad.TraceID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	good := &models.Event{App: "svc", EventType: "info", Payload: json.RawMessage(`{}`)}
	require.NoError(t, proc.ProcessEvent(ctx, good))
	tr, err := db.GetTrace(ctx, good.TraceID)
	require.NoError(t, err)
	assert.Equal(t, "svc", tr.ServiceName)
}

type broadcastLog struct {
	mu  sync.Mutex
	ids []int64
}

func (b *broadcastLog) BroadcastEvent(e *models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids = append(b.ids, e.ID)
}

func TestConcurrentIngestBroadcastsInStoreOrder(t *testing.T) {
	db := newTestDB(t)
	metrics := monitoring.NewMetrics()
	alerts := monitoring.NewAlertManager(db, config.AlertsConfig{
		ErrorRateThreshold:    0.5,
		EventRateThreshold:    1000,
		ResponseTimeThreshold: 5000,
	}.DefaultRules(), time.Minute, metrics)
	out := &broadcastLog{}
	proc := NewEventProcessor(db, tracing.NewTraceManager(db, metrics), alerts, out, metrics)

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				req := validRequest()
				req.App = fmt.Sprintf("svc%d", w)
				if i%3 == 0 {
					req.EventType = "info"
				}
				_, err := proc.Ingest(context.Background(), req)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	alerts.Wait()

	require.Len(t, out.ids, workers*perWorker)
	for i := 1; i < len(out.ids); i++ {
		require.Greater(t, out.ids[i], out.ids[i-1], "broadcast %d out of order", i)
	}
}
