package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/your-username/agent-observability/backend/internal/models"
	"github.com/your-username/agent-observability/backend/internal/monitoring"
)

// Store persists validated events.
type Store interface {
	InsertEvent(ctx context.Context, e *models.Event) (int64, error)
}

// Tracer correlates an event with a trace before it is stored. A non-nil
// trace from ProcessEvent is handed to OpenTrace after the event is stored.
type Tracer interface {
	ProcessEvent(ctx context.Context, e *models.Event) (*models.Trace, error)
	OpenTrace(ctx context.Context, t *models.Trace) error
}

// Evaluator runs alert rules against a stored event.
type Evaluator interface {
	Evaluate(ctx context.Context, e *models.Event) []*models.Alert
}

// Broadcaster pushes a stored event to realtime subscribers.
type Broadcaster interface {
	BroadcastEvent(e *models.Event)
}

// Observer sees every stored event before alert evaluation.
type Observer interface {
	ObserveEvent(e *models.Event)
}

// EventProcessor runs an event through the ingestion pipeline:
// trace enrichment, persistence, alert evaluation and fan-out.
// Tracer, evaluator and broadcaster are optional.
//
// Events go through the pipeline one at a time, so subscribers receive
// them in the order they were stored.
type EventProcessor struct {
	mu sync.Mutex

	store       Store
	tracer      Tracer
	evaluator   Evaluator
	broadcaster Broadcaster
	observers   []Observer
	metrics     *monitoring.Metrics
	now         func() time.Time
}

// NewEventProcessor creates a new event processor
func NewEventProcessor(store Store, tracer Tracer, evaluator Evaluator, broadcaster Broadcaster, metrics *monitoring.Metrics) *EventProcessor {
	return &EventProcessor{
		store:       store,
		tracer:      tracer,
		evaluator:   evaluator,
		broadcaster: broadcaster,
		metrics:     metrics,
		now:         time.Now,
	}
}

// AddObserver registers o. It must be called before the processor serves requests.
func (p *EventProcessor) AddObserver(o Observer) {
	p.observers = append(p.observers, o)
}

// Ingest validates a request and runs it through the pipeline.
func (p *EventProcessor) Ingest(ctx context.Context, req *models.EventRequest) (*models.Event, error) {
	e, err := req.ToEvent(p.now().UTC())
	if err != nil {
		p.metrics.RecordRejected("validation")
		return nil, err
	}
	if err := p.ProcessEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// ProcessEvent stores an already built event. Only a storage failure is
// returned; enrichment and alerting failures are logged.
func (p *EventProcessor) ProcessEvent(ctx context.Context, e *models.Event) error {
	start := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	var opened *models.Trace
	if p.tracer != nil {
		var err error
		if opened, err = p.tracer.ProcessEvent(ctx, e); err != nil {
			log.Warn().Err(err).
				Str("app", e.App).
				Str("trace_id", e.TraceID).
				Msg("Trace enrichment failed")
		}
	}

	if _, err := p.store.InsertEvent(ctx, e); err != nil {
		if models.IsValidation(err) {
			p.metrics.RecordRejected("validation")
		} else {
			p.metrics.RecordRejected("storage")
			log.Error().Err(err).Str("app", e.App).Str("event_type", e.EventType).Msg("Failed to store event")
		}
		return err
	}

	if opened != nil {
		if err := p.tracer.OpenTrace(ctx, opened); err != nil {
			log.Warn().Err(err).Str("trace_id", opened.TraceID).Msg("Failed to record trace")
		}
	}
	for _, o := range p.observers {
		o.ObserveEvent(e)
	}
	if p.evaluator != nil {
		p.evaluator.Evaluate(ctx, e)
	}
	if p.broadcaster != nil {
		p.broadcaster.BroadcastEvent(e)
	}

	p.metrics.RecordEvent(time.Since(start))
	return nil
}
