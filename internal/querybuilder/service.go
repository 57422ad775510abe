package querybuilder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/your-username/agent-observability/backend/internal/monitoring"
)

// Runner executes a compiled, parameterized read statement.
type Runner interface {
	Select(ctx context.Context, query string, args ...any) ([]map[string]interface{}, error)
}

// RejectedError marks a request refused before it reached the store.
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string {
	return e.Err.Error()
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// IsRejected reports whether err came from validation or compilation.
func IsRejected(err error) bool {
	var r *RejectedError
	return errors.As(err, &r)
}

// Service turns realtime query requests into store reads.
type Service struct {
	runner    Runner
	validator *Validator
	maxLimit  int
	metrics   *monitoring.Metrics
}

// NewService creates a new query builder service
func NewService(runner Runner, maxLimit int, metrics *monitoring.Metrics) *Service {
	return &Service{
		runner:    runner,
		validator: NewValidator(),
		maxLimit:  maxLimit,
		metrics:   metrics,
	}
}

// Compile accepts either a JSON string holding a text statement or a JSON
// object holding a structured Query.
func (s *Service) Compile(raw json.RawMessage) (*Compiled, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &RejectedError{Err: errors.New("query is required")}
	}

	var q *Query
	switch raw[0] {
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, &RejectedError{Err: fmt.Errorf("invalid query: %w", err)}
		}
		if err := s.validator.Validate(text); err != nil {
			return nil, &RejectedError{Err: err}
		}
		parsed, err := Parse(s.validator.removeComments(text))
		if err != nil {
			return nil, &RejectedError{Err: err}
		}
		q = parsed
	case '{':
		q = &Query{}
		if err := json.Unmarshal(raw, q); err != nil {
			return nil, &RejectedError{Err: fmt.Errorf("invalid query: %w", err)}
		}
	default:
		return nil, &RejectedError{Err: errors.New("query must be a string or an object")}
	}

	compiled, err := Build(q, s.maxLimit)
	if err != nil {
		return nil, &RejectedError{Err: err}
	}
	return compiled, nil
}

// Execute compiles and runs a query. Time columns are returned as UTC times.
func (s *Service) Execute(ctx context.Context, raw json.RawMessage) ([]map[string]interface{}, error) {
	start := time.Now()

	compiled, err := s.Compile(raw)
	if err != nil {
		s.metrics.RecordQuery(false, time.Since(start))
		return nil, err
	}

	rows, err := s.runner.Select(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		s.metrics.RecordQuery(false, time.Since(start))
		log.Error().Err(err).Str("source", compiled.Source).Msg("Realtime query failed")
		return nil, err
	}

	for _, row := range rows {
		for _, field := range compiled.TimeFields {
			if ms, ok := row[field].(int64); ok {
				row[field] = time.UnixMilli(ms).UTC()
			}
		}
	}

	s.metrics.RecordQuery(true, time.Since(start))
	log.Debug().
		Str("source", compiled.Source).
		Int("rows", len(rows)).
		Dur("duration", time.Since(start)).
		Msg("Realtime query executed")
	return rows, nil
}
