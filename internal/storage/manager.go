package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/your-username/agent-observability/backend/internal/config"
	"github.com/your-username/agent-observability/backend/internal/models"
	"github.com/your-username/agent-observability/backend/internal/monitoring"
)

const sweepTimeout = 5 * time.Minute

// Config holds retention configuration. A zero TTL disables that step.
type Config struct {
	EventTTL         time.Duration
	TraceTTL         time.Duration
	AlertAutoResolve time.Duration
	ResolvedAlertTTL time.Duration
	CleanupInterval  time.Duration
}

// DefaultConfig returns the default retention configuration
func DefaultConfig() *Config {
	return &Config{
		EventTTL:         30 * 24 * time.Hour,
		TraceTTL:         7 * 24 * time.Hour,
		AlertAutoResolve: 24 * time.Hour,
		ResolvedAlertTTL: 30 * 24 * time.Hour,
		CleanupInterval:  24 * time.Hour,
	}
}

// ConfigFromRetention maps the service configuration onto the scheduler config.
func ConfigFromRetention(r config.RetentionConfig) *Config {
	return &Config{
		EventTTL:         r.EventRetention(),
		TraceTTL:         r.TraceRetention(),
		AlertAutoResolve: r.AlertAutoResolve,
		ResolvedAlertTTL: r.AlertRetention(),
		CleanupInterval:  r.CleanupInterval,
	}
}

// Pruner applies a retention policy to the store.
type Pruner interface {
	PruneExpired(ctx context.Context, p models.RetentionPolicy) (*models.PruneResult, error)
}

// Manager runs the periodic retention sweep.
type Manager struct {
	config   *Config
	db       Pruner
	metrics  *monitoring.Metrics
	now      func() time.Time
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a new retention manager
func NewManager(cfg *Config, db Pruner, metrics *monitoring.Metrics) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}

	return &Manager{
		config:   cfg,
		db:       db,
		metrics:  metrics,
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Policy computes the cutoffs for a sweep running at now.
func (m *Manager) Policy(now time.Time) models.RetentionPolicy {
	var p models.RetentionPolicy
	if m.config.EventTTL > 0 {
		p.EventsBefore = now.Add(-m.config.EventTTL)
	}
	if m.config.TraceTTL > 0 {
		p.TracesBefore = now.Add(-m.config.TraceTTL)
	}
	if m.config.AlertAutoResolve > 0 {
		p.ResolveAlertsBefore = now.Add(-m.config.AlertAutoResolve)
	}
	if m.config.ResolvedAlertTTL > 0 {
		p.ResolvedAlertsBefore = now.Add(-m.config.ResolvedAlertTTL)
	}
	return p
}

// StartCleanupRoutine starts the automated cleanup process. One sweep runs
// immediately, then one per interval.
func (m *Manager) StartCleanupRoutine() {
	go m.cleanupRoutine()
	log.Info().Dur("interval", m.config.CleanupInterval).Msg("Retention cleanup routine started")
}

// StopCleanupRoutine stops the cleanup process and waits for a running sweep.
func (m *Manager) StopCleanupRoutine() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	<-m.done
}

func (m *Manager) cleanupRoutine() {
	defer close(m.done)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.runScheduled()
	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.runScheduled()
		}
	}
}

func (m *Manager) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	// Failures wait for the next tick.
	if _, err := m.RunCleanup(ctx); err != nil {
		log.Error().Err(err).Msg("Cleanup routine failed")
	}
}

// RunCleanup performs one retention sweep.
func (m *Manager) RunCleanup(ctx context.Context) (*models.PruneResult, error) {
	start := time.Now()

	result, err := m.db.PruneExpired(ctx, m.Policy(m.now().UTC()))
	if err != nil {
		m.metrics.RecordRetention(false, 0, 0, 0, 0)
		return nil, err
	}
	m.metrics.RecordRetention(true, result.EventsDeleted, result.TracesDeleted, result.AlertsResolved, result.AlertsDeleted)

	log.Info().
		Dur("duration", time.Since(start)).
		Int64("events_deleted", result.EventsDeleted).
		Int64("traces_deleted", result.TracesDeleted).
		Int64("alerts_resolved", result.AlertsResolved).
		Int64("alerts_deleted", result.AlertsDeleted).
		Msg("Cleanup routine completed")

	return result, nil
}
