package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-username/agent-observability/backend/internal/config"
	"github.com/your-username/agent-observability/backend/internal/models"
	"github.com/your-username/agent-observability/backend/internal/monitoring"
)

type fakePruner struct {
	mu       sync.Mutex
	policies []models.RetentionPolicy
	err      error
}

func (f *fakePruner) PruneExpired(ctx context.Context, p models.RetentionPolicy) (*models.PruneResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policies = append(f.policies, p)
	if f.err != nil {
		return nil, f.err
	}
	return &models.PruneResult{EventsDeleted: 3, TracesDeleted: 1}, nil
}

func (f *fakePruner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.policies)
}

func TestPolicyFromRetentionConfig(t *testing.T) {
	cfg := ConfigFromRetention(config.RetentionConfig{
		Days:             30,
		TraceDays:        7,
		AlertDays:        14,
		AlertAutoResolve: 24 * time.Hour,
		CleanupInterval:  time.Hour,
	})
	m := NewManager(cfg, &fakePruner{}, nil)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	p := m.Policy(now)
	assert.Equal(t, now.AddDate(0, 0, -30), p.EventsBefore)
	assert.Equal(t, now.AddDate(0, 0, -7), p.TracesBefore)
	assert.Equal(t, now.Add(-24*time.Hour), p.ResolveAlertsBefore)
	assert.Equal(t, now.AddDate(0, 0, -14), p.ResolvedAlertsBefore)

	disabled := NewManager(&Config{EventTTL: time.Hour}, &fakePruner{}, nil).Policy(now)
	assert.True(t, disabled.TracesBefore.IsZero())
	assert.True(t, disabled.ResolvedAlertsBefore.IsZero())
}

func TestRunCleanupRecordsMetrics(t *testing.T) {
	metrics := monitoring.NewMetrics()
	m := NewManager(DefaultConfig(), &fakePruner{}, metrics)

	result, err := m.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, result.EventsDeleted)
	assert.Equal(t, float64(4), metrics.Snapshot()["retention_rows_total"])

	failing := NewManager(DefaultConfig(), &fakePruner{err: errors.New("locked")}, metrics)
	_, err = failing.RunCleanup(context.Background())
	require.Error(t, err)
	assert.Equal(t, float64(2), metrics.Snapshot()["retention_runs_total"])
}

func TestCleanupRoutineRunsOnScheduleAndStops(t *testing.T) {
	pruner := &fakePruner{}
	m := NewManager(&Config{EventTTL: time.Hour, CleanupInterval: 10 * time.Millisecond}, pruner, nil)

	m.StartCleanupRoutine()
	require.Eventually(t, func() bool { return pruner.calls() >= 3 }, 2*time.Second, 5*time.Millisecond)

	m.StopCleanupRoutine()
	stopped := pruner.calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, pruner.calls())

	// a second stop is a no-op
	m.StopCleanupRoutine()
}
