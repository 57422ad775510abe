package monitoring

import (
	"context"
	"fmt"

	"github.com/your-username/agent-observability/backend/internal/models"
)

// StoreProbe is the subset of the event store the database checker needs.
type StoreProbe interface {
	Health(ctx context.Context) error
	Path() string
	Counts(ctx context.Context) (*models.StoreCounts, error)
}

// DatabaseHealthChecker pings the embedded store and reports row counts.
type DatabaseHealthChecker struct {
	store StoreProbe
}

func NewDatabaseHealthChecker(store StoreProbe) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{store: store}
}

// Name returns the name of the checker
func (d *DatabaseHealthChecker) Name() string {
	return "database"
}

// Check performs the health check
func (d *DatabaseHealthChecker) Check(ctx context.Context) (*ComponentHealth, error) {
	health := &ComponentHealth{
		Name:    d.Name(),
		Status:  HealthStatusOK,
		Details: map[string]interface{}{"path": d.store.Path()},
	}

	if err := d.store.Health(ctx); err != nil {
		return health, fmt.Errorf("store not reachable: %w", err)
	}

	counts, err := d.store.Counts(ctx)
	if err != nil {
		health.Status = HealthStatusDegraded
		health.Message = err.Error()
		return health, nil
	}
	health.Details["counts"] = counts

	return health, nil
}
