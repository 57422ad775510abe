package monitoring

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusDown     HealthStatus = "down"
)

// ComponentHealth represents health information for a single component
type ComponentHealth struct {
	Name         string                 `json:"name"`
	Status       HealthStatus           `json:"status"`
	Message      string                 `json:"message,omitempty"`
	LastChecked  time.Time              `json:"last_checked"`
	ResponseTime int64                  `json:"response_time_ms"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// SystemHealth is the /health body.
type SystemHealth struct {
	Status     HealthStatus                `json:"status"`
	Mode       string                      `json:"mode"`
	Timestamp  time.Time                   `json:"timestamp"`
	Uptime     float64                     `json:"uptime"`
	Metrics    map[string]float64          `json:"metrics"`
	Database   *ComponentHealth            `json:"database,omitempty"`
	Components map[string]*ComponentHealth `json:"components"`
	Features   map[string]bool             `json:"features"`
	SystemInfo SystemInfo                  `json:"system_info"`
}

// SystemInfo contains system-level information
type SystemInfo struct {
	GoVersion     string  `json:"go_version"`
	NumGoroutines int     `json:"num_goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumCPU        int     `json:"num_cpu"`
}

// HealthChecker defines the interface for health checks
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) (*ComponentHealth, error)
}

// HealthMonitor runs the registered checkers and assembles the health snapshot.
type HealthMonitor struct {
	mu        sync.RWMutex
	checkers  map[string]HealthChecker
	startTime time.Time
	mode      string
	features  map[string]bool
	metrics   *Metrics
}

func NewHealthMonitor(mode string, features map[string]bool, metrics *Metrics) *HealthMonitor {
	return &HealthMonitor{
		checkers:  make(map[string]HealthChecker),
		startTime: time.Now(),
		mode:      mode,
		features:  features,
		metrics:   metrics,
	}
}

// RegisterChecker registers a health checker
func (h *HealthMonitor) RegisterChecker(checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[checker.Name()] = checker
}

// GetHealth performs all health checks and returns system health
func (h *HealthMonitor) GetHealth(ctx context.Context) *SystemHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health := &SystemHealth{
		Status:     HealthStatusOK,
		Mode:       h.mode,
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(h.startTime).Seconds(),
		Metrics:    h.metrics.Snapshot(),
		Components: make(map[string]*ComponentHealth),
		Features:   h.features,
		SystemInfo: getSystemInfo(),
	}

	var (
		g       errgroup.Group
		resMu   sync.Mutex
		results = make(map[string]*ComponentHealth, len(h.checkers))
	)
	for name, checker := range h.checkers {
		g.Go(func() error {
			start := time.Now()
			component, err := checker.Check(ctx)
			if component == nil {
				component = &ComponentHealth{Name: name, Status: HealthStatusOK}
			}
			if err != nil {
				component.Status = HealthStatusDown
				component.Message = err.Error()
			}
			component.ResponseTime = time.Since(start).Milliseconds()
			component.LastChecked = time.Now().UTC()

			resMu.Lock()
			results[name] = component
			resMu.Unlock()
			// A failed check degrades the snapshot, never the request.
			return nil
		})
	}
	_ = g.Wait()

	for name, component := range results {
		health.Components[name] = component

		switch component.Status {
		case HealthStatusDown:
			health.Status = HealthStatusDown
		case HealthStatusDegraded:
			if health.Status != HealthStatusDown {
				health.Status = HealthStatusDegraded
			}
		}
	}
	health.Database = health.Components["database"]

	return health
}

func getSystemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemoryAllocMB: float64(m.Alloc) / 1024 / 1024,
		NumCPU:        runtime.NumCPU(),
	}
}
