package analytics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/your-username/agent-observability/backend/internal/cache"
	"github.com/your-username/agent-observability/backend/internal/models"
)

const (
	overviewWindow    = 24 * time.Hour
	performanceWindow = time.Hour
	reportCacheKey    = "report"
)

// Store is the read side of the event store used for analytics.
type Store interface {
	GetStats(ctx context.Context, window time.Duration) (*models.Stats, error)
	GetPerformanceByApp(ctx context.Context, window time.Duration) ([]models.AppPerformance, error)
	HourlyBuckets(ctx context.Context, since time.Time) ([]models.HourlyBucket, error)
}

// Service computes analytics on demand. Nothing is maintained between calls.
type Service struct {
	store     Store
	detector  *AnomalyDetector
	anomalies bool
	reports   *cache.MemoryCache[*models.AnalyticsReport]
	now       func() time.Time
}

func NewService(store Store, detector *AnomalyDetector, anomaliesEnabled bool) *Service {
	if detector == nil {
		detector = NewAnomalyDetector()
	}
	return &Service{
		store:     store,
		detector:  detector,
		anomalies: anomaliesEnabled,
		now:       time.Now,
	}
}

// Anomalies classifies the last day of hourly buckets against the trailing week.
func (s *Service) Anomalies(ctx context.Context) ([]models.Anomaly, error) {
	if !s.anomalies {
		return []models.Anomaly{}, nil
	}
	now := s.now().UTC()
	buckets, err := s.store.HourlyBuckets(ctx, now.Add(-s.detector.History).Truncate(time.Hour))
	if err != nil {
		return nil, err
	}
	return s.detector.Detect(buckets, now), nil
}

// EnableReportCache reuses a built report for ttl. A ttl of zero or less
// leaves every report computed on demand.
func (s *Service) EnableReportCache(ttl time.Duration) {
	if ttl <= 0 {
		s.reports = nil
		return
	}
	s.reports = cache.NewMemoryCache[*models.AnalyticsReport](1, ttl)
}

// Report gathers overview, per-app performance and anomalies concurrently.
func (s *Service) Report(ctx context.Context) (*models.AnalyticsReport, error) {
	if s.reports != nil {
		if report, ok := s.reports.Get(reportCacheKey); ok {
			return report, nil
		}
	}

	report := &models.AnalyticsReport{GeneratedAt: s.now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := s.store.GetStats(gctx, overviewWindow)
		if err != nil {
			return err
		}
		report.Overview = stats
		return nil
	})
	g.Go(func() error {
		perf, err := s.store.GetPerformanceByApp(gctx, performanceWindow)
		if err != nil {
			return err
		}
		report.Performance = perf
		return nil
	})
	g.Go(func() error {
		anomalies, err := s.Anomalies(gctx)
		if err != nil {
			return err
		}
		report.Anomalies = anomalies
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Failed to build analytics report")
		return nil, err
	}
	if s.reports != nil {
		s.reports.Set(reportCacheKey, report)
	}
	return report, nil
}

// Snapshot returns the stats and performance summary sent to new realtime subscribers.
func (s *Service) Snapshot(ctx context.Context) (*models.Stats, []models.AppPerformance, error) {
	stats, err := s.store.GetStats(ctx, overviewWindow)
	if err != nil {
		return nil, nil, err
	}
	perf, err := s.store.GetPerformanceByApp(ctx, performanceWindow)
	if err != nil {
		return nil, nil, err
	}
	return stats, perf, nil
}
