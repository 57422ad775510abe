package analytics

import (
	"sort"
	"time"

	"github.com/your-username/agent-observability/backend/internal/models"
)

// AnomalyDetector classifies hourly per-app buckets against the app's
// trailing baseline.
type AnomalyDetector struct {
	History          time.Duration
	Recent           time.Duration
	SpikeFactor      float64
	DropFactor       float64
	ErrorSpikeFactor float64
}

// NewAnomalyDetector returns a detector with a 7 day baseline and a 24 hour
// classification window.
func NewAnomalyDetector() *AnomalyDetector {
	return &AnomalyDetector{
		History:          7 * 24 * time.Hour,
		Recent:           24 * time.Hour,
		SpikeFactor:      2,
		DropFactor:       0.5,
		ErrorSpikeFactor: 3,
	}
}

type baseline struct {
	events  float64
	errors  float64
	buckets int
}

// Detect returns the non-normal buckets within the recent window, newest first.
// Means are taken over the hours in which the app reported anything.
func (d *AnomalyDetector) Detect(buckets []models.HourlyBucket, now time.Time) []models.Anomaly {
	baselines := make(map[string]*baseline)
	historyStart := now.Add(-d.History)
	for _, b := range buckets {
		if b.Hour.Before(historyStart.Truncate(time.Hour)) {
			continue
		}
		bl, ok := baselines[b.App]
		if !ok {
			bl = &baseline{}
			baselines[b.App] = bl
		}
		bl.events += float64(b.EventCount)
		bl.errors += float64(b.ErrorCount)
		bl.buckets++
	}

	recentStart := now.Add(-d.Recent).Truncate(time.Hour)
	anomalies := make([]models.Anomaly, 0)
	for _, b := range buckets {
		if b.Hour.Before(recentStart) {
			continue
		}
		bl, ok := baselines[b.App]
		if !ok || bl.buckets == 0 {
			continue
		}

		avgEvents := bl.events / float64(bl.buckets)
		avgErrors := bl.errors / float64(bl.buckets)

		kind := d.Classify(b, avgEvents, avgErrors)
		if kind == models.AnomalyNormal {
			continue
		}
		anomalies = append(anomalies, models.Anomaly{
			App:         b.App,
			Hour:        b.Hour,
			EventCount:  b.EventCount,
			ErrorCount:  b.ErrorCount,
			AvgEvents:   avgEvents,
			AvgErrors:   avgErrors,
			AnomalyType: kind,
		})
	}

	sort.SliceStable(anomalies, func(i, j int) bool {
		if !anomalies[i].Hour.Equal(anomalies[j].Hour) {
			return anomalies[i].Hour.After(anomalies[j].Hour)
		}
		return anomalies[i].App < anomalies[j].App
	})
	return anomalies
}

// Classify labels one bucket. Checks run in order: spike, drop, error spike.
func (d *AnomalyDetector) Classify(b models.HourlyBucket, avgEvents, avgErrors float64) string {
	count := float64(b.EventCount)
	switch {
	case count > d.SpikeFactor*avgEvents:
		return models.AnomalySpike
	case count < d.DropFactor*avgEvents:
		return models.AnomalyDrop
	case float64(b.ErrorCount) > d.ErrorSpikeFactor*avgErrors:
		return models.AnomalyErrorSpike
	default:
		return models.AnomalyNormal
	}
}
