package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/your-username/agent-observability/backend/internal/models"
)

const (
	defaultErrorRateWindow = 24 * time.Hour
	defaultEventRateWindow = time.Minute
	defaultCooldown        = 5 * time.Minute
)

// AlertStore is the persistence the alert engine reads from and writes to.
type AlertStore interface {
	GetStats(ctx context.Context, window time.Duration) (*models.Stats, error)
	CountEventsSince(ctx context.Context, since time.Time) (int64, error)
	InsertAlert(ctx context.Context, a *models.Alert) (int64, error)
	MarkWebhookSent(ctx context.Context, id int64) error
}

// AlertNotification is what listeners and the webhook receive when a rule fires.
type AlertNotification struct {
	Alert     *models.Alert    `json:"alert"`
	Rule      models.AlertRule `json:"-"`
	Event     *models.Event    `json:"event"`
	Observed  float64          `json:"observed"`
	Severity  string           `json:"severity"`
	Timestamp time.Time        `json:"timestamp"`
}

// AlertListener interface for alert notifications
type AlertListener interface {
	OnAlert(n *AlertNotification)
}

// AlertManager evaluates the configured rules against each ingested event.
// Rules are isolated from each other: one failing rule never prevents the
// others from running, and nothing here fails ingestion.
type AlertManager struct {
	store     AlertStore
	metrics   *Metrics
	notifier  Notifier
	cooldown  time.Duration
	now       func() time.Time
	mu        sync.Mutex
	rules     []models.AlertRule
	lastFired map[string]time.Time
	listeners []AlertListener
	dispatch  sync.WaitGroup
}

// NewAlertManager creates a new alert manager
func NewAlertManager(store AlertStore, rules []models.AlertRule, cooldown time.Duration, metrics *Metrics) *AlertManager {
	if cooldown < 0 {
		cooldown = defaultCooldown
	}
	return &AlertManager{
		store:     store,
		metrics:   metrics,
		cooldown:  cooldown,
		now:       time.Now,
		rules:     append([]models.AlertRule(nil), rules...),
		lastFired: make(map[string]time.Time),
	}
}

// SetNotifier installs the external notifier used for every triggered alert.
func (am *AlertManager) SetNotifier(n Notifier) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.notifier = n
}

// AddListener adds an alert listener
func (am *AlertManager) AddListener(listener AlertListener) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.listeners = append(am.listeners, listener)
}

// Rules returns a copy of the configured rules.
func (am *AlertManager) Rules() []models.AlertRule {
	am.mu.Lock()
	defer am.mu.Unlock()
	return append([]models.AlertRule(nil), am.rules...)
}

// Evaluate runs every enabled rule against the event that just arrived and
// returns the alerts it recorded.
func (am *AlertManager) Evaluate(ctx context.Context, e *models.Event) []*models.Alert {
	var fired []*models.Alert
	for _, rule := range am.Rules() {
		if !rule.Enabled {
			continue
		}

		triggered, observed, err := am.check(ctx, rule, e)
		if err != nil {
			log.Warn().Err(err).
				Str("rule", rule.Name).
				Int64("event_id", e.ID).
				Msg("Alert rule evaluation failed")
			continue
		}
		if !triggered {
			continue
		}

		alert, err := am.record(ctx, rule, e, observed)
		if err != nil {
			log.Error().Err(err).
				Str("rule", rule.Name).
				Int64("event_id", e.ID).
				Msg("Failed to record alert")
			continue
		}
		if alert != nil {
			fired = append(fired, alert)
		}
	}
	return fired
}

// check evaluates one rule, converting a panic into an error.
func (am *AlertManager) check(ctx context.Context, rule models.AlertRule, e *models.Event) (triggered bool, observed float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s panicked: %v", rule.Name, r)
		}
	}()

	switch rule.Condition {
	case models.ConditionErrorRate:
		window := rule.Window
		if window <= 0 {
			window = defaultErrorRateWindow
		}
		stats, err := am.store.GetStats(ctx, window)
		if err != nil {
			return false, 0, err
		}
		if stats.TotalEvents == 0 {
			return false, 0, nil
		}
		rate := stats.ErrorRate()
		return rate > rule.Threshold, rate, nil

	case models.ConditionEventRate:
		window := rule.Window
		if window <= 0 {
			window = defaultEventRateWindow
		}
		count, err := am.store.CountEventsSince(ctx, am.now().UTC().Add(-window))
		if err != nil {
			return false, 0, err
		}
		return float64(count) > rule.Threshold, float64(count), nil

	case models.ConditionResponseTime:
		d, ok := e.PayloadDuration()
		if !ok {
			return false, 0, nil
		}
		return d > rule.Threshold, d, nil

	default:
		return false, 0, fmt.Errorf("unknown condition %q", rule.Condition)
	}
}

func (am *AlertManager) record(ctx context.Context, rule models.AlertRule, e *models.Event, observed float64) (*models.Alert, error) {
	now := am.now().UTC()

	// Claim the cooldown slot before writing so concurrent evaluations of
	// the same rule produce a single alert.
	am.mu.Lock()
	previous, seen := am.lastFired[rule.Name]
	if seen && am.cooldown > 0 && now.Sub(previous) < am.cooldown {
		am.mu.Unlock()
		log.Debug().Str("rule", rule.Name).Msg("Alert suppressed by cooldown")
		return nil, nil
	}
	am.lastFired[rule.Name] = now
	listeners := append([]AlertListener(nil), am.listeners...)
	notifier := am.notifier
	am.mu.Unlock()

	value, err := json.Marshal(ruleSnapshot(rule, observed))
	if err != nil {
		return nil, err
	}

	alert := &models.Alert{
		RuleName:       rule.Name,
		ConditionType:  rule.Condition,
		ConditionValue: value,
		TriggeredAt:    now,
		Status:         models.AlertStatusActive,
		EventID:        e.ID,
	}
	if _, err := am.store.InsertAlert(ctx, alert); err != nil {
		am.mu.Lock()
		if seen {
			am.lastFired[rule.Name] = previous
		} else {
			delete(am.lastFired, rule.Name)
		}
		am.mu.Unlock()
		return nil, err
	}

	am.metrics.RecordAlert(string(rule.Condition))
	log.Info().
		Int64("alert_id", alert.ID).
		Str("rule", rule.Name).
		Str("condition", string(rule.Condition)).
		Float64("observed", observed).
		Float64("threshold", rule.Threshold).
		Int64("event_id", e.ID).
		Msg("Alert triggered")

	n := &AlertNotification{
		Alert:     alert,
		Rule:      rule,
		Event:     e,
		Observed:  observed,
		Severity:  models.AlertSeverityFor(rule.Condition),
		Timestamp: now,
	}

	for _, l := range listeners {
		l.OnAlert(n)
	}
	if notifier != nil {
		am.dispatch.Add(1)
		go am.notify(notifier, n)
	}

	return alert, nil
}

// notify runs off the ingestion path.
func (am *AlertManager) notify(notifier Notifier, n *AlertNotification) {
	defer am.dispatch.Done()

	ctx := context.Background()
	if err := notifier.Notify(ctx, n); err != nil {
		am.metrics.RecordWebhook(false)
		log.Warn().Err(err).
			Int64("alert_id", n.Alert.ID).
			Str("rule", n.Rule.Name).
			Msg("Alert notification failed")
		return
	}

	am.metrics.RecordWebhook(true)
	if err := am.store.MarkWebhookSent(ctx, n.Alert.ID); err != nil {
		log.Warn().Err(err).Int64("alert_id", n.Alert.ID).Msg("Failed to mark webhook sent")
	}
}

// Wait blocks until in-flight notifications finish.
func (am *AlertManager) Wait() {
	am.dispatch.Wait()
}

func ruleSnapshot(rule models.AlertRule, observed float64) map[string]interface{} {
	snap := map[string]interface{}{
		"name":      rule.Name,
		"condition": rule.Condition,
		"threshold": rule.Threshold,
		"observed":  observed,
	}
	if rule.Window > 0 {
		snap["window"] = rule.Window.String()
	}
	return snap
}
