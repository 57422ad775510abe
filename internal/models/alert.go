package models

import (
	"encoding/json"
	"time"
)

// ConditionType names the check an alert rule performs.
type ConditionType string

const (
	ConditionErrorRate    ConditionType = "error_rate"
	ConditionEventRate    ConditionType = "event_rate"
	ConditionResponseTime ConditionType = "response_time"
)

// AlertStatus represents the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusActive   AlertStatus = "active"
	AlertStatusResolved AlertStatus = "resolved"
)

// AlertRule is a named, configurable condition evaluated on ingestion.
type AlertRule struct {
	Name      string        `json:"name" koanf:"name"`
	Condition ConditionType `json:"condition" koanf:"condition"`
	Threshold float64       `json:"threshold" koanf:"threshold"`
	Window    time.Duration `json:"window" koanf:"window"`
	Enabled   bool          `json:"enabled" koanf:"enabled"`
}

// Alert is the persisted record of a triggered rule.
type Alert struct {
	ID             int64           `json:"id"`
	RuleName       string          `json:"rule_name"`
	ConditionType  ConditionType   `json:"condition_type"`
	ConditionValue json.RawMessage `json:"condition_value"`
	TriggeredAt    time.Time       `json:"triggered_at"`
	ResolvedAt     *time.Time      `json:"resolved_at"`
	Status         AlertStatus     `json:"status"`
	EventID        int64           `json:"event_id"`
	WebhookSent    bool            `json:"webhook_sent"`
}

// AlertSeverityFor maps a rule condition to the severity label shown downstream.
func AlertSeverityFor(condition ConditionType) string {
	switch condition {
	case ConditionErrorRate:
		return "high"
	case ConditionResponseTime:
		return "medium"
	default:
		return "low"
	}
}
