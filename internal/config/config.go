package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/your-username/agent-observability/backend/internal/models"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Retention RetentionConfig `koanf:"retention"`
	Auth      AuthConfig      `koanf:"auth"`
	Features  FeatureConfig   `koanf:"features"`
	Alerts    AlertsConfig    `koanf:"alerts"`
}

type ServerConfig struct {
	Port    string `koanf:"port"`
	Mode    string `koanf:"mode"`
	TCPAddr string `koanf:"tcp_addr"`
}

type DatabaseConfig struct {
	Path              string        `koanf:"path"`
	MaxEventsPerQuery int           `koanf:"max_events_per_query"`
	BusyTimeout       time.Duration `koanf:"busy_timeout"`
}

type RetentionConfig struct {
	Days             int           `koanf:"days"`
	TraceDays        int           `koanf:"trace_days"`
	AlertDays        int           `koanf:"alert_days"`
	AlertAutoResolve time.Duration `koanf:"alert_auto_resolve"`
	CleanupInterval  time.Duration `koanf:"cleanup_interval"`
}

type AuthConfig struct {
	Enabled   bool   `koanf:"enabled"`
	APIKey    string `koanf:"api_key"`
	JWTSecret string `koanf:"jwt_secret"`
}

type FeatureConfig struct {
	Alerts            bool          `koanf:"alerts"`
	Tracing           bool          `koanf:"tracing"`
	AnomalyDetection  bool          `koanf:"anomaly_detection"`
	ErrorGrouping     bool          `koanf:"error_grouping"`
	AnalyticsCacheTTL time.Duration `koanf:"analytics_cache_ttl"`
}

type AlertsConfig struct {
	WebhookURL            string             `koanf:"webhook_url"`
	WebhookTimeout        time.Duration      `koanf:"webhook_timeout"`
	Cooldown              time.Duration      `koanf:"cooldown"`
	ErrorRateThreshold    float64            `koanf:"error_rate_threshold"`
	EventRateThreshold    float64            `koanf:"event_rate_threshold"`
	ResponseTimeThreshold float64            `koanf:"response_time_threshold"`
	Rules                 []models.AlertRule `koanf:"rules"`
}

// envKeys maps the flat environment names onto config paths.
var envKeys = map[string]string{
	"PORT":                          "server.port",
	"SERVER_MODE":                   "server.mode",
	"TCP_ADDR":                      "server.tcp_addr",
	"DB_PATH":                       "database.path",
	"MAX_EVENTS_PER_QUERY":          "database.max_events_per_query",
	"DB_BUSY_TIMEOUT":               "database.busy_timeout",
	"RETENTION_DAYS":                "retention.days",
	"TRACE_RETENTION_DAYS":          "retention.trace_days",
	"ALERT_RETENTION_DAYS":          "retention.alert_days",
	"ALERT_AUTO_RESOLVE":            "retention.alert_auto_resolve",
	"CLEANUP_INTERVAL":              "retention.cleanup_interval",
	"AUTH_ENABLED":                  "auth.enabled",
	"API_KEY":                       "auth.api_key",
	"JWT_SECRET":                    "auth.jwt_secret",
	"ENABLE_ALERTS":                 "features.alerts",
	"ENABLE_TRACING":                "features.tracing",
	"ENABLE_ANOMALY_DETECTION":      "features.anomaly_detection",
	"ENABLE_ERROR_GROUPING":         "features.error_grouping",
	"ANALYTICS_CACHE_TTL":           "features.analytics_cache_ttl",
	"WEBHOOK_URL":                   "alerts.webhook_url",
	"WEBHOOK_TIMEOUT":               "alerts.webhook_timeout",
	"ALERT_COOLDOWN":                "alerts.cooldown",
	"ALERT_ERROR_RATE_THRESHOLD":    "alerts.error_rate_threshold",
	"ALERT_EVENT_RATE_THRESHOLD":    "alerts.event_rate_threshold",
	"ALERT_RESPONSE_TIME_THRESHOLD": "alerts.response_time_threshold",
}

var defaults = map[string]interface{}{
	"server.port":                    "3001",
	"server.mode":                    "enterprise",
	"server.tcp_addr":                "",
	"database.path":                  "./data/telemetry.db",
	"database.max_events_per_query":  1000,
	"database.busy_timeout":          "5s",
	"retention.days":                 30,
	"retention.trace_days":           7,
	"retention.alert_days":           30,
	"retention.alert_auto_resolve":   "24h",
	"retention.cleanup_interval":     "24h",
	"auth.enabled":                   false,
	"auth.api_key":                   "",
	"auth.jwt_secret":                "",
	"features.alerts":                true,
	"features.tracing":               true,
	"features.anomaly_detection":     true,
	"features.error_grouping":        true,
	"features.analytics_cache_ttl":   "0s",
	"alerts.webhook_url":             "",
	"alerts.webhook_timeout":         "5s",
	"alerts.cooldown":                "5m",
	"alerts.error_rate_threshold":    0.1,
	"alerts.event_rate_threshold":    100,
	"alerts.response_time_threshold": 5000,
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE, and the environment, in that order of precedence.
func Load() (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Database.MaxEventsPerQuery <= 0 {
		cfg.Database.MaxEventsPerQuery = 1000
	}
	if len(cfg.Alerts.Rules) == 0 {
		cfg.Alerts.Rules = cfg.Alerts.DefaultRules()
	}

	return &cfg, nil
}

// DefaultRules returns the three built-in rules parameterised by the configured thresholds.
func (a AlertsConfig) DefaultRules() []models.AlertRule {
	return []models.AlertRule{
		{
			Name:      "high_error_rate",
			Condition: models.ConditionErrorRate,
			Threshold: a.ErrorRateThreshold,
			Window:    24 * time.Hour,
			Enabled:   true,
		},
		{
			Name:      "high_event_rate",
			Condition: models.ConditionEventRate,
			Threshold: a.EventRateThreshold,
			Window:    time.Minute,
			Enabled:   true,
		},
		{
			Name:      "slow_response",
			Condition: models.ConditionResponseTime,
			Threshold: a.ResponseTimeThreshold,
			Enabled:   true,
		},
	}
}

// EventRetention returns the event retention window.
func (r RetentionConfig) EventRetention() time.Duration {
	return time.Duration(r.Days) * 24 * time.Hour
}

// TraceRetention returns the trace retention window.
func (r RetentionConfig) TraceRetention() time.Duration {
	return time.Duration(r.TraceDays) * 24 * time.Hour
}

// AlertRetention returns how long resolved alerts are kept.
func (r RetentionConfig) AlertRetention() time.Duration {
	return time.Duration(r.AlertDays) * 24 * time.Hour
}
