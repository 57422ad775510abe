package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-username/agent-observability/backend/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	for name := range envKeys {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Database.MaxEventsPerQuery)
	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, 7, cfg.Retention.TraceDays)
	assert.Equal(t, 24*time.Hour, cfg.Retention.CleanupInterval)
	assert.Equal(t, 5*time.Minute, cfg.Alerts.Cooldown)
	assert.True(t, cfg.Features.Alerts)
	assert.True(t, cfg.Features.Tracing)
	assert.True(t, cfg.Features.AnomalyDetection)
	assert.True(t, cfg.Features.ErrorGrouping)
	assert.False(t, cfg.Auth.Enabled)

	require.Len(t, cfg.Alerts.Rules, 3)
	assert.Equal(t, models.ConditionErrorRate, cfg.Alerts.Rules[0].Condition)
	assert.InDelta(t, 0.1, cfg.Alerts.Rules[0].Threshold, 1e-9)
	assert.InDelta(t, 100, cfg.Alerts.Rules[1].Threshold, 1e-9)
	assert.InDelta(t, 5000, cfg.Alerts.Rules[2].Threshold, 1e-9)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_EVENTS_PER_QUERY", "50")
	t.Setenv("RETENTION_DAYS", "3")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("API_KEY", "secret")
	t.Setenv("ENABLE_ALERTS", "false")
	t.Setenv("WEBHOOK_URL", "http://hooks.local/alert")
	t.Setenv("ALERT_ERROR_RATE_THRESHOLD", "0.25")
	t.Setenv("ALERT_COOLDOWN", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 50, cfg.Database.MaxEventsPerQuery)
	assert.Equal(t, 3, cfg.Retention.Days)
	assert.Equal(t, 72*time.Hour, cfg.Retention.EventRetention())
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "secret", cfg.Auth.APIKey)
	assert.False(t, cfg.Features.Alerts)
	assert.Equal(t, "http://hooks.local/alert", cfg.Alerts.WebhookURL)
	assert.Equal(t, 30*time.Second, cfg.Alerts.Cooldown)
	assert.InDelta(t, 0.25, cfg.Alerts.Rules[0].Threshold, 1e-9)
}

func TestLoadRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.yaml")
	content := `
server:
  port: "4000"
alerts:
  rules:
    - name: only_errors
      condition: error_rate
      threshold: 0.5
      window: 1h
      enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.Server.Port)
	require.Len(t, cfg.Alerts.Rules, 1)
	assert.Equal(t, "only_errors", cfg.Alerts.Rules[0].Name)
	assert.Equal(t, time.Hour, cfg.Alerts.Rules[0].Window)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
}
