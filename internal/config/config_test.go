package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "POSTGRES_URL", "KAFKA_BROKERS", "CHANGE_TOPIC", "NOTIFIER_URL",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "KITCHEN_TIMEZONE", "FEED_START_DELAY",
		"ALERT_DURATION", "REFRESH_INTERVAL", "NOTIFY_TIMEOUT", "LOG_LEVEL", "ALERT_PLAYER",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("8080")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "orders.changes", cfg.ChangeTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, DefaultTimezone, cfg.Location.String())
	assert.Equal(t, time.Second, cfg.FeedStartDelay)
	assert.Equal(t, 10*time.Second, cfg.AlertDuration)
	assert.Equal(t, time.Minute, cfg.RefreshInterval)
	assert.Equal(t, 10*time.Second, cfg.NotifyTimeout)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("KITCHEN_TIMEZONE", "UTC")
	t.Setenv("REFRESH_INTERVAL", "0")
	t.Setenv("ALERT_DURATION", "3s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ALERT_PLAYER", "aplay  -q")

	cfg, err := Load("8080")
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Zero(t, cfg.RefreshInterval)
	assert.Equal(t, 3*time.Second, cfg.AlertDuration)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, []string{"aplay", "-q"}, cfg.AlertPlayer)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"KITCHEN_TIMEZONE", "Mars/Olympus"},
		{"FEED_START_DELAY", "soon"},
		{"ALERT_DURATION", "0s"},
		{"REFRESH_INTERVAL", "-1m"},
		{"LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load("8080")
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestConfig_Require(t *testing.T) {
	cfg := &Config{PostgresURL: "postgres://localhost/kitchen", ChangeTopic: "orders.changes"}

	assert.NoError(t, cfg.Require("POSTGRES_URL", "CHANGE_TOPIC"))

	err := cfg.Require("POSTGRES_URL", "KAFKA_BROKERS", "NOTIFIER_URL")
	assert.ErrorContains(t, err, "KAFKA_BROKERS")
	assert.ErrorContains(t, err, "NOTIFIER_URL")
	assert.NotContains(t, err.Error(), "POSTGRES_URL")

	assert.Error(t, cfg.Require("NOPE"))
}
