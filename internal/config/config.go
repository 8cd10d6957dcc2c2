package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultTimezone = "Europe/Bucharest"

type Config struct {
	Port         string
	PostgresURL  string
	KafkaBrokers []string
	ChangeTopic  string
	NotifierURL  string
	OTLPEndpoint string
	// AlertPlayer is a command that plays a WAV stream from stdin, such as
	// "aplay -q". Empty disables the server-side ring.
	AlertPlayer []string

	Location        *time.Location
	FeedStartDelay  time.Duration
	AlertDuration   time.Duration
	RefreshInterval time.Duration
	NotifyTimeout   time.Duration
	LogLevel        slog.Level
}

// Load reads the configuration from the environment, after loading a .env
// file from the working directory when one exists. Variables already set in
// the environment win over the file.
func Load(defaultPort string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getenv("PORT", defaultPort),
		PostgresURL:  os.Getenv("POSTGRES_URL"),
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		ChangeTopic:  getenv("CHANGE_TOPIC", "orders.changes"),
		NotifierURL:  os.Getenv("NOTIFIER_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AlertPlayer:  strings.Fields(os.Getenv("ALERT_PLAYER")),
	}

	var errs []error

	loc, err := time.LoadLocation(getenv("KITCHEN_TIMEZONE", DefaultTimezone))
	if err != nil {
		errs = append(errs, fmt.Errorf("KITCHEN_TIMEZONE: %w", err))
	}
	cfg.Location = loc

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"FEED_START_DELAY", time.Second, &cfg.FeedStartDelay},
		{"ALERT_DURATION", 10 * time.Second, &cfg.AlertDuration},
		{"REFRESH_INTERVAL", time.Minute, &cfg.RefreshInterval},
		{"NOTIFY_TIMEOUT", 10 * time.Second, &cfg.NotifyTimeout},
	}
	for _, d := range durations {
		v, err := getDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
		}
		*d.dest = v
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that have no usable zero value.
func (c *Config) Validate() error {
	var errs []error
	if c.FeedStartDelay < 0 {
		errs = append(errs, errors.New("FEED_START_DELAY must not be negative"))
	}
	if c.AlertDuration <= 0 {
		errs = append(errs, errors.New("ALERT_DURATION must be positive"))
	}
	if c.RefreshInterval < 0 {
		errs = append(errs, errors.New("REFRESH_INTERVAL must not be negative"))
	}
	if c.NotifyTimeout <= 0 {
		errs = append(errs, errors.New("NOTIFY_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// Require reports every named setting that is empty.
func (c *Config) Require(keys ...string) error {
	var errs []error
	for _, key := range keys {
		var empty bool
		switch key {
		case "POSTGRES_URL":
			empty = c.PostgresURL == ""
		case "KAFKA_BROKERS":
			empty = len(c.KafkaBrokers) == 0
		case "NOTIFIER_URL":
			empty = c.NotifierURL == ""
		case "CHANGE_TOPIC":
			empty = c.ChangeTopic == ""
		default:
			return fmt.Errorf("unknown setting %s", key)
		}
		if empty {
			errs = append(errs, fmt.Errorf("%s environment variable is required", key))
		}
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
