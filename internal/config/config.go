// Package config loads runtime settings from the environment and an optional
// .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all runtime settings for the attendance service.
type Config struct {
	BindAddr         string        `mapstructure:"APP_BIND_ADDR"`
	ShutdownTimeout  time.Duration `mapstructure:"APP_SHUTDOWN_TIMEOUT"`
	MetricsNamespace string        `mapstructure:"APP_METRICS_NAMESPACE"`
	AllowAnyOrigin   bool          `mapstructure:"APP_ALLOW_ANY_ORIGIN"`

	// DatabaseURL is the Postgres DSN. Empty selects the in-memory store.
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	DatabaseConnectAttempts int    `mapstructure:"DATABASE_CONNECT_ATTEMPTS"`

	// AwayChannelsRaw is the comma-separated "venue=channel" list behind AwayChannels.
	AwayChannelsRaw string            `mapstructure:"AWAY_CHANNELS"`
	AwayChannels    map[string]string `mapstructure:"-"`

	StatusPeriod    time.Duration `mapstructure:"STATUS_PERIOD"`
	StatusSiteLabel string        `mapstructure:"STATUS_SITE_LABEL"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// Load reads .env (if present), then the environment, and validates the result.
// Environment variables override .env values.
func Load() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("APP_BIND_ADDR", ":8080")
	v.SetDefault("APP_SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("APP_METRICS_NAMESPACE", "voiceauditor")
	v.SetDefault("APP_ALLOW_ANY_ORIGIN", false)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATABASE_CONNECT_ATTEMPTS", 5)
	v.SetDefault("AWAY_CHANNELS", "")
	v.SetDefault("STATUS_PERIOD", "30s")
	v.SetDefault("STATUS_SITE_LABEL", "eris.gg")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	cfg.BindAddr = strings.TrimSpace(cfg.BindAddr)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.StatusSiteLabel = strings.TrimSpace(cfg.StatusSiteLabel)

	if cfg.BindAddr == "" {
		return Config{}, errors.New("config: APP_BIND_ADDR must be set")
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, errors.New("config: APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if err := validateDatabaseURL(cfg.DatabaseURL); err != nil {
		return Config{}, err
	}
	if cfg.DatabaseConnectAttempts <= 0 {
		return Config{}, errors.New("config: DATABASE_CONNECT_ATTEMPTS must be positive")
	}
	if cfg.StatusPeriod < time.Second {
		return Config{}, errors.New("config: STATUS_PERIOD must be at least 1s")
	}

	away, err := ParseAwayChannels(cfg.AwayChannelsRaw)
	if err != nil {
		return Config{}, err
	}
	cfg.AwayChannels = away

	return cfg, nil
}

// validateDatabaseURL requires URL form because the same value is handed to
// golang-migrate, whose postgres driver rejects keyword/value DSNs.
func validateDatabaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: DATABASE_URL is not a valid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
	default:
		return errors.New("config: DATABASE_URL must be a postgres:// or postgresql:// URL")
	}
	return nil
}

// ParseAwayChannels decodes "venue=channel,venue=channel". An empty string
// yields a nil map, which leaves the away rule off for every venue.
func ParseAwayChannels(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		venue, channel, ok := strings.Cut(part, "=")
		venue = strings.TrimSpace(venue)
		channel = strings.TrimSpace(channel)
		if !ok || venue == "" || channel == "" {
			return nil, fmt.Errorf("config: AWAY_CHANNELS entry %q must look like venue=channel", part)
		}
		if prev, dup := out[venue]; dup && prev != channel {
			return nil, fmt.Errorf("config: AWAY_CHANNELS has two away channels for venue %q", venue)
		}
		out[venue] = channel
	}
	return out, nil
}
