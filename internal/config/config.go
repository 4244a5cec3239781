// Package config loads runtime settings from GROVE_* environment variables.
// Command-line flags override what is loaded here.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/grove/internal/auth"
	"github.com/roach88/grove/internal/state"
)

// Prefix is prepended to every variable name.
const Prefix = "GROVE_"

// Config holds every tunable.
type Config struct {
	DB       string `env:"DB"        envDefault:"grove.db"`
	RemoteDB string `env:"REMOTE_DB"`

	UserID      string `env:"USER_ID"`
	Token       string `env:"TOKEN"`
	TokenSecret string `env:"TOKEN_SECRET"`

	RemoteTimeout    time.Duration `env:"REMOTE_TIMEOUT"     envDefault:"15s"`
	PersistDebounce  time.Duration `env:"PERSIST_DEBOUNCE"   envDefault:"300ms"`
	RetryBase        time.Duration `env:"RETRY_BASE"         envDefault:"1s"`
	RetryMax         time.Duration `env:"RETRY_MAX"          envDefault:"30s"`
	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"10"`
	SyncInterval     time.Duration `env:"SYNC_INTERVAL"      envDefault:"1m"`

	WaterResetHour int    `env:"WATER_RESET_HOUR" envDefault:"6"`
	Timezone       string `env:"TIMEZONE"         envDefault:"Local"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DB) == "" {
		errs = append(errs, errors.New("DB must not be empty"))
	}
	if c.WaterResetHour < 0 || c.WaterResetHour > 23 {
		errs = append(errs, fmt.Errorf("WATER_RESET_HOUR must be 0-23, got %d", c.WaterResetHour))
	}
	for name, d := range map[string]time.Duration{
		"REMOTE_TIMEOUT": c.RemoteTimeout,
		"RETRY_BASE":     c.RetryBase,
		"RETRY_MAX":      c.RetryMax,
		"SYNC_INTERVAL":  c.SyncInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.PersistDebounce < 0 {
		errs = append(errs, fmt.Errorf("PERSIST_DEBOUNCE must not be negative, got %s", c.PersistDebounce))
	}
	if c.RetryMax < c.RetryBase {
		errs = append(errs, fmt.Errorf("RETRY_MAX (%s) is below RETRY_BASE (%s)", c.RetryMax, c.RetryBase))
	}
	if c.RetryMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive, got %d", c.RetryMaxAttempts))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Token != "" && c.TokenSecret == "" {
		errs = append(errs, errors.New("TOKEN_SECRET is required when TOKEN is set"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location resolves Timezone. "Local" and "" mean the process location.
func (c Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	return loc, nil
}

// Rules returns the default rules with the configured reset hour.
func (c Config) Rules() state.Rules {
	r := state.DefaultRules()
	r.WaterResetHour = c.WaterResetHour
	return r
}

// Identity picks the identity provider: a signed token when one is set,
// else the plain user id. With neither set, UserID reports
// auth.ErrNoIdentity.
func (c Config) Identity(now func() time.Time) auth.Identity {
	if c.Token != "" {
		return auth.NewJWT(c.Token, []byte(c.TokenSecret), auth.WithNow(now))
	}
	return auth.Static(c.UserID)
}

// TelemetryEnabled reports whether traces should be exported.
func (c Config) TelemetryEnabled() bool {
	return c.OTelEnabled && c.OTelEndpoint != ""
}
