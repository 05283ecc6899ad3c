// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Venue           VenueConfig   `mapstructure:"venue"`
	Loop            LoopConfig    `mapstructure:"loop"`
	Monitor         MonitorConfig `mapstructure:"monitor"`
	Retry           RetryConfig   `mapstructure:"retry"`
	Guard           GuardConfig   `mapstructure:"guard"`
	Events          EventsConfig  `mapstructure:"events"`
	Logging         LoggingConfig `mapstructure:"logging"`
	SessionsFile    string        `mapstructure:"sessions_file"`
	ShutdownTimeout int           `mapstructure:"shutdown_timeout"` // ms
}

// VenueConfig selects the trading venue adapter. base_url and private_key
// apply to "rest"; starting_balance and price_seed to "paper".
type VenueConfig struct {
	Kind            string  `mapstructure:"kind"`
	BaseURL         string  `mapstructure:"base_url"`
	PrivateKey      string  `mapstructure:"private_key"`
	RequestTimeout  int     `mapstructure:"request_timeout"` // ms
	StartingBalance float64 `mapstructure:"starting_balance"`
	PriceSeed       int64   `mapstructure:"price_seed"`
}

// LoopConfig tunes the per-session strategy loops. Intervals are ms.
type LoopConfig struct {
	ActiveInterval  int `mapstructure:"active_interval"`
	RelaxedInterval int `mapstructure:"relaxed_interval"`
	ActionTimeout   int `mapstructure:"action_timeout"`
}

// MonitorConfig tunes the position pollers. Intervals are ms.
type MonitorConfig struct {
	ActiveInterval  int `mapstructure:"active_interval"`
	RelaxedInterval int `mapstructure:"relaxed_interval"`
	PollTimeout     int `mapstructure:"poll_timeout"`
}

// RetryConfig tunes transient-error retries. Delays are ms.
type RetryConfig struct {
	MaxAttempts    int `mapstructure:"max_attempts"`
	BaseDelay      int `mapstructure:"base_delay"`
	MaxDelay       int `mapstructure:"max_delay"`
	AttemptTimeout int `mapstructure:"attempt_timeout"`
}

// GuardConfig tunes the action guard. max_hold is ms.
type GuardConfig struct {
	MaxHold int `mapstructure:"max_hold"`
}

// EventsConfig tunes the broadcaster. TTL and sweep are ms.
type EventsConfig struct {
	QueueSize     int `mapstructure:"queue_size"`
	HeartbeatTTL  int `mapstructure:"heartbeat_ttl"`
	SweepInterval int `mapstructure:"sweep_interval"`
}

// LoggingConfig configures the zap tee: console plus rotated file.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

const (
	DefaultLoopActiveInterval  = 3000
	DefaultLoopRelaxedInterval = 30000
	DefaultActionTimeout       = 45000
	DefaultPollActiveInterval  = 2000
	DefaultPollRelaxedInterval = 15000
	DefaultPollTimeout         = 10000
	DefaultRetryMaxAttempts    = 3
	DefaultRetryBaseDelay      = 1000
	DefaultRetryMaxDelay       = 30000
	DefaultRetryAttemptTimeout = 10000
	DefaultGuardMaxHold        = 120000
	DefaultEventQueueSize      = 64
	DefaultHeartbeatTTL        = 90000
	DefaultSweepInterval       = 15000
	DefaultShutdownTimeout     = 30000
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"venue.kind":               "paper",
		"venue.request_timeout":    30000,
		"venue.starting_balance":   10000,
		"venue.price_seed":         1,
		"loop.active_interval":     DefaultLoopActiveInterval,
		"loop.relaxed_interval":    DefaultLoopRelaxedInterval,
		"loop.action_timeout":      DefaultActionTimeout,
		"monitor.active_interval":  DefaultPollActiveInterval,
		"monitor.relaxed_interval": DefaultPollRelaxedInterval,
		"monitor.poll_timeout":     DefaultPollTimeout,
		"retry.max_attempts":       DefaultRetryMaxAttempts,
		"retry.base_delay":         DefaultRetryBaseDelay,
		"retry.max_delay":          DefaultRetryMaxDelay,
		"retry.attempt_timeout":    DefaultRetryAttemptTimeout,
		"guard.max_hold":           DefaultGuardMaxHold,
		"events.queue_size":        DefaultEventQueueSize,
		"events.heartbeat_ttl":     DefaultHeartbeatTTL,
		"events.sweep_interval":    DefaultSweepInterval,
		"logging.level":            "info",
		"logging.file":             "logs/avantis-bot.log",
		"logging.max_size_mb":      10,
		"logging.max_backups":      5,
		"logging.max_age_days":     30,
		"logging.compress":         true,
		"logging.console":          true,
		"sessions_file":            "configs/sessions.yaml",
		"shutdown_timeout":         DefaultShutdownTimeout,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	kind := strings.ToLower(strings.TrimSpace(cfg.Venue.Kind))
	if kind == "" {
		return errors.New("missing venue.kind in configuration")
	}
	if kind == "rest" {
		if cfg.Venue.BaseURL == "" {
			return errors.New("venue.base_url is required for the rest venue")
		}
		if err := validateURL(cfg.Venue.BaseURL, "http"); err != nil {
			return errors.New("invalid venue.base_url protocol")
		}
		if cfg.Venue.PrivateKey == "" {
			return errors.New("venue.private_key is required for the rest venue")
		}
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	positive := map[string]int{
		"venue.request_timeout":    cfg.Venue.RequestTimeout,
		"loop.active_interval":     cfg.Loop.ActiveInterval,
		"loop.relaxed_interval":    cfg.Loop.RelaxedInterval,
		"loop.action_timeout":      cfg.Loop.ActionTimeout,
		"monitor.active_interval":  cfg.Monitor.ActiveInterval,
		"monitor.relaxed_interval": cfg.Monitor.RelaxedInterval,
		"monitor.poll_timeout":     cfg.Monitor.PollTimeout,
		"retry.max_attempts":       cfg.Retry.MaxAttempts,
		"retry.base_delay":         cfg.Retry.BaseDelay,
		"retry.max_delay":          cfg.Retry.MaxDelay,
		"retry.attempt_timeout":    cfg.Retry.AttemptTimeout,
		"guard.max_hold":           cfg.Guard.MaxHold,
		"events.queue_size":        cfg.Events.QueueSize,
		"events.heartbeat_ttl":     cfg.Events.HeartbeatTTL,
		"events.sweep_interval":    cfg.Events.SweepInterval,
		"shutdown_timeout":         cfg.ShutdownTimeout,
	}
	for key, value := range positive {
		if value <= 0 {
			return fmt.Errorf("invalid %s", key)
		}
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

// loadEnvironmentVariables overlays secrets and endpoints from the
// environment so they can stay out of the config file:
// AVANTIS_BOT_VENUE_PRIVATE_KEY, AVANTIS_BOT_VENUE_BASE_URL.
func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("AVANTIS_BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envKey := v.GetString("venue.private_key"); envKey != "" {
		cfg.Venue.PrivateKey = envKey
	}
	if envURL := v.GetString("venue.base_url"); envURL != "" {
		cfg.Venue.BaseURL = envURL
	}
	return nil
}
