// Package config loads and validates the coordinator's startup configuration:
// database connection, conversation/meeting/handler bounds, and telemetry
// toggles. Everything else in the coordinator's API surface is per-call
// (spec.md §6).
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the umbrella object returned by Load, used throughout the
// application the way the teacher's config.Config wraps its registries.
type Config struct {
	configDir string

	Database     DatabaseConfig
	Conversation *ConversationConfig
	Handler      *HandlerConfig
	Meeting      *MeetingConfig

	// MetricsEnabled toggles the pkg/metrics Prometheus registry.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// TracingEnabled toggles pkg/telemetry OpenTelemetry spans.
	TracingEnabled bool `yaml:"tracing_enabled"`
}

// fileConfig is the subset of Config that may come from a YAML file; the
// database connection is environment-only (matches the teacher, which never
// puts credentials in the YAML config tree).
type fileConfig struct {
	Conversation   *ConversationConfig `yaml:"conversation"`
	Handler        *HandlerConfig      `yaml:"handler"`
	Meeting        *MeetingConfig      `yaml:"meeting"`
	MetricsEnabled *bool               `yaml:"metrics_enabled"`
	TracingEnabled *bool               `yaml:"tracing_enabled"`
}

// Load reads coordinator.yaml from configDir (if present), overlays
// environment variables, fills in defaults for anything unset, and
// validates the result.
func Load(configDir string) (*Config, error) {
	cfg := &Config{
		configDir:    configDir,
		Conversation: DefaultConversationConfig(),
		Handler:      DefaultHandlerConfig(),
		Meeting:      DefaultMeetingConfig(),
	}

	path := configDir + "/coordinator.yaml"
	if data, err := os.ReadFile(path); err == nil {
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
		if fc.Conversation != nil {
			cfg.Conversation = fc.Conversation
		}
		if fc.Handler != nil {
			cfg.Handler = fc.Handler
		}
		if fc.Meeting != nil {
			cfg.Meeting = fc.Meeting
		}
		if fc.MetricsEnabled != nil {
			cfg.MetricsEnabled = *fc.MetricsEnabled
		}
		if fc.TracingEnabled != nil {
			cfg.TracingEnabled = *fc.TracingEnabled
		}
	} else if !os.IsNotExist(err) {
		return nil, NewLoadError(path, err)
	}

	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MetricsEnabled = b
		}
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.TracingEnabled = b
		}
	}

	dbCfg, err := LoadDatabaseConfigFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Database = dbCfg

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Conversation.MaxTimeout <= 0 || c.Conversation.MaxTimeout > 300_000_000_000 {
		return NewValidationError("conversation", "max_timeout", fmt.Errorf("must be in (0, 300]s"))
	}
	if c.Meeting.MaxTurnDuration <= 0 || c.Meeting.MaxTurnDuration > 3600_000_000_000 {
		return NewValidationError("meeting", "max_turn_duration", fmt.Errorf("must be in (0, 3600]s"))
	}
	if c.Meeting.MaxParticipants <= 0 {
		return NewValidationError("meeting", "max_participants", fmt.Errorf("must be positive"))
	}
	return nil
}

// ConfigDir returns the directory Load was called with.
func (c *Config) ConfigDir() string { return c.configDir }
