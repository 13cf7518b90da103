// Package config provides configuration management for the telemetry repository service.
//
// Configuration is loaded from multiple sources in this order:
// 1. Configuration files (YAML)
// 2. Environment variables
// 3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Environment   string              `mapstructure:"environment"`
	Server        ServerConfig        `mapstructure:"server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Realtime      RealtimeConfig      `mapstructure:"realtime"`
}

// AppConfig contains application-level configuration.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// ServerConfig contains HTTP and WebSocket server configuration for the dashboard-facing
// query/subscribe surface. The receiver and HTTP/UI layer themselves are external
// collaborators; this section only configures how this process binds and times out.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// ObservabilityConfig carries the in-memory repository's bounded-growth limits
// (TelemetryLimitOptions in the spec).
type ObservabilityConfig struct {
	MaxLogCount        int `mapstructure:"max_log_count"`
	MaxTraceCount      int `mapstructure:"max_trace_count"`
	MaxMetricsCount    int `mapstructure:"max_metrics_count"`
	MaxAttributeCount  int `mapstructure:"max_attribute_count"`
	MaxAttributeLength int `mapstructure:"max_attribute_length"` // 0 = unlimited
	MaxSpanEventCount  int `mapstructure:"max_span_event_count"`
}

// RealtimeConfig contains the dashboard push-transport configuration (the broadcaster and
// the websocket listener that front the Subscription Engine).
type RealtimeConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	MaxSubscribers    int           `mapstructure:"max_subscribers"`
	MinExecuteInterval time.Duration `mapstructure:"min_execute_interval"`
}

// Validate validates the main configuration and all sub-configurations.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability config validation failed: %w", err)
	}
	return nil
}

// Validate validates server configuration.
func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", sc.Port)
	}
	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}
	return nil
}

// Validate validates the telemetry limit options.
func (oc *ObservabilityConfig) Validate() error {
	if oc.MaxLogCount <= 0 {
		return errors.New("max_log_count must be positive")
	}
	if oc.MaxTraceCount <= 0 {
		return errors.New("max_trace_count must be positive")
	}
	if oc.MaxMetricsCount <= 0 {
		return errors.New("max_metrics_count must be positive")
	}
	if oc.MaxAttributeCount <= 0 {
		return errors.New("max_attribute_count must be positive")
	}
	if oc.MaxAttributeLength < 0 {
		return errors.New("max_attribute_length cannot be negative")
	}
	if oc.MaxSpanEventCount <= 0 {
		return errors.New("max_span_event_count must be positive")
	}
	return nil
}

// Load reads configuration from (in order of increasing precedence) built-in defaults, an
// optional YAML config file, and environment variables.
func Load() (*Config, error) {
	// Load .env file if present (optional, for local development).
	_ = godotenv.Load(".env")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/brokle-telemetry")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	//nolint:errcheck
	viper.BindEnv("server.port", "PORT")
	//nolint:errcheck
	viper.BindEnv("server.host", "HOST")
	//nolint:errcheck
	viper.BindEnv("environment", "ENV")
	//nolint:errcheck
	viper.BindEnv("logging.level", "LOG_LEVEL")
	//nolint:errcheck
	viper.BindEnv("logging.format", "LOG_FORMAT")
	//nolint:errcheck
	viper.BindEnv("observability.max_log_count", "MAX_LOG_COUNT")
	//nolint:errcheck
	viper.BindEnv("observability.max_trace_count", "MAX_TRACE_COUNT")
	//nolint:errcheck
	viper.BindEnv("observability.max_metrics_count", "MAX_METRICS_COUNT")
	//nolint:errcheck
	viper.BindEnv("observability.max_attribute_count", "MAX_ATTRIBUTE_COUNT")
	//nolint:errcheck
	viper.BindEnv("observability.max_attribute_length", "MAX_ATTRIBUTE_LENGTH")
	//nolint:errcheck
	viper.BindEnv("observability.max_span_event_count", "MAX_SPAN_EVENT_COUNT")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("app.name", "brokle-telemetry")
	viper.SetDefault("app.version", "0.1.0")
	viper.SetDefault("environment", "development")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "15s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("observability.max_log_count", 10000)
	viper.SetDefault("observability.max_trace_count", 10000)
	viper.SetDefault("observability.max_metrics_count", 30000)
	viper.SetDefault("observability.max_attribute_count", 128)
	viper.SetDefault("observability.max_attribute_length", 0)
	viper.SetDefault("observability.max_span_event_count", 128)

	viper.SetDefault("realtime.buffer_size", 1000)
	viper.SetDefault("realtime.max_subscribers", 10000)
	viper.SetDefault("realtime.min_execute_interval", "0s")
}

// IsDevelopment returns true if the configured environment is "development".
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if the configured environment is "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
