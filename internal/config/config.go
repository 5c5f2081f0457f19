// Package config loads editor server settings from defaults, an optional
// config file and EDITOR_* environment variables, in increasing order of
// precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/energy-network-editor/internal/editor/state"
	"github.com/signalsfoundry/energy-network-editor/internal/logging"
	"github.com/signalsfoundry/energy-network-editor/internal/observability"
)

// EnvPrefix prefixes every environment override, e.g.
// EDITOR_SERVER_GRPC_ADDR for server.grpc_addr.
const EnvPrefix = "EDITOR"

// Config holds all configuration for the editor server.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Journal  JournalConfig  `mapstructure:"journal"`
}

// ServerConfig holds listen addresses. An empty address disables that
// listener.
type ServerConfig struct {
	GRPCAddr    string `mapstructure:"grpc_addr"`
	HTTPAddr    string `mapstructure:"http_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	ServiceName string  `mapstructure:"service_name"`
}

// SessionsConfig bounds the model registry.
type SessionsConfig struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// JournalConfig locates the command journal. An empty path disables it.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads configuration. path may name a config file (YAML, TOML or
// JSON by extension); when empty, "editor.yaml" is looked up in the
// working directory and silently skipped if absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("editor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_addr", ":50051")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.service_name", observability.DefaultServiceName)

	v.SetDefault("sessions.capacity", state.DefaultCapacity)
	v.SetDefault("sessions.ttl", state.DefaultTTL)

	v.SetDefault("journal.path", "")
}

// Validate checks that the settings are usable.
func (c *Config) Validate() error {
	if c.Server.GRPCAddr == "" && c.Server.HTTPAddr == "" {
		return fmt.Errorf("at least one of server.grpc_addr and server.http_addr must be set")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "stdout", "otlp", "otlpgrpc":
	default:
		return fmt.Errorf("tracing.exporter must be stdout or otlp, got %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	if c.Sessions.Capacity <= 0 {
		return fmt.Errorf("sessions.capacity must be greater than 0")
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("sessions.ttl must be greater than 0")
	}
	return nil
}

// LoggerConfig converts the logging section.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format}
}

// TracingSettings converts the tracing section.
func (c *Config) TracingSettings() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}
