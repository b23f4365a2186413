// Package config loads, defaults and validates the gateway configuration
// from a YAML file and ACTIONBRIDGE_* environment variables. The loaded
// Config is treated as immutable: it is built once at startup and passed
// into constructors by value or pointer, never mutated afterwards.
package config

import (
	"log/slog"
	"time"
)

// Config is the top-level gateway configuration.
type Config struct {
	// Transport selects the inbound transport: "http" or "stdio".
	// Defaults to "http".
	Transport string `yaml:"transport" mapstructure:"transport" validate:"omitempty,oneof=http stdio"`

	// APIKey is the key used to authenticate the stdio transport's single
	// session. Usually supplied via MCP_API_KEY rather than the file.
	// Never logged.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// SeedFile is an optional YAML file of catalog rows loaded at boot.
	// A "seed" section inside the config file itself is also honored.
	SeedFile string `yaml:"seed_file" mapstructure:"seed_file"`

	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Sessions bounds the session manager.
	Sessions SessionsConfig `yaml:"sessions" mapstructure:"sessions"`

	// Storage selects the catalog/credential/audit persistence backend.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Audit configures the audit pipeline and the optional file trail.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// RateLimit configures per-key/per-IP ingress rate limiting.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Telemetry configures tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	// Addr is the listen address. Defaults to "127.0.0.1:8080"; set
	// "0.0.0.0:8080" explicitly for network access.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`

	// PathPrefix is the MCP endpoint prefix. Defaults to "/mcp/v1".
	PathPrefix string `yaml:"path_prefix" mapstructure:"path_prefix" validate:"omitempty,startswith=/"`

	// LogLevel is the minimum slog level: debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// AllowedOrigins is the Origin allowlist for browser clients. Empty
	// means requests carrying an Origin header are rejected.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// TLSCert and TLSKey enable TLS when both are set.
	TLSCert string `yaml:"tls_cert" mapstructure:"tls_cert" validate:"omitempty,file"`
	TLSKey  string `yaml:"tls_key" mapstructure:"tls_key" validate:"omitempty,file"`
}

// SessionsConfig bounds the session manager.
type SessionsConfig struct {
	// MaxPerKey caps concurrent sessions per API key. Defaults to 10.
	MaxPerKey int `yaml:"max_per_key" mapstructure:"max_per_key" validate:"omitempty,min=1"`

	// MaxTotal caps concurrent sessions across the process. Defaults to 1000.
	MaxTotal int `yaml:"max_total" mapstructure:"max_total" validate:"omitempty,min=1"`

	// IdleTimeout evicts sessions idle longer than this (e.g. "30m").
	// Defaults to "1800s".
	IdleTimeout string `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"omitempty,duration"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite". Defaults to "memory".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory sqlite"`

	// Path is the SQLite database file. Required when backend is "sqlite".
	Path string `yaml:"path" mapstructure:"path" validate:"required_if=Backend sqlite"`
}

// AuditConfig configures the audit pipeline.
type AuditConfig struct {
	// ChannelSize buffers audit sends off the request path. Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is how many entries the worker writes per flush. Defaults to 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval bounds how long a partial batch waits (e.g. "1s").
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// Trail configures the JSONL file mirror.
	Trail TrailConfig `yaml:"trail" mapstructure:"trail"`
}

// TrailConfig configures the JSONL audit trail.
type TrailConfig struct {
	// Enabled turns the file trail on.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Dir holds trail-YYYY-MM-DD.jsonl files. Required when enabled.
	Dir string `yaml:"dir" mapstructure:"dir" validate:"required_if=Enabled true"`

	// RetentionDays is how long rotated files are kept. Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`

	// MaxFileSizeMB triggers size rotation within a day. Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`

	// CacheSize is the in-memory ring of recent entries. Defaults to 1000.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"omitempty,min=1"`
}

// RateLimitConfig configures ingress rate limiting.
type RateLimitConfig struct {
	// Enabled turns rate limiting on. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Rate is allowed requests per Period. Defaults to 120.
	Rate int `yaml:"rate" mapstructure:"rate" validate:"omitempty,min=1"`

	// Burst is the instantaneous allowance. Defaults to Rate.
	Burst int `yaml:"burst" mapstructure:"burst" validate:"omitempty,min=1"`

	// Period is the rate window (e.g. "1m"). Defaults to "1m".
	Period string `yaml:"period" mapstructure:"period" validate:"omitempty,duration"`

	// CleanupInterval is how often idle buckets are swept. Defaults to "5m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`

	// MaxTTL drops buckets unused for this long. Defaults to "1h".
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty,duration"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// TracingEnabled turns on the stdout span exporter.
	TracingEnabled bool `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
}

// SetDefaults fills unset optional fields. Called by Load before Validate.
func (c *Config) SetDefaults() {
	if c.Transport == "" {
		c.Transport = "http"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.PathPrefix == "" {
		c.Server.PathPrefix = "/mcp/v1"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Sessions.MaxPerKey == 0 {
		c.Sessions.MaxPerKey = 10
	}
	if c.Sessions.MaxTotal == 0 {
		c.Sessions.MaxTotal = 1000
	}
	if c.Sessions.IdleTimeout == "" {
		c.Sessions.IdleTimeout = "1800s"
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}

	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.Trail.RetentionDays == 0 {
		c.Audit.Trail.RetentionDays = 7
	}
	if c.Audit.Trail.MaxFileSizeMB == 0 {
		c.Audit.Trail.MaxFileSizeMB = 100
	}
	if c.Audit.Trail.CacheSize == 0 {
		c.Audit.Trail.CacheSize = 1000
	}

	if c.RateLimit.Rate == 0 {
		c.RateLimit.Rate = 120
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.Rate
	}
	if c.RateLimit.Period == "" {
		c.RateLimit.Period = "1m"
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}
}

// SlogLevel converts the configured log level to a slog.Level.
func (s *ServerConfig) SlogLevel() slog.Level {
	switch s.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TLSEnabled reports whether both certificate and key are configured.
func (s *ServerConfig) TLSEnabled() bool {
	return s.TLSCert != "" && s.TLSKey != ""
}

// mustDuration parses a duration string already vetted by validation.
func mustDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// IdleTimeoutDuration returns the parsed idle timeout.
func (s *SessionsConfig) IdleTimeoutDuration() time.Duration {
	return mustDuration(s.IdleTimeout, 1800*time.Second)
}

// FlushIntervalDuration returns the parsed flush interval.
func (a *AuditConfig) FlushIntervalDuration() time.Duration {
	return mustDuration(a.FlushInterval, time.Second)
}

// PeriodDuration returns the parsed rate window.
func (r *RateLimitConfig) PeriodDuration() time.Duration {
	return mustDuration(r.Period, time.Minute)
}

// CleanupIntervalDuration returns the parsed sweep interval.
func (r *RateLimitConfig) CleanupIntervalDuration() time.Duration {
	return mustDuration(r.CleanupInterval, 5*time.Minute)
}

// MaxTTLDuration returns the parsed bucket TTL.
func (r *RateLimitConfig) MaxTTLDuration() time.Duration {
	return mustDuration(r.MaxTTL, time.Hour)
}
