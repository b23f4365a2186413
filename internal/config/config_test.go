package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// writeConfig writes a temp config file and points Viper at it.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	viper.Reset()
	path := filepath.Join(t.TempDir(), "actionbridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	InitViper(path)
	return path
}

func TestLoadDefaults(t *testing.T) {
	writeConfig(t, "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Transport != "http" {
		t.Errorf("Transport = %q, want http", cfg.Transport)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.PathPrefix != "/mcp/v1" {
		t.Errorf("Server.PathPrefix = %q", cfg.Server.PathPrefix)
	}
	if cfg.Sessions.MaxPerKey != 10 || cfg.Sessions.MaxTotal != 1000 {
		t.Errorf("Sessions = %+v", cfg.Sessions)
	}
	if got := cfg.Sessions.IdleTimeoutDuration(); got != 1800*time.Second {
		t.Errorf("IdleTimeoutDuration = %v", got)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Storage.Backend = %q", cfg.Storage.Backend)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled = false, want default true")
	}
	if cfg.RateLimit.Burst != cfg.RateLimit.Rate {
		t.Errorf("Burst = %d, want Rate %d", cfg.RateLimit.Burst, cfg.RateLimit.Rate)
	}
}

func TestLoadFromFile(t *testing.T) {
	writeConfig(t, `
transport: http
server:
  addr: "0.0.0.0:9090"
  log_level: debug
sessions:
  max_per_key: 3
  idle_timeout: 5m
storage:
  backend: sqlite
  path: /tmp/bridge.db
rate_limit:
  enabled: false
`)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9090" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if got := cfg.Server.SlogLevel().String(); got != "DEBUG" {
		t.Errorf("SlogLevel = %s", got)
	}
	if cfg.Sessions.MaxPerKey != 3 {
		t.Errorf("MaxPerKey = %d", cfg.Sessions.MaxPerKey)
	}
	if got := cfg.Sessions.IdleTimeoutDuration(); got != 5*time.Minute {
		t.Errorf("IdleTimeoutDuration = %v", got)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Path != "/tmp/bridge.db" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled = true, want explicit false honored")
	}
}

func TestEnvAliases(t *testing.T) {
	t.Setenv("MCP_API_KEY", "ak_live_test")
	t.Setenv("MAX_SESSIONS_PER_KEY", "4")
	t.Setenv("MAX_TOTAL_SESSIONS", "40")
	t.Setenv("SESSION_TIMEOUT", "900s")
	writeConfig(t, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "ak_live_test" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if cfg.Sessions.MaxPerKey != 4 || cfg.Sessions.MaxTotal != 40 {
		t.Errorf("Sessions = %+v", cfg.Sessions)
	}
	if got := cfg.Sessions.IdleTimeoutDuration(); got != 900*time.Second {
		t.Errorf("IdleTimeoutDuration = %v", got)
	}
}

func TestPrefixedEnvWinsOverFile(t *testing.T) {
	t.Setenv("ACTIONBRIDGE_SERVER_ADDR", "127.0.0.1:7777")
	writeConfig(t, "server:\n  addr: \"127.0.0.1:8080\"\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:7777" {
		t.Errorf("Server.Addr = %q, want env override", cfg.Server.Addr)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "bad transport",
			mutate:  func(c *Config) { c.Transport = "websocket" },
			wantSub: "Transport",
		},
		{
			name:    "bad addr",
			mutate:  func(c *Config) { c.Server.Addr = "not an addr" },
			wantSub: "host:port",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantSub: "one of",
		},
		{
			name:    "bad idle timeout",
			mutate:  func(c *Config) { c.Sessions.IdleTimeout = "soon" },
			wantSub: "duration",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Storage.Backend = "sqlite"; c.Storage.Path = "" },
			wantSub: "required",
		},
		{
			name:    "burst below rate",
			mutate:  func(c *Config) { c.RateLimit.Rate = 100; c.RateLimit.Burst = 10 },
			wantSub: "burst",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.SetDefaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidateTLSPair(t *testing.T) {
	cert := filepath.Join(t.TempDir(), "cert.pem")
	if err := os.WriteFile(cert, []byte("dummy"), 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}

	var cfg Config
	cfg.SetDefaults()
	cfg.Server.TLSCert = cert
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "together") {
		t.Errorf("Validate = %v, want cert/key pairing error", err)
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
