package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper points Viper at the configuration file and wires environment
// variables. When configFile is empty, standard locations are searched for
// actionbridge.yaml/.yml; the search requires an explicit YAML extension so
// the binary itself (same base name, no extension) never matches.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No file anywhere. Set name/type without search paths so
		// ReadInConfig returns ConfigFileNotFoundError, which Load treats
		// as env-only configuration.
		viper.SetConfigName("actionbridge")
		viper.SetConfigType("yaml")
	}

	// ACTIONBRIDGE_SERVER_ADDR overrides server.addr, and so on.
	viper.SetEnvPrefix("ACTIONBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindEnvKeys()
}

// findConfigFile searches ., ~/.actionbridge and /etc/actionbridge for
// actionbridge.yaml or .yml, returning the first match.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".actionbridge"),
		"/etc/actionbridge",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "actionbridge"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindEnvKeys binds nested keys for environment overrides. A handful of
// keys additionally honor short, unprefixed names kept for compatibility
// with existing agent launcher configurations.
func bindEnvKeys() {
	_ = viper.BindEnv("transport")
	_ = viper.BindEnv("seed_file")
	_ = viper.BindEnv("api_key", "ACTIONBRIDGE_API_KEY", "MCP_API_KEY")

	_ = viper.BindEnv("server.addr")
	_ = viper.BindEnv("server.path_prefix")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.tls_cert")
	_ = viper.BindEnv("server.tls_key")

	_ = viper.BindEnv("sessions.max_per_key", "ACTIONBRIDGE_SESSIONS_MAX_PER_KEY", "MAX_SESSIONS_PER_KEY")
	_ = viper.BindEnv("sessions.max_total", "ACTIONBRIDGE_SESSIONS_MAX_TOTAL", "MAX_TOTAL_SESSIONS")
	_ = viper.BindEnv("sessions.idle_timeout", "ACTIONBRIDGE_SESSIONS_IDLE_TIMEOUT", "SESSION_TIMEOUT")

	_ = viper.BindEnv("storage.backend")
	_ = viper.BindEnv("storage.path")

	_ = viper.BindEnv("audit.channel_size")
	_ = viper.BindEnv("audit.batch_size")
	_ = viper.BindEnv("audit.flush_interval")
	_ = viper.BindEnv("audit.trail.enabled")
	_ = viper.BindEnv("audit.trail.dir")

	_ = viper.BindEnv("rate_limit.enabled")
	_ = viper.BindEnv("rate_limit.rate")
	_ = viper.BindEnv("rate_limit.burst")
	_ = viper.BindEnv("rate_limit.period")

	_ = viper.BindEnv("telemetry.tracing_enabled")
}

// Load reads the configuration, applies environment overrides and
// defaults, and validates the result. A missing config file is not an
// error; all settings then come from the environment and defaults.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Rate limiting defaults on; only an explicit setting turns it off.
	if !viper.IsSet("rate_limit.enabled") {
		cfg.RateLimit.Enabled = true
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the loaded configuration file path, or "" in
// env-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
