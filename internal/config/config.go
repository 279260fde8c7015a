// Package config loads syncd's configuration the way the teacher's
// internal/config does — a viper.Viper reading environment variables
// (prefixed SYNCD_) and an optional config file, unmarshaled into a
// typed struct and validated once at startup. Unlike the teacher, there
// is no cobra command tree to bind flags from: the CLI/process-wrapper
// surface is an explicit out-of-scope collaborator (spec §1), so Load
// only consults the environment and an optional file path.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds syncd's runtime configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint. Empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`

	Storage StorageConfig `mapstructure:"storage"`
}

// StorageConfig selects and configures the persistence backend (spec §6:
// "a storage-selection variable chooses the backend; each backend takes
// a connection string or equivalent").
type StorageConfig struct {
	// Backend is one of "memory", "sqlite", "badger".
	Backend string `mapstructure:"backend"`

	// DSN is the backend's connection string or directory path:
	// sqlite takes a database/sql DSN, badger takes a directory.
	// Ignored for "memory".
	DSN string `mapstructure:"dsn"`
}

// Load reads configuration from an optional file, then environment
// variables prefixed SYNCD_, applying defaults for anything unset.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("SYNCD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.dsn", "")
}

func validate(cfg *Config) error {
	switch cfg.Storage.Backend {
	case "memory", "sqlite", "badger":
	default:
		return fmt.Errorf("unsupported storage backend: %s (want memory, sqlite, or badger)", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend != "memory" && cfg.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for backend %q", cfg.Storage.Backend)
	}
	return nil
}
