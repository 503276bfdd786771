// Package config loads the Loom configuration from loom.yml and the
// environment.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config represents the Loom configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Lock      LockConfig      `mapstructure:"lock"`
	Migration MigrationConfig `mapstructure:"migration"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// LockConfig selects and tunes the distributed lock backend
type LockConfig struct {
	// Backend is one of "postgres", "redis", or "local".
	Backend string `mapstructure:"backend"`
	// TimeoutSeconds bounds how long a migration waits for the lock.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// RedisAddr is required for the redis backend.
	RedisAddr string `mapstructure:"redis_addr"`
}

// MigrationConfig represents migration engine configuration
type MigrationConfig struct {
	// Extensions are database extensions ensured before every run.
	Extensions []string `mapstructure:"extensions"`
	// CorePlugin names the plugin whose tables live in the default
	// namespace.
	CorePlugin string `mapstructure:"core_plugin"`
	// StrictDependencies makes dependency cycles fatal.
	StrictDependencies bool `mapstructure:"strict_dependencies"`
	// CompositePrimaryKeys maps table names to primary key columns for
	// tables whose descriptors cannot declare their composite key.
	CompositePrimaryKeys map[string][]string `mapstructure:"composite_primary_keys"`
}

// Load loads the configuration from loom.yml or loom.yaml
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("lock.backend", "postgres")
	v.SetDefault("lock.timeout_seconds", 30)
	v.SetDefault("migration.extensions", []string{"vector", "fuzzystrmatch"})
	v.SetDefault("migration.core_plugin", "core")
	v.SetDefault("migration.strict_dependencies", false)

	v.SetConfigName("loom")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("loom")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetDatabaseURL returns the database URL from the environment or config
func GetDatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	cfg, err := Load()
	if err != nil {
		return ""
	}

	return cfg.Database.URL
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	switch cfg.Lock.Backend {
	case "postgres", "redis", "local":
	default:
		return fmt.Errorf("lock.backend must be postgres, redis, or local, got: %s", cfg.Lock.Backend)
	}
	if cfg.Lock.Backend == "redis" && cfg.Lock.RedisAddr == "" {
		return fmt.Errorf("lock.redis_addr is required when lock.backend is redis")
	}
	if cfg.Lock.TimeoutSeconds < 0 {
		return fmt.Errorf("lock.timeout_seconds must not be negative, got: %d", cfg.Lock.TimeoutSeconds)
	}
	return nil
}
