package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LoadConfigFromEnv loads the database configuration from environment
// variables using the names and defaults in spec.md §6: DB_POOL_MAX (10),
// DB_POOL_MIN (0), DB_IDLE_TIMEOUT_MS (30000), DB_ACQUIRE_TIMEOUT_MS
// (15000), DB_REQUEST_TIMEOUT_MS (30000), FULLTEXT_ENABLED (false).
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	poolMax, err := strconv.Atoi(getEnvOrDefault("DB_POOL_MAX", "10"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_POOL_MAX: %w", err)
	}
	poolMin, err := strconv.Atoi(getEnvOrDefault("DB_POOL_MIN", "0"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_POOL_MIN: %w", err)
	}

	idleTimeout, err := parseMillisEnv("DB_IDLE_TIMEOUT_MS", 30_000)
	if err != nil {
		return Config{}, err
	}
	acquireTimeout, err := parseMillisEnv("DB_ACQUIRE_TIMEOUT_MS", 15_000)
	if err != nil {
		return Config{}, err
	}
	requestTimeout, err := parseMillisEnv("DB_REQUEST_TIMEOUT_MS", 30_000)
	if err != nil {
		return Config{}, err
	}

	fullTextEnabled, err := strconv.ParseBool(getEnvOrDefault("FULLTEXT_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid FULLTEXT_ENABLED: %w", err)
	}

	cfg := Config{
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("DB_USER", "eventlog"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        getEnvOrDefault("DB_NAME", "eventlog"),
		SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
		PoolMax:         poolMax,
		PoolMin:         poolMin,
		IdleTimeout:     idleTimeout,
		AcquireTimeout:  acquireTimeout,
		RequestTimeout:  requestTimeout,
		FullTextEnabled: fullTextEnabled,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.PoolMin > c.PoolMax {
		return fmt.Errorf("DB_POOL_MIN (%d) cannot exceed DB_POOL_MAX (%d)", c.PoolMin, c.PoolMax)
	}
	if c.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if c.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN cannot be negative")
	}
	return nil
}

func parseMillisEnv(key string, defaultMs int) (time.Duration, error) {
	raw := getEnvOrDefault(key, strconv.Itoa(defaultMs))
	ms, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
