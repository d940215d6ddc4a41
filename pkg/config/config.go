// Package config loads the eventlogd server configuration from environment
// variables, following the same flat env-var style as pkg/database.Config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/processlog/eventlog/pkg/database"
)

// Config is the top-level eventlogd server configuration.
type Config struct {
	HTTPPort string
	GinMode  string

	// LogFormat selects the slog handler: "json" (default, production) or
	// "text" (development).
	LogFormat string
	LogLevel  string

	// AuthToken, when non-empty, is required as a bearer token on every
	// /v1 request. Empty disables authentication (local/dev use only).
	AuthToken string

	// MaxBodyBytes bounds the request body size accepted by the server,
	// mirroring the teacher's 2 MiB Echo BodyLimit middleware.
	MaxBodyBytes int64

	RequestTimeout time.Duration

	Database database.Config

	// OAuth config for a client.token.Provider. spec.md §9: if any of
	// {token_url, client_id, client_secret} is set, all three are required.
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string
}

// Load reads Config from the environment. It does not call godotenv.Load
// itself — cmd/eventlogd does that before calling Load, matching the
// teacher's main.go pattern of loading a .env file ahead of reading vars.
func Load() (*Config, error) {
	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load database config: %w", err)
	}

	maxBody, err := parseInt64OrDefault("MAX_BODY_BYTES", 2*1024*1024)
	if err != nil {
		return nil, err
	}

	requestTimeoutMs, err := parseIntOrDefault("REQUEST_TIMEOUT_MS", 30_000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort:       getEnvOrDefault("HTTP_PORT", "8080"),
		GinMode:        getEnvOrDefault("GIN_MODE", "release"),
		LogFormat:      getEnvOrDefault("LOG_FORMAT", "json"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		AuthToken:      os.Getenv("AUTH_TOKEN"),
		MaxBodyBytes:   maxBody,
		RequestTimeout: time.Duration(requestTimeoutMs) * time.Millisecond,
		Database:       dbCfg,

		OAuthTokenURL:     os.Getenv("OAUTH_TOKEN_URL"),
		OAuthClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		OAuthClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for internally-inconsistent configuration.
func (c *Config) Validate() error {
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be \"json\" or \"text\", got %q", c.LogFormat)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive")
	}

	oauthSet := c.OAuthTokenURL != "" || c.OAuthClientID != "" || c.OAuthClientSecret != ""
	oauthComplete := c.OAuthTokenURL != "" && c.OAuthClientID != "" && c.OAuthClientSecret != ""
	if oauthSet && !oauthComplete {
		return fmt.Errorf("OAUTH_TOKEN_URL, OAUTH_CLIENT_ID, and OAUTH_CLIENT_SECRET must all be set together, or none of them")
	}

	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseIntOrDefault(key string, defaultVal int) (int, error) {
	raw := getEnvOrDefault(key, strconv.Itoa(defaultVal))
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseInt64OrDefault(key string, defaultVal int64) (int64, error) {
	raw := getEnvOrDefault(key, strconv.FormatInt(defaultVal, 10))
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
