package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/processlog/eventlog/pkg/database"
)

func TestConfig_Validate_OAuthAllOrNothing(t *testing.T) {
	base := func() Config {
		return Config{LogFormat: "json", MaxBodyBytes: 1024, Database: database.Config{}}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"none set", func(c *Config) {}, false},
		{"all three set", func(c *Config) {
			c.OAuthTokenURL, c.OAuthClientID, c.OAuthClientSecret = "https://idp/token", "id", "secret"
		}, false},
		{"only token_url", func(c *Config) { c.OAuthTokenURL = "https://idp/token" }, true},
		{"only client_id", func(c *Config) { c.OAuthClientID = "id" }, true},
		{"missing client_secret", func(c *Config) {
			c.OAuthTokenURL, c.OAuthClientID = "https://idp/token", "id"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
