// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Backend settings.
	BaseURL string // Root URL of the AgentHub backend API.

	// Google OAuth settings.
	GoogleAuthURL     string // Identity provider's authorization endpoint.
	GoogleClientID    string
	GoogleRedirectURL string // Where the provider sends the callback.

	// Local state settings.
	StorePath string // SQLite file for redirect intents and the cookie snapshot.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel      string
	OAuthStateTTL time.Duration // Freshness window for the OAuth handshake.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		BaseURL:           envStr("AGENTHUB_BASE_URL", "https://api.agenthub.example.com"),
		GoogleAuthURL:     envStr("AGENTHUB_GOOGLE_AUTH_URL", "https://accounts.google.com/o/oauth2/v2/auth"),
		GoogleClientID:    envStr("AGENTHUB_GOOGLE_CLIENT_ID", ""),
		GoogleRedirectURL: envStr("AGENTHUB_GOOGLE_REDIRECT_URL", "http://localhost:8787/oauth/callback"),
		StorePath:         envStr("AGENTHUB_STORE_PATH", "agenthub.db"),
		OTELEndpoint:      envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:      envStr("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
		ServiceName:       envStr("OTEL_SERVICE_NAME", "agenthub"),
		LogLevel:          envStr("AGENTHUB_LOG_LEVEL", "info"),
		OAuthStateTTL:     envDuration("AGENTHUB_OAUTH_STATE_TTL", 10*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("config: AGENTHUB_BASE_URL is required")
	}
	if c.StorePath == "" {
		return fmt.Errorf("config: AGENTHUB_STORE_PATH is required")
	}
	if c.OAuthStateTTL <= 0 {
		return fmt.Errorf("config: AGENTHUB_OAUTH_STATE_TTL must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
