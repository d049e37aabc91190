package config

import (
	"errors"
	"os"
	"strings"
)

// Config holds the relay's runtime configuration, loaded from environment
// variables.
type Config struct {
	Port        string
	RedisAddr   string // empty disables the cross-instance presence bridge
	JWTSecret   string
	RequireAuth bool
	CORSOrigins []string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		RequireAuth: os.Getenv("REQUIRE_AUTH") == "true",
		CORSOrigins: splitList(getEnvOrDefault("CORS_ORIGINS", "*")),
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.RequireAuth && cfg.JWTSecret == "" {
		return errors.New("REQUIRE_AUTH=true needs JWT_SECRET to be set")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
