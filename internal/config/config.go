// Package config loads the closed set of environment variables the core
// depends on at startup, in the teacher's envOr/envRequired style,
// extended with the ambient HTTP/log settings every deployment needs.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	apperrors "github.com/metahub/integrationhub/internal/errors"
)

// Config holds runtime settings loaded from the environment.
type Config struct {
	MetaAppID             string
	MetaAppSecret         string
	MetaWebhookVerifyToken string
	AppURL                string
	DatabaseURL           string
	RedisURL              string

	HTTPAddr    string
	Environment string
	LogLevel    string
}

// Load reads .env (if present) then the process environment. Missing
// required variables are collected and returned as a single FatalError —
// the misconfiguration-at-startup case the error taxonomy reserves for
// ErrorTypeFatal.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		MetaAppID:              os.Getenv("META_APP_ID"),
		MetaAppSecret:          os.Getenv("META_APP_SECRET"),
		MetaWebhookVerifyToken: os.Getenv("META_WEBHOOK_VERIFY_TOKEN"),
		AppURL:                 os.Getenv("APP_URL"),
		DatabaseURL:            os.Getenv("DB_URL"),
		RedisURL:               envOr("REDIS_URL", "redis://localhost:6379/0"),
		HTTPAddr:               envOr("HTTP_ADDR", ":8080"),
		Environment:            envOr("ENVIRONMENT", "development"),
		LogLevel:               envOr("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every required variable is present.
func (c Config) Validate() error {
	var missing []string
	for name, value := range map[string]string{
		"META_APP_ID":               c.MetaAppID,
		"META_APP_SECRET":           c.MetaAppSecret,
		"META_WEBHOOK_VERIFY_TOKEN": c.MetaWebhookVerifyToken,
		"APP_URL":                   c.AppURL,
		"DB_URL":                    c.DatabaseURL,
	} {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return apperrors.NewFatalError("config", fmt.Sprintf("missing required environment variables: %v", missing))
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
