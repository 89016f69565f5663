package config

import (
	"log/slog"
	"os"
	"strconv"
)

type Config struct {
	// HTTP API
	HTTPPort string

	// Persistence
	DatabasePath string

	// Redis (scan event fan-out)
	RedisURL string

	// Broker
	BrokerImage string

	// Logging
	LogLevel  slog.Level
	LogFormat string // "json" or "text"

	// Tracing
	OTLPEndpoint string
	ServiceName  string

	// Features
	EnableMetrics bool
	EnableTracing bool
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:      getEnv("HIVESCAN_HTTP_PORT", "8080"),
		DatabasePath:  getEnv("HIVESCAN_DB_PATH", "hivescan.db"),
		RedisURL:      getEnv("HIVESCAN_REDIS_URL", "redis://localhost:6379/0"),
		BrokerImage:   getEnv("HIVESCAN_BROKER_IMAGE", "rabbitmq:3.12-management"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		OTLPEndpoint:  getEnv("OTLP_ENDPOINT", ""),
		ServiceName:   getEnv("SERVICE_NAME", "hivescan"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", true),
		EnableTracing: getEnvBool("ENABLE_TRACING", false),
	}

	switch getEnv("LOG_LEVEL", "info") {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}
