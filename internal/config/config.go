package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all client configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Backend
	APIBaseURL string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration

	// Local state
	VaultPath       string
	VaultPassphrase string
	SnapshotPath    string

	// Garzon
	GarzonRefreshInterval time.Duration

	// Observability
	LogLevel     string
	DebugAddr    string
	OTLPEndpoint string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		APIBaseURL: getEnv("MALET_API_URL", "http://localhost:8080"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),

		VaultPath:       getEnv("MALET_VAULT_PATH", "malet-vault.bin"),
		VaultPassphrase: getEnv("MALET_VAULT_PASSPHRASE", "malet-default-dev-secret-change-me"),
		SnapshotPath:    getEnv("MALET_SNAPSHOT_PATH", "malet-ledger.db"),

		GarzonRefreshInterval: getEnvDuration("GARZON_REFRESH_INTERVAL", 30*time.Second),

		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DebugAddr:    getEnv("DEBUG_ADDR", ":9464"),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
