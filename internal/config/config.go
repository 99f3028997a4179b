// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the positioning engine.
type Config struct {
	// Upstream feed
	FeedWSURL        string
	InfoRESTURL      string
	FillPollInterval time.Duration

	// Tracked coins
	Coins []string

	// Whale detection
	WhaleNotionalUSD float64

	// Snapshot sampling / resampling
	SnapshotInterval      time.Duration
	SnapshotBucketMinutes int

	// Database
	DBPath string

	// HTTP API
	HTTPPort int

	// Workers
	WorkerCount int

	// UI
	EnableTUI     bool
	UIRefreshRate time.Duration

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables with fallback to .env file.
// Priority order: Environment variables > .env file > hardcoded defaults
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		// Feed
		FeedWSURL:        getEnv("FEED_WS_URL", "wss://api.hyperliquid.xyz/ws"),
		InfoRESTURL:      getEnv("INFO_REST_URL", "https://api.hyperliquid.xyz/info"),
		FillPollInterval: time.Duration(getEnvInt("FILL_POLL_INTERVAL_SECONDS", 5)) * time.Second,

		// Coins
		Coins: splitCoins(getEnv("COINS", "BTC,ETH,SOL")),

		// Thresholds
		WhaleNotionalUSD: getEnvFloat("WHALE_NOTIONAL_USD", 100000),

		// Snapshots
		SnapshotInterval:      time.Duration(getEnvInt("SNAPSHOT_INTERVAL_MINUTES", 10)) * time.Minute,
		SnapshotBucketMinutes: getEnvInt("SNAPSHOT_BUCKET_MINUTES", 10),

		// Database
		DBPath: getEnv("DB_PATH", "./data/positioning.db"),

		// HTTP
		HTTPPort: getEnvInt("HTTP_PORT", 8080),

		// Workers
		WorkerCount: getEnvInt("WORKER_COUNT", 4),

		// UI
		EnableTUI:     getEnvBool("ENABLE_TUI", false),
		UIRefreshRate: time.Duration(getEnvInt("UI_REFRESH_MS", 500)) * time.Millisecond,

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.FeedWSURL == "" {
		return fmt.Errorf("FEED_WS_URL is required")
	}

	if len(c.Coins) == 0 {
		return fmt.Errorf("COINS must list at least one coin")
	}

	if c.WhaleNotionalUSD <= 0 {
		return fmt.Errorf("WHALE_NOTIONAL_USD must be positive")
	}

	if c.SnapshotBucketMinutes < 1 || c.SnapshotBucketMinutes > 60 {
		return fmt.Errorf("SNAPSHOT_BUCKET_MINUTES must be between 1 and 60")
	}

	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1")
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}

	return nil
}

// splitCoins parses a comma-separated coin list, trimming and upper-casing.
func splitCoins(raw string) []string {
	parts := strings.Split(raw, ",")
	coins := make([]string, 0, len(parts))
	for _, p := range parts {
		coin := strings.ToUpper(strings.TrimSpace(p))
		if coin != "" {
			coins = append(coins, coin)
		}
	}
	return coins
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat retrieves an environment variable as a float64 or returns a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
