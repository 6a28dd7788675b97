package config

import (
	"os"
	"strconv"
	"time"
)

type AppConfig struct {
	// Booking API
	APIBaseURL string
	APIKey     string

	// Local store
	StoreDriver string // sqlite or redis
	SQLitePath  string
	RedisAddr   string
	RedisPass   string

	// Session lifecycle
	InactivityTimeout time.Duration
	RememberTTL       time.Duration
	OAuthRedirectURL  string

	// Replication
	SyncInterval     time.Duration
	PastWindowDays   int
	FutureWindowDays int
}

// Load loads environment variables into AppConfig.
func Load() AppConfig {
	return AppConfig{
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:54321"),
		APIKey:     getEnv("API_KEY", ""),

		StoreDriver: getEnv("STORE_DRIVER", "sqlite"),
		SQLitePath:  getEnv("SQLITE_PATH", "roomsync.db"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:   getEnv("REDIS_PASS", ""),

		InactivityTimeout: getEnvDuration("INACTIVITY_TIMEOUT", 30*time.Minute),
		RememberTTL:       getEnvDuration("REMEMBER_TTL", 720*time.Hour),
		OAuthRedirectURL:  getEnv("OAUTH_REDIRECT_URL", ""),

		SyncInterval:     getEnvDuration("SYNC_INTERVAL", time.Hour),
		PastWindowDays:   getEnvInt("PAST_WINDOW_DAYS", 30),
		FutureWindowDays: getEnvInt("FUTURE_WINDOW_DAYS", 60),
	}
}

// --- Helper functions ---

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
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

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
