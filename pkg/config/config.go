// Package config loads gateway configuration from environment variables
// and optional YAML delivery policies.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingJWTSecret is returned when no signing secret is configured.
	ErrMissingJWTSecret = errors.New("config: JWT_SECRET is required")
	// ErrMissingMasterKey is returned when no encryption key is configured
	// and plaintext fallback is disabled.
	ErrMissingMasterKey = errors.New("config: ENCRYPTION_KEY is required unless ALLOW_PLAINTEXT_FALLBACK=true")
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// Auth
	JWTSecret string

	// Crypto
	MasterKey              string
	AllowPlaintextFallback bool

	// Queue
	RedisURL      string
	QueueTTL      time.Duration
	DrainInterval time.Duration

	// Audit
	AuditDir      string
	AuditCapacity int

	// Delivery
	PolicyPath     string
	ConnectedNodes []string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                   envOr("PORT", "8080"),
		LogLevel:               envOr("LOG_LEVEL", "INFO"),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		MasterKey:              os.Getenv("ENCRYPTION_KEY"),
		AllowPlaintextFallback: os.Getenv("ALLOW_PLAINTEXT_FALLBACK") == "true",
		RedisURL:               envOr("REDIS_URL", "redis://localhost:6379/0"),
		QueueTTL:               envDuration("QUEUE_TTL", 24*time.Hour),
		DrainInterval:          envDuration("DRAIN_INTERVAL", 2*time.Second),
		AuditDir:               envOr("AUDIT_STORAGE_PATH", "audit_logs"),
		AuditCapacity:          envInt("AUDIT_CAPACITY", 10_000),
		PolicyPath:             os.Getenv("DELIVERY_POLICY_FILE"),
		ConnectedNodes:         splitList(os.Getenv("CONNECTED_NODES")),
	}

	if cfg.JWTSecret == "" {
		return nil, ErrMissingJWTSecret
	}
	if cfg.MasterKey == "" && !cfg.AllowPlaintextFallback {
		return nil, ErrMissingMasterKey
	}
	return cfg, nil
}

// SlogLevel maps LOG_LEVEL to a slog level. Unknown values mean INFO.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
