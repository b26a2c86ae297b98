package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP server
	Port string

	// Database
	SQLiteDBPath string

	// Client state (persisted account selection)
	StateFilePath string

	// Extraction
	GeminiAPIKey   string
	GeminiModel    string
	MaxImageBytes  int64
	ExtractTimeout time.Duration

	// Usage audit queue
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Per-IP write rate limits (requests per minute). Ingestion gets its
	// own, smaller budget: one upload costs far more than a normal write.
	RateLimitPerMin int
	IngestPerMin    int

	// Caching
	CacheTTL  time.Duration
	CacheSize int

	// Invitations
	InviteTTL time.Duration
}

func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8082"),
		SQLiteDBPath:  getEnv("SQLITE_DB_PATH", "./data/ricevute.db"),
		StateFilePath: getEnv("STATE_FILE_PATH", "./data/client_state.json"),

		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		MaxImageBytes:  getEnvInt64("MAX_IMAGE_BYTES", 10<<20),
		ExtractTimeout: getEnvDuration("EXTRACT_TIMEOUT", 45*time.Second),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ricevute"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "usage_audit"),

		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MIN", 60),
		IngestPerMin:    getEnvInt("INGEST_LIMIT_PER_MIN", 10),

		CacheTTL:  getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheSize: getEnvInt("CACHE_SIZE", 256),

		InviteTTL: getEnvDuration("INVITE_TTL", 7*24*time.Hour),
	}
}

// Validate checks the configuration and returns all problems in one error.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errs = append(errs, "SQLite database path cannot be empty")
	} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				errs = append(errs, fmt.Sprintf("cannot create database directory '%s': %v", dir, err))
			}
		}
	}

	if c.StateFilePath == "" {
		errs = append(errs, "state file path cannot be empty")
	}

	if c.MaxImageBytes < 1024 {
		errs = append(errs, fmt.Sprintf("invalid max image bytes %d: must be at least 1KB", c.MaxImageBytes))
	} else if c.MaxImageBytes > 50<<20 {
		errs = append(errs, fmt.Sprintf("invalid max image bytes %d: must be at most 50MB", c.MaxImageBytes))
	}

	if c.ExtractTimeout < time.Second {
		errs = append(errs, fmt.Sprintf("invalid extract timeout %v: must be at least 1 second", c.ExtractTimeout))
	} else if c.ExtractTimeout > 5*time.Minute {
		errs = append(errs, fmt.Sprintf("invalid extract timeout %v: must be at most 5 minutes", c.ExtractTimeout))
	}

	if c.AMQPURL != "" {
		if parsed, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsed.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RateLimitPerMin < 1 {
		errs = append(errs, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMin))
	}
	if c.IngestPerMin < 1 {
		errs = append(errs, fmt.Sprintf("invalid ingest rate limit %d: must be at least 1", c.IngestPerMin))
	}

	if c.CacheTTL < time.Second {
		errs = append(errs, fmt.Sprintf("invalid cache TTL %v: must be at least 1 second", c.CacheTTL))
	}
	if c.CacheSize < 1 {
		errs = append(errs, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}

	if c.InviteTTL < time.Hour {
		errs = append(errs, fmt.Sprintf("invalid invite TTL %v: must be at least 1 hour", c.InviteTTL))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
