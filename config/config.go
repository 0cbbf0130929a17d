package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DatabaseDriver string // postgres | sqlite

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	SQLitePath       string

	ExtractMaxAttempts  int
	ExtractRetryDelayMs int
	MutationSettleMs    int
	MutationPollMs      int
	MaxImages           int
	SelectorsPath       string
	SessionTTLSeconds   int
	ExtractCSVPath      string
	PageTimeoutSeconds  int

	AutoReconcileDelayMs int

	PlacesURL         string
	PlacesAPIKey      string
	PlacesRPS         float64
	EnrichConcurrency int
	EnrichRateLimitMs int

	MaxRetries int
	ChromeBin  string
	ListenAddr string
	LogLevel   string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		DatabaseDriver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "idx"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "idx123"),
		PostgresDB:       getEnv("POSTGRES_DB", "showings"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/showings.db"),

		ExtractMaxAttempts:  getEnvInt("EXTRACT_MAX_ATTEMPTS", 20),
		ExtractRetryDelayMs: getEnvInt("EXTRACT_RETRY_DELAY_MS", 2000),
		MutationSettleMs:    getEnvInt("MUTATION_SETTLE_MS", 1000),
		MutationPollMs:      getEnvInt("MUTATION_POLL_MS", 500),
		MaxImages:           getEnvInt("MAX_IMAGES", 20),
		SelectorsPath:       getEnv("SELECTORS_PATH", ""),
		SessionTTLSeconds:   getEnvInt("SESSION_TTL_SECONDS", 1800),
		ExtractCSVPath:      getEnv("EXTRACT_CSV_PATH", ""),
		PageTimeoutSeconds:  getEnvInt("PAGE_TIMEOUT_SECONDS", 90),

		AutoReconcileDelayMs: getEnvInt("AUTO_RECONCILE_DELAY_MS", 3000),

		PlacesURL:         getEnv("PLACES_URL", ""),
		PlacesAPIKey:      getEnv("PLACES_API_KEY", ""),
		PlacesRPS:         getEnvFloat("PLACES_RPS", 1.0),
		EnrichConcurrency: getEnvInt("ENRICH_CONCURRENCY", 3),
		EnrichRateLimitMs: getEnvInt("ENRICH_RATE_LIMIT_MS", 250),

		MaxRetries: getEnvInt("MAX_RETRIES", 3),
		ChromeBin:  getEnv("CHROME_BIN", ""),
		ListenAddr: getEnv("LISTEN_ADDR", "127.0.0.1:38480"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.DatabaseDriver == "sqlite" {
		return c.SQLitePath
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.ExtractRetryDelayMs) * time.Millisecond
}

func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.MutationSettleMs) * time.Millisecond
}

func (c *Config) AutoReconcileDelay() time.Duration {
	return time.Duration(c.AutoReconcileDelayMs) * time.Millisecond
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.DatabaseDriver {
	case "postgres":
		if c.PostgresHost == "" || c.PostgresDB == "" {
			errs = append(errs, "POSTGRES_HOST and POSTGRES_DB are required when DB_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver))
	}

	if c.ExtractMaxAttempts < 1 {
		errs = append(errs, "EXTRACT_MAX_ATTEMPTS must be >= 1")
	}
	if c.ExtractRetryDelayMs <= 0 {
		errs = append(errs, "EXTRACT_RETRY_DELAY_MS must be > 0")
	}
	if c.MutationSettleMs <= 0 {
		errs = append(errs, "MUTATION_SETTLE_MS must be > 0")
	}
	if c.MutationPollMs <= 0 {
		errs = append(errs, "MUTATION_POLL_MS must be > 0")
	}
	if c.MaxImages < 1 {
		errs = append(errs, "MAX_IMAGES must be >= 1")
	}
	if c.SessionTTLSeconds <= 0 {
		errs = append(errs, "SESSION_TTL_SECONDS must be > 0")
	}
	if c.AutoReconcileDelayMs < 0 {
		errs = append(errs, "AUTO_RECONCILE_DELAY_MS must be >= 0")
	}
	if c.PlacesURL != "" && c.PlacesRPS <= 0 {
		errs = append(errs, "PLACES_RPS must be > 0 when PLACES_URL is set")
	}
	if c.EnrichConcurrency < 1 {
		errs = append(errs, "ENRICH_CONCURRENCY must be >= 1")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n- " + strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}
