// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	NotifyDriverLog   = "log"
	NotifyDriverRedis = "redis"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	Port        string

	LogLevel  string
	LogFormat string

	StoreDriver   string
	DB            DBConfig
	RunMigrations bool

	AuthJWTSecret     string
	PaystackSecretKey string
	PublicBaseURL     string
	DefaultCurrency   string

	NotifyDriver  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NotifyQueue   string

	WaitlistOfferWindow   time.Duration
	WaitlistSweepInterval time.Duration
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

// DSN builds a libpq-compatible connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL builds a postgres:// connection URL, used by the migrator.
func (c DBConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// Load reads configuration from a .env file (if present) and the environment,
// falling back to local-development defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "alumni-events"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		Port:        getenv("PORT", "8080"),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),

		StoreDriver: strings.ToLower(getenv("STORE_DRIVER", StoreDriverPostgres)),
		DB: DBConfig{
			Host:     getenv("DB_HOST", "localhost"),
			Port:     getenv("DB_PORT", "5432"),
			User:     getenv("DB_USER", "postgres"),
			Password: getenv("DB_PASSWORD", "postgres"),
			Name:     getenv("DB_NAME", "alumni_events"),
			SSLMode:  getenv("DB_SSLMODE", "disable"),
			MaxConns: int32(getenvInt("DB_MAX_CONNS", 20)),
		},
		RunMigrations: getenvBool("DB_RUN_MIGRATIONS", true),

		AuthJWTSecret:     strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		PaystackSecretKey: strings.TrimSpace(getenv("PAYSTACK_SECRET_KEY", "")),
		PublicBaseURL:     strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		DefaultCurrency:   strings.ToUpper(getenv("DEFAULT_CURRENCY", "NGN")),

		NotifyDriver:  strings.ToLower(getenv("NOTIFY_DRIVER", NotifyDriverLog)),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),
		NotifyQueue:   getenv("NOTIFY_QUEUE", "notifications:outbox"),

		WaitlistOfferWindow:   getenvDuration("WAITLIST_OFFER_WINDOW", 24*time.Hour),
		WaitlistSweepInterval: getenvDuration("WAITLIST_SWEEP_INTERVAL", 15*time.Minute),
	}
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate rejects configurations the service cannot run safely with.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.NotifyDriver {
	case NotifyDriverLog, NotifyDriverRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown NOTIFY_DRIVER %q", c.NotifyDriver))
	}
	if c.WaitlistOfferWindow <= 0 {
		errs = append(errs, errors.New("WAITLIST_OFFER_WINDOW must be positive"))
	}
	if c.IsProduction() {
		if c.AuthJWTSecret == "" {
			errs = append(errs, errors.New("AUTH_JWT_SECRET is required in production"))
		}
		if c.PaystackSecretKey == "" {
			errs = append(errs, errors.New("PAYSTACK_SECRET_KEY is required in production"))
		}
		if c.StoreDriver == StoreDriverMemory {
			errs = append(errs, errors.New("memory store is not allowed in production"))
		}
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "":
		return def
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
