// Package config provides application configuration loaded from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Transaction store backends.
const (
	StoreCosmos   = "cosmos"
	StorePostgres = "postgres"
)

// Forward modes: direct POSTs inline with the delivery, queue enqueues a River job.
const (
	ForwardModeDirect = "direct"
	ForwardModeQueue  = "queue"
)

// Config holds all application configuration.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	// RabbitMQ
	RabbitMQURL                string
	RabbitMQQueue              string
	RabbitMQConsumerTag        string
	RabbitMQPrefetch           int
	RabbitMQConcurrency        int
	RabbitMQDeclareQueue       bool
	RabbitMQDeadLetterExchange string
	RabbitMQDeadLetterFailures bool
	RabbitMQReconnectDelay     time.Duration

	// Transaction store
	TransactionStore    string
	CosmosEndpoint      string
	CosmosKey           string
	CosmosDatabase      string
	CosmosContainer     string
	DatabaseURL         string
	PostgresAutoMigrate bool

	// Positive lookup cache; disabled when TransactionCacheTTL is 0
	TransactionCacheSize int
	TransactionCacheTTL  time.Duration

	// Downstream digital certificate app
	DigitalCertAppURL  string
	ForwardMode        string
	ForwardTimeout     time.Duration
	ForwardRetryMax    int
	ForwardRateLimit   float64
	ForwardMaxAttempts int
	ForwardWorkers     int

	// Retries of a failed job insert before the message counts as forward_failed
	ForwardEnqueueRetries int

	// Duplicate msgId suppression; disabled when DedupeWindow is 0
	DedupeWindow time.Duration
	DedupeSize   int

	// OpenTelemetry
	MetricsEnabled      bool
	OtelMetricsExporter string
	OtelTracesExporter  string
	ServiceName         string
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat retrieves an environment variable as a float64 or returns a default value.
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool retrieves an environment variable as a bool or returns a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration retrieves an environment variable as a time.Duration (e.g. "15s") or returns a default value.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// Load reads configuration from environment variables and returns a Config struct.
// It automatically loads .env file if it exists.
// KORE_RABBITMQ_CONNECTION_STRING and DIGITAL_CERT_APP_URL are always required; the
// store credentials are required for the selected TRANSACTION_STORE.
func Load() (*Config, error) {
	// Load .env file if it exists. Skip logging when absent (e.g. env from app settings).
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		RabbitMQURL:                os.Getenv("KORE_RABBITMQ_CONNECTION_STRING"),
		RabbitMQQueue:              getEnv("RABBITMQ_QUEUE", "node-message-certificate"),
		RabbitMQConsumerTag:        getEnv("RABBITMQ_CONSUMER_TAG", "kore-relay"),
		RabbitMQConcurrency:        getEnvAsInt("RABBITMQ_CONCURRENCY", 4),
		RabbitMQDeclareQueue:       getEnvAsBool("RABBITMQ_DECLARE_QUEUE", false),
		RabbitMQDeadLetterExchange: os.Getenv("RABBITMQ_DEAD_LETTER_EXCHANGE"),
		RabbitMQDeadLetterFailures: getEnvAsBool("RABBITMQ_DEAD_LETTER_FAILURES", false),
		RabbitMQReconnectDelay:     getEnvAsDuration("RABBITMQ_RECONNECT_DELAY", 5*time.Second),

		TransactionStore:    strings.ToLower(getEnv("TRANSACTION_STORE", StoreCosmos)),
		CosmosEndpoint:      os.Getenv("COSMOS_ENDPOINT"),
		CosmosKey:           os.Getenv("COSMOS_KEY"),
		CosmosDatabase:      getEnv("COSMOS_DATABASE", "digital_certificate"),
		CosmosContainer:     getEnv("COSMOS_CONTAINER", "KoreNodeTransaction"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		PostgresAutoMigrate: getEnvAsBool("POSTGRES_AUTO_MIGRATE", false),

		TransactionCacheSize: getEnvAsInt("TRANSACTION_CACHE_SIZE", 1000),
		TransactionCacheTTL:  getEnvAsDuration("TRANSACTION_CACHE_TTL", 0),

		DigitalCertAppURL:  os.Getenv("DIGITAL_CERT_APP_URL"),
		ForwardMode:        strings.ToLower(getEnv("FORWARD_MODE", ForwardModeDirect)),
		ForwardTimeout:     getEnvAsDuration("FORWARD_TIMEOUT", 15*time.Second),
		ForwardRetryMax:    getEnvAsInt("FORWARD_RETRY_MAX", 0),
		ForwardRateLimit:   getEnvAsFloat("FORWARD_RATE_LIMIT", 0),
		ForwardMaxAttempts: getEnvAsInt("FORWARD_MAX_ATTEMPTS", 5),
		ForwardWorkers:     getEnvAsInt("FORWARD_WORKERS", 10),

		ForwardEnqueueRetries: getEnvAsInt("FORWARD_ENQUEUE_RETRIES", 2),

		DedupeWindow: getEnvAsDuration("DEDUPE_WINDOW", 0),
		DedupeSize:   getEnvAsInt("DEDUPE_SIZE", 10000),

		MetricsEnabled:      getEnvAsBool("METRICS_ENABLED", true),
		OtelMetricsExporter: strings.ToLower(os.Getenv("OTEL_METRICS_EXPORTER")),
		OtelTracesExporter:  os.Getenv("OTEL_TRACES_EXPORTER"),
		ServiceName:         getEnv("OTEL_SERVICE_NAME", "kore-relay"),
	}

	cfg.RabbitMQPrefetch = getEnvAsInt("RABBITMQ_PREFETCH", 2*cfg.RabbitMQConcurrency)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks required settings and bounds.
func (c *Config) validate() error {
	if c.RabbitMQURL == "" {
		return errors.New("KORE_RABBITMQ_CONNECTION_STRING environment variable is required but not set")
	}

	if c.DigitalCertAppURL == "" {
		return errors.New("DIGITAL_CERT_APP_URL environment variable is required but not set")
	}

	switch c.TransactionStore {
	case StoreCosmos:
		if c.CosmosEndpoint == "" || c.CosmosKey == "" {
			return errors.New("COSMOS_ENDPOINT and COSMOS_KEY are required when TRANSACTION_STORE=cosmos")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when TRANSACTION_STORE=postgres")
		}
	default:
		return fmt.Errorf("TRANSACTION_STORE must be %q or %q, got %q", StoreCosmos, StorePostgres, c.TransactionStore)
	}

	switch c.ForwardMode {
	case ForwardModeDirect:
	case ForwardModeQueue:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when FORWARD_MODE=queue")
		}
		if c.ForwardMaxAttempts <= 0 {
			return errors.New("FORWARD_MAX_ATTEMPTS must be a positive integer")
		}
		if c.ForwardWorkers <= 0 {
			return errors.New("FORWARD_WORKERS must be a positive integer")
		}
		if c.ForwardEnqueueRetries < 0 {
			return errors.New("FORWARD_ENQUEUE_RETRIES must not be negative")
		}
	default:
		return fmt.Errorf("FORWARD_MODE must be %q or %q, got %q", ForwardModeDirect, ForwardModeQueue, c.ForwardMode)
	}

	if c.RabbitMQConcurrency <= 0 {
		return errors.New("RABBITMQ_CONCURRENCY must be a positive integer")
	}

	if c.RabbitMQPrefetch < 0 {
		return errors.New("RABBITMQ_PREFETCH must not be negative")
	}

	if c.ForwardRetryMax < 0 {
		return errors.New("FORWARD_RETRY_MAX must not be negative")
	}

	if c.ForwardTimeout <= 0 {
		return errors.New("FORWARD_TIMEOUT must be a positive duration")
	}

	if c.TransactionCacheTTL > 0 && c.TransactionCacheSize <= 0 {
		return errors.New("TRANSACTION_CACHE_SIZE must be a positive integer when TRANSACTION_CACHE_TTL is set")
	}

	if c.DedupeWindow > 0 && c.DedupeSize <= 0 {
		return errors.New("DEDUPE_SIZE must be a positive integer when DEDUPE_WINDOW is set")
	}

	return nil
}

// NeedsPostgres reports whether a Postgres pool is required by the configured store or forward mode.
func (c *Config) NeedsPostgres() bool {
	return c.TransactionStore == StorePostgres || c.ForwardMode == ForwardModeQueue
}
