package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Session  SessionConfig
	Webhook  WebhookConfig
	Queue    QueueConfig
	Outbox   OutboxConfig
	Security SecurityConfig
	Log      LogConfig
	Metrics  MetricsConfig
	NewRelic NewRelicConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SessionConfig holds payment session configuration.
type SessionConfig struct {
	TTL        time.Duration
	Currencies []string
	ClaimTTL   time.Duration
	SettleWait time.Duration
}

// WebhookConfig holds webhook delivery configuration.
type WebhookConfig struct {
	Timeout   time.Duration
	Tolerance time.Duration
	LockTTL   time.Duration
}

// QueueConfig holds webhook job queue configuration.
type QueueConfig struct {
	Driver          string // "redis" or "kafka"
	Stream          string
	Group           string
	Consumer        string
	KafkaBrokers    []string
	KafkaTopic      string
	KafkaMaxRetries int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// OutboxConfig holds outbox relay configuration.
type OutboxConfig struct {
	Interval  time.Duration
	BatchSize int
	Grace     time.Duration
}

// SecurityConfig holds key material and admin credentials.
type SecurityConfig struct {
	SealingKey string // base64-encoded 32-byte key for webhook secrets at rest.
	AdminToken string
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

// MetricsConfig holds Prometheus configuration.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// Load loads configuration from environment variables.
// A .env file in the working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	hostname, _ := os.Hostname()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "payup"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Session: SessionConfig{
			TTL:        getDurationEnv("SESSION_TTL", 30*time.Minute),
			Currencies: getListEnv("SUPPORTED_CURRENCIES", []string{"USD", "EUR", "GBP", "ETB", "KES", "NGN"}),
			ClaimTTL:   getDurationEnv("SESSION_CLAIM_TTL", 30*time.Second),
			SettleWait: getDurationEnv("SESSION_SETTLE_WAIT", 5*time.Second),
		},
		Webhook: WebhookConfig{
			Timeout:   getDurationEnv("WEBHOOK_TIMEOUT", 10*time.Second),
			Tolerance: getDurationEnv("WEBHOOK_TOLERANCE", 5*time.Minute),
			LockTTL:   getDurationEnv("WEBHOOK_LOCK_TTL", 30*time.Second),
		},
		Queue: QueueConfig{
			Driver:          getEnv("QUEUE_DRIVER", "redis"),
			Stream:          getEnv("QUEUE_STREAM", "payup:webhooks"),
			Group:           getEnv("QUEUE_GROUP", "webhook-dispatchers"),
			Consumer:        getEnv("QUEUE_CONSUMER", hostname),
			KafkaBrokers:    getListEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
			KafkaTopic:      getEnv("KAFKA_TOPIC", "payup.webhooks"),
			KafkaMaxRetries: getIntEnv("KAFKA_MAX_RETRIES", 3),
			RetryBackoff:    getDurationEnv("QUEUE_RETRY_BACKOFF", 10*time.Second),
			MaxRetryBackoff: getDurationEnv("QUEUE_MAX_RETRY_BACKOFF", 30*time.Minute),
		},
		Outbox: OutboxConfig{
			Interval:  getDurationEnv("OUTBOX_INTERVAL", 5*time.Second),
			BatchSize: getIntEnv("OUTBOX_BATCH_SIZE", 100),
			Grace:     getDurationEnv("OUTBOX_GRACE", 30*time.Second),
		},
		Security: SecurityConfig{
			SealingKey: getEnv("SEALING_KEY", ""),
			AdminToken: getEnv("ADMIN_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "payup"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
	}
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return "host=" + c.Host + " port=" + c.Port + " user=" + c.User +
		" password=" + c.Password + " dbname=" + c.DBName + " sslmode=" + c.SSLMode
}

// URL returns the connection string in URL form, as expected by pgxpool.
func (c DatabaseConfig) URL() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

// Validate reports configuration that would prevent the service from running.
func (c *Config) Validate() error {
	if c.Security.SealingKey == "" {
		return errors.New("SEALING_KEY is required")
	}
	if c.Queue.Driver != "redis" && c.Queue.Driver != "kafka" {
		return errors.New("QUEUE_DRIVER must be redis or kafka")
	}
	if c.Session.TTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if c.Queue.KafkaMaxRetries < 0 {
		return errors.New("KAFKA_MAX_RETRIES must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
