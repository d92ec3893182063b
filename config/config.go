package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string // "console" or "json"

	DBType      string // "sqlite" or "postgres"
	DatabaseURL string

	Provider ProviderConfig

	PublicBaseURL       string
	HealthPath          string
	HealthProbeInterval time.Duration
	SweepInterval       time.Duration

	WorkerPoolSize int
	EventQueueSize int
	BulkThreshold  int

	WebhookStatusPath  string
	WebhookInboundPath string
	WebhookValidate    bool

	Events EventsConfig
	Media  MediaConfig
}

// ProviderConfig holds the credentials and endpoint of the SMS/MMS provider.
type ProviderConfig struct {
	BaseURL             string
	AccountSID          string
	AuthToken           string
	MessagingServiceSID string
	Timeout             time.Duration
}

// EventsConfig selects where domain events are mirrored outside the process.
type EventsConfig struct {
	Sinks               []string // any of rabbitmq, kafka, redis; empty disables forwarding
	RabbitMQURL         string
	RabbitMQQueue       string
	RabbitMQTopicQueues []string // topics published to their own queue instead of RabbitMQQueue
	KafkaBrokers        []string
	KafkaTopic          string
	RedisURL            string
	RedisStream         string
	RedisMaxLen         int64
	MaxRetries          int
	RetryBackoff        time.Duration
}

// MediaConfig holds S3 settings for MMS media storage.
type MediaConfig struct {
	S3Enabled     bool
	S3Endpoint    string
	S3Region      string
	S3Bucket      string
	S3AccessKey   string
	S3SecretKey   string
	S3PathStyle   bool
	S3PublicURL   string
	MaxImageWidth int
}

// StatusCallbackURL is the externally reachable URL the provider posts status updates to.
// Empty when no public base URL is configured.
func (c *Config) StatusCallbackURL() string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.PublicBaseURL, "/") + c.WebhookStatusPath
}

// HealthProbeURL is the URL the health monitor probes to decide whether callbacks can reach us.
func (c *Config) HealthProbeURL() string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.PublicBaseURL, "/") + c.HealthPath
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Err(err).Msg("No .env file found or error loading it, relying on environment variables")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "console"),
		DBType:             strings.ToLower(getEnv("DB_TYPE", "sqlite")),
		DatabaseURL:        getEnv("DATABASE_URL", "file:smsrelay.db?_pragma=busy_timeout(5000)"),
		PublicBaseURL:      os.Getenv("PUBLIC_BASE_URL"),
		HealthPath:         getEnv("HEALTH_PATH", "/health"),
		WebhookStatusPath:  getEnv("WEBHOOK_STATUS_PATH", "/webhooks/sms/status"),
		WebhookInboundPath: getEnv("WEBHOOK_INBOUND_PATH", "/webhooks/sms/inbound"),
		Provider: ProviderConfig{
			BaseURL:             getEnv("PROVIDER_BASE_URL", "https://api.twilio.com"),
			AccountSID:          os.Getenv("PROVIDER_ACCOUNT_SID"),
			AuthToken:           os.Getenv("PROVIDER_AUTH_TOKEN"),
			MessagingServiceSID: os.Getenv("PROVIDER_MESSAGING_SERVICE_SID"),
		},
		Events: EventsConfig{
			Sinks:               splitList(strings.ToLower(getEnv("EVENTS_SINK", ""))),
			RabbitMQURL:         os.Getenv("RABBITMQ_URL"),
			RabbitMQQueue:       getEnv("RABBITMQ_QUEUE", "smsrelay_events"),
			RabbitMQTopicQueues: splitList(os.Getenv("RABBITMQ_TOPIC_QUEUES")),
			KafkaBrokers:        splitList(os.Getenv("KAFKA_BROKERS")),
			KafkaTopic:          getEnv("KAFKA_TOPIC", "smsrelay.events"),
			RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
			RedisStream:         getEnv("REDIS_STREAM", "smsrelay:events"),
		},
		Media: MediaConfig{
			S3Endpoint:  os.Getenv("S3_ENDPOINT"),
			S3Region:    getEnv("S3_REGION", "us-east-1"),
			S3Bucket:    os.Getenv("S3_BUCKET"),
			S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
			S3SecretKey: os.Getenv("S3_SECRET_KEY"),
			S3PublicURL: os.Getenv("S3_PUBLIC_URL"),
		},
	}

	var err error
	if cfg.Provider.Timeout, err = getEnvDuration("PROVIDER_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.HealthProbeInterval, err = getEnvDuration("HEALTH_PROBE_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.WorkerPoolSize, err = getEnvInt("WORKER_POOL_SIZE", 8); err != nil {
		return nil, err
	}
	if cfg.EventQueueSize, err = getEnvInt("EVENT_QUEUE_SIZE", 256); err != nil {
		return nil, err
	}
	if cfg.BulkThreshold, err = getEnvInt("BULK_THRESHOLD", 10); err != nil {
		return nil, err
	}
	if cfg.Events.MaxRetries, err = getEnvInt("EVENTS_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.Events.RetryBackoff, err = getEnvDuration("EVENTS_RETRY_BACKOFF", 2*time.Second); err != nil {
		return nil, err
	}
	redisMaxLen, err := getEnvInt("REDIS_STREAM_MAXLEN", 100000)
	if err != nil {
		return nil, err
	}
	cfg.Events.RedisMaxLen = int64(redisMaxLen)
	if cfg.Media.MaxImageWidth, err = getEnvInt("MEDIA_MAX_IMAGE_WIDTH", 1600); err != nil {
		return nil, err
	}
	cfg.WebhookValidate = getEnvBool("WEBHOOK_VALIDATE", false)
	cfg.Media.S3Enabled = getEnvBool("S3_ENABLED", false)
	cfg.Media.S3PathStyle = getEnvBool("S3_PATH_STYLE", false)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("dbType", cfg.DBType).
		Str("providerBaseURL", cfg.Provider.BaseURL).
		Str("publicBaseURL", cfg.PublicBaseURL).
		Strs("eventSinks", cfg.Events.Sinks).
		Bool("s3Enabled", cfg.Media.S3Enabled).
		Msg("Configuration loading complete")
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBType {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_TYPE %q (expected sqlite or postgres)", c.DBType)
	}
	if c.Provider.AccountSID == "" || c.Provider.AuthToken == "" {
		return fmt.Errorf("PROVIDER_ACCOUNT_SID and PROVIDER_AUTH_TOKEN must be set")
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("WORKER_POOL_SIZE must be positive, got %d", c.WorkerPoolSize)
	}
	if c.BulkThreshold <= 0 {
		return fmt.Errorf("BULK_THRESHOLD must be positive, got %d", c.BulkThreshold)
	}
	for _, sink := range c.Events.Sinks {
		switch sink {
		case "rabbitmq", "kafka", "redis", "none":
		default:
			return fmt.Errorf("unsupported EVENTS_SINK entry %q (expected rabbitmq, kafka or redis)", sink)
		}
	}
	if c.Media.S3Enabled && c.Media.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET must be set when S3_ENABLED is true")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma separated value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
