package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds pusher configuration loaded from the environment.
type Config struct {
	AppName             string
	LogLevel            string
	LogFormat           string
	HTTPPort            string
	RabbitURL           string
	PushQueue           string
	DeadLetterQueue     string
	PrefetchCount       int
	WorkerCount         int
	DatabaseURL         string
	RedisURL            string
	StatusTable         string
	GatewayAddr         string
	FeedbackAddr        string
	CertFile            string
	KeyFile             string
	GatewayTimeout      time.Duration
	FeedbackInterval    time.Duration
	SuppressionTTL      time.Duration
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
}

// Load loads configuration and performs basic validation.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppName:             getEnv("APP_NAME", "apns_pusher"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
		HTTPPort:            getEnv("HTTP_PORT", "8083"),
		RabbitURL:           getEnv("RABBITMQ_URL", ""),
		PushQueue:           getEnv("PUSH_QUEUE", "apns.queue"),
		DeadLetterQueue:     getEnv("PUSH_DLQ", "apns.failed.queue"),
		PrefetchCount:       getEnvAsInt("PUSH_PREFETCH", 100),
		WorkerCount:         getEnvAsInt("WORKER_COUNT", 5),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		RedisURL:            getEnv("REDIS_URL", ""),
		StatusTable:         getEnv("STATUS_TABLE", "push_statuses"),
		GatewayAddr:         getEnv("APNS_GATEWAY_ADDR", "gateway.push.apple.com:2195"),
		FeedbackAddr:        getEnv("APNS_FEEDBACK_ADDR", "feedback.push.apple.com:2196"),
		CertFile:            getEnv("APNS_CERT_FILE", ""),
		KeyFile:             getEnv("APNS_KEY_FILE", ""),
		GatewayTimeout:      getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second),
		FeedbackInterval:    getEnvAsDuration("FEEDBACK_INTERVAL", 15*time.Minute),
		SuppressionTTL:      getEnvAsDuration("SUPPRESSION_TTL", 24*time.Hour),
		RetryMaxAttempts:    getEnvAsInt("RETRY_MAX_ATTEMPTS", 4),
		RetryInitialBackoff: getEnvAsDuration("RETRY_INITIAL_BACKOFF", time.Second),
		RetryMaxBackoff:     getEnvAsDuration("RETRY_MAX_BACKOFF", 15*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.RabbitURL == "" {
		missing = append(missing, "RABBITMQ_URL")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.CertFile == "" {
		missing = append(missing, "APNS_CERT_FILE")
	}
	if c.KeyFile == "" {
		missing = append(missing, "APNS_KEY_FILE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

func getEnv(key, def string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return value
}

func getEnvAsInt(key string, def int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid int for %s, using default %d: %v", key, def, err)
			return def
		}
		return i
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			log.Printf("invalid duration for %s, using default %s: %v", key, def, err)
			return def
		}
		return d
	}
	return def
}
