package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// Inbound Kafka ingestion. Empty brokers disable the consumer and
	// leave HTTP publishing as the only event source.
	KafkaBrokers []string
	KafkaGroupID string

	// FCM credentials file for the push pipeline. When unset, push
	// deliveries go to the log sink instead.
	FCMCredentialsFile string

	WebhookWorkers int
	PushWorkers    int

	MaxDeliveryAttempts int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	DeliveryTimeout     time.Duration

	OTPLimit  int
	OTPWindow time.Duration

	ReconcileInterval time.Duration

	// Per-role admission-control overrides. Zero means keep the shipped
	// default for that role.
	RateLimits map[string]RateLimit
}

// RateLimit is one role's bucket shape: burst capacity and sustained
// requests per second.
type RateLimit struct {
	Capacity   int
	RefillRate float64
}

// Load reads configuration from environment variables. A .env file in the
// working directory is merged in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := getEnv("DATABASE_URL", "")
	redisURL := getEnv("REDIS_URL", "")

	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: dbURL,
		RedisURL:    redisURL,

		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "dispatch"),
		FCMCredentialsFile: getEnv("FCM_CREDENTIALS_FILE", ""),

		WebhookWorkers: getEnvInt("WEBHOOK_WORKERS", 20),
		PushWorkers:    getEnvInt("PUSH_WORKERS", 10),

		MaxDeliveryAttempts: getEnvInt("MAX_DELIVERY_ATTEMPTS", 5),
		RetryBaseDelay:      getEnvDuration("RETRY_BASE_DELAY", 10*time.Second),
		RetryMaxDelay:       getEnvDuration("RETRY_MAX_DELAY", 15*time.Minute),
		DeliveryTimeout:     getEnvDuration("DELIVERY_TIMEOUT", 10*time.Second),

		OTPLimit:  getEnvInt("OTP_LIMIT", 5),
		OTPWindow: getEnvDuration("OTP_WINDOW", time.Hour),

		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
	}

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	cfg.RateLimits = map[string]RateLimit{}
	for _, role := range []string{"anonymous", "patient", "clinician", "admin"} {
		prefix := "RATE_LIMIT_" + strings.ToUpper(role)
		capacity := getEnvInt(prefix+"_CAPACITY", 0)
		refill := getEnvFloat(prefix+"_REFILL", 0)
		if capacity > 0 || refill > 0 {
			cfg.RateLimits[role] = RateLimit{Capacity: capacity, RefillRate: refill}
		}
	}

	if cfg.MaxDeliveryAttempts < 1 {
		return nil, fmt.Errorf("MAX_DELIVERY_ATTEMPTS must be at least 1")
	}
	if cfg.RetryBaseDelay <= 0 || cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		return nil, fmt.Errorf("retry delays misconfigured: base %s, max %s", cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	}

	return cfg, nil
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
