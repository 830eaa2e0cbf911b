package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	// Checkout surface / SDK defaults.
	AssetHostBaseURL string
	PaymentAPIURL    string
	DefaultAmount    int64
	Currency         string

	// Webhook delivery.
	WebhookRequestTimeout  time.Duration
	WebhookMaxAttempts     int
	WebhookReplayTTL       time.Duration
	WebhookDeliveryEnabled bool

	// Merchant-side receiver.
	MerchantWebhookSecret string

	// Payment processing worker.
	ProcessingMinDelay time.Duration
	ProcessingMaxDelay time.Duration

	IdempotencyTTL   time.Duration
	QueueRedisPrefix string
	QueueMaxAttempts int

	RateLimitMax    int
	RateLimitWindow time.Duration

	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	OutboundTimeout        time.Duration
	RetryBase              time.Duration
	RetryMaxAttempts       int
	RetryJitterPercent     float64
	CircuitMinRequests     int
	CircuitFailureRatio    float64
	CircuitOpenFor         time.Duration
	EventWorkerConcurrency int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		AssetHostBaseURL: valueOrDefault(k.String("ASSET_HOST_BASE_URL"), "http://localhost:3001"),
		PaymentAPIURL:    valueOrDefault(k.String("PAYMENT_API_URL"), "http://localhost:8080"),
		DefaultAmount:    parseInt64(k.String("PAYMENT_DEFAULT_AMOUNT"), 5000),
		Currency:         valueOrDefault(k.String("PAYMENT_CURRENCY"), "INR"),

		WebhookRequestTimeout:  parseDuration(k.String("WEBHOOK_REQUEST_TIMEOUT"), "5s"),
		WebhookMaxAttempts:     parseInt(k.String("WEBHOOK_MAX_ATTEMPTS"), 5),
		WebhookReplayTTL:       parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		WebhookDeliveryEnabled: parseBool(k.String("WEBHOOK_DELIVERY_ENABLED"), true),

		MerchantWebhookSecret: valueOrDefault(k.String("MERCHANT_WEBHOOK_SECRET"), "whsec_test_abc123"),

		ProcessingMinDelay: parseDuration(k.String("PROCESSING_MIN_DELAY"), "5s"),
		ProcessingMaxDelay: parseDuration(k.String("PROCESSING_MAX_DELAY"), "10s"),

		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		QueueRedisPrefix: valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "gateway"),
		QueueMaxAttempts: parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 10),

		RateLimitMax:    parseInt(k.String("RATE_LIMIT_MAX"), 120),
		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),

		LockTTL:          parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		OutboundTimeout:        parseDuration(k.String("OUTBOUND_TIMEOUT"), "5s"),
		RetryBase:              parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryMaxAttempts:       parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryJitterPercent:     parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),
		CircuitMinRequests:     parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
		CircuitFailureRatio:    parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:         parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		EventWorkerConcurrency: parseInt(k.String("EVENT_WORKER_CONCURRENCY"), 2),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseInt64(value string, fallback int64) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
