package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env string

	// RabbitMQ
	RabbitURL     string
	MainExchange  string
	MainQueue     string
	RetryExchange string
	RetryQueue    string
	DLQExchange   string
	DLQQueue      string
	RoutingKey    string
	Prefetch      int
	ConsumeTag    string
	MaxRetries    int
	RetryDelay    time.Duration

	// Redis / idempotency
	IdempotencyEnabled bool
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	IdempotencyTTL     time.Duration

	// Email / SMTP
	EmailSender     string
	SMTPHost        string
	SMTPPort        int
	SMTPLogin       string
	SMTPPassword    string
	SMTPFrom        string
	SMTPFromName    string
	SMTPTimeout     time.Duration
	SMTPImplicitTLS bool
	SMTPInsecure    bool

	TemplatesDir string

	// HTTP (health + metrics)
	WebAddr      string
	ShutdownWait time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Env = getEnvFirst([]string{"APP_ENV", "ENV"}, "dev")

	cfg.RabbitURL = strings.TrimSpace(os.Getenv("RABBIT_URL"))
	if cfg.RabbitURL == "" {
		return nil, fmt.Errorf("missing required env var: RABBIT_URL")
	}

	cfg.MainExchange = getEnv("RABBIT_MAIN_EXCHANGE", "notifications")
	cfg.MainQueue = getEnv("RABBIT_MAIN_QUEUE", "notifications.q")
	cfg.RetryExchange = getEnv("RABBIT_RETRY_EXCHANGE", "notifications.retry")
	cfg.RetryQueue = getEnv("RABBIT_RETRY_QUEUE", "notifications.retry.q")
	cfg.DLQExchange = getEnv("RABBIT_DLQ_EXCHANGE", "notifications.dlq")
	cfg.DLQQueue = getEnv("RABBIT_DLQ_QUEUE", "notifications.dlq.q")
	cfg.RoutingKey = getEnv("RABBIT_ROUTING_KEY", "notification.event")
	cfg.Prefetch = getInt("RABBIT_PREFETCH", 10)
	cfg.ConsumeTag = getEnv("RABBIT_CONSUMER_TAG", "notification-service")
	// Zero is meaningful here: dead-letter on the first transient failure.
	cfg.MaxRetries = getIntAllowZero("MAX_RETRIES", 3)
	cfg.RetryDelay = time.Duration(getInt("RETRY_DELAY_MS", 30000)) * time.Millisecond

	cfg.IdempotencyEnabled = getBool("IDEMPOTENCY_ENABLED", true)
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getIntAllowZero("REDIS_DB", 0)
	cfg.IdempotencyTTL = getDuration("IDEMPOTENCY_TTL", 24*time.Hour)

	cfg.EmailSender = getEnv("EMAIL_SENDER", "smtp")
	cfg.SMTPHost = getEnv("SMTP_HOST", "")
	cfg.SMTPPort = getInt("SMTP_PORT", 465)
	cfg.SMTPLogin = getEnv("SMTP_LOGIN", "")
	cfg.SMTPPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SMTPFrom = getEnv("SMTP_FROM", cfg.SMTPLogin)
	cfg.SMTPFromName = getEnv("SMTP_FROM_NAME", "Notification Service")
	cfg.SMTPTimeout = getDuration("SMTP_TIMEOUT", 10*time.Second)
	// Port 465 implies TLS from the first byte; 587 and friends use STARTTLS.
	cfg.SMTPImplicitTLS = getBool("SMTP_SSL", cfg.SMTPPort == 465)
	cfg.SMTPInsecure = getBool("SMTP_INSECURE", false)

	cfg.TemplatesDir = getEnv("TEMPLATES_DIR", "templates")

	cfg.WebAddr = getEnv("WEB_ADDR", ":8001")
	cfg.ShutdownWait = getDuration("SHUTDOWN_WAIT", 10*time.Second)

	// Guard against the classic "REDIS_ADDR=localhost:6379 OTHER=..." paste error.
	if strings.Contains(cfg.RedisAddr, " ") {
		return nil, fmt.Errorf("bad REDIS_ADDR (contains spaces): %q", cfg.RedisAddr)
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvFirst(keys []string, def string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return def
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n := def
	_, _ = fmt.Sscanf(v, "%d", &n)
	if n <= 0 {
		return def
	}
	return n
}

func getIntAllowZero(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n := def
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n < 0 {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getBool(key string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
