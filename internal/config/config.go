package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	AppName     string
	AppPort     string
	AppEnv      string
	Debug       bool
	FrontendURL string
	BackendURL  string
	CORSOrigins string

	DatabaseURL       string
	GatewayStore      string
	GatewayDBPath     string
	GatewayConfigFile string

	PayPalClientID     string
	PayPalClientSecret string
	PayPalMode         string

	StripeWebhookSecret string

	AdminUsername     string
	AdminPasswordHash string
	JWTSecret         string
	TokenExpires      time.Duration

	KafkaBrokerList         string
	KafkaPaymentEventsTopic string

	TelegramBotToken  string
	TelegramAdminChat string
}

// Load reads environment variables and returns a populated Config.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		AppName:     getEnv("APP_NAME", "Paygate"),
		AppPort:     getEnv("APP_PORT", "8000"),
		AppEnv:      getEnv("APP_ENV", "development"),
		Debug:       getEnvBool("DEBUG", true),
		FrontendURL: strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		BackendURL:  strings.TrimRight(getEnv("BACKEND_URL", "http://127.0.0.1:8000"), "/"),
		CORSOrigins: getEnv("CORS_ORIGINS", ""),

		DatabaseURL:       getEnv("DATABASE_URL", ""),
		GatewayStore:      getEnv("GATEWAY_STORE", "sql"),
		GatewayDBPath:     getEnv("GATEWAY_DB_PATH", "payment_gateways.db"),
		GatewayConfigFile: getEnv("GATEWAY_CONFIG_FILE", "payment_gateways.json"),

		PayPalClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
		PayPalClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
		PayPalMode:         getEnv("PAYPAL_MODE", "sandbox"),

		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		TokenExpires:      getEnvDuration("JWT_TTL_HOURS", 12) * time.Hour,

		KafkaBrokerList:         getEnv("KAFKA_BROKERS", ""),
		KafkaPaymentEventsTopic: getEnv("KAFKA_PAYMENT_EVENTS_TOPIC", "payment-events"),

		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAdminChat: getEnv("TELEGRAM_ADMIN_CHAT_ID", ""),
	}

	if cfg.AppPort == "" {
		log.Fatal("APP_PORT must be set")
	}

	if cfg.AdminAuthEnabled() && cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set when ADMIN_PASSWORD_HASH is configured")
	}

	return cfg
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// AdminAuthEnabled reports whether admin routes require a bearer token.
func (c *Config) AdminAuthEnabled() bool {
	return c.AdminPasswordHash != ""
}

// KafkaBrokers splits KAFKA_BROKERS into addresses. Empty means disabled.
func (c *Config) KafkaBrokers() []string {
	return splitList(c.KafkaBrokerList)
}

// AllowedOrigins returns the CORS origin list, defaulting to the frontend URL.
func (c *Config) AllowedOrigins() string {
	if c.CORSOrigins != "" {
		return c.CORSOrigins
	}
	origins := []string{c.FrontendURL}
	if c.FrontendURL != "http://localhost:3000" {
		origins = append(origins, "http://localhost:3000")
	}
	return strings.Join(origins, ",")
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback int) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return time.Duration(parsed)
		}
	}
	return time.Duration(fallback)
}
