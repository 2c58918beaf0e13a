package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("FRONTEND_URL", "https://shop.example.com/")
	t.Setenv("BACKEND_URL", "https://api.example.com/")
	t.Setenv("JWT_TTL_HOURS", "2")
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	t.Setenv("ADMIN_PASSWORD_HASH", "")

	cfg := Load()
	assert.Equal(t, "9090", cfg.AppPort)
	assert.Equal(t, "https://shop.example.com", cfg.FrontendURL)
	assert.Equal(t, "https://api.example.com", cfg.BackendURL)
	assert.Equal(t, 2*time.Hour, cfg.TokenExpires)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers())
	assert.False(t, cfg.AdminAuthEnabled())
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{FrontendURL: "https://shop.example.com"}
	assert.Equal(t, "https://shop.example.com,http://localhost:3000", cfg.AllowedOrigins())

	cfg.FrontendURL = "http://localhost:3000"
	assert.Equal(t, "http://localhost:3000", cfg.AllowedOrigins())

	cfg.CORSOrigins = "https://a.example.com"
	assert.Equal(t, "https://a.example.com", cfg.AllowedOrigins())
}

func TestIsProduction(t *testing.T) {
	assert.True(t, (&Config{AppEnv: "Production"}).IsProduction())
	assert.False(t, (&Config{AppEnv: "development"}).IsProduction())
}
