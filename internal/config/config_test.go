package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	t.Setenv(key, value)
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t, "JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
	assert.Equal(t, DefaultStoreTimeout, cfg.StoreTimeout)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	setEnv(t, "JWT_SECRET", "test-secret")
	setEnv(t, "PORT", "9090")
	setEnv(t, "LOG_LEVEL", "debug")
	setEnv(t, "RATE_LIMIT_RPM", "30")
	setEnv(t, "STORE_TIMEOUT_MS", "250")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30, cfg.RateLimitRPM)
	assert.Equal(t, 250*time.Millisecond, cfg.StoreTimeout)
}

func TestValidateRequiresJWTSecret(t *testing.T) {
	cfg := &Config{Env: DefaultEnv, StoreTimeout: DefaultStoreTimeout}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestValidateProduction(t *testing.T) {
	cfg := &Config{
		Env:          "production",
		JWTSecret:    "s",
		StoreTimeout: DefaultStoreTimeout,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")

	cfg.StripeSecretKey = "sk_live_x"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")

	cfg.StripeWebhookSecret = "whsec_x"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	cfg.DatabaseURL = "postgres://localhost/walletd"
	assert.NoError(t, cfg.Validate())
}

func TestInvalidIntFallsBackToDefault(t *testing.T) {
	setEnv(t, "JWT_SECRET", "test-secret")
	setEnv(t, "RATE_LIMIT_RPM", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
}
