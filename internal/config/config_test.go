package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "./data/splitchat.db", cfg.DBPath)
	assert.False(t, cfg.UseInMemory)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.True(t, cfg.UsingDevSecret())
	assert.True(t, decimal.RequireFromString("0.08").Equal(cfg.TaxRate))
	assert.True(t, decimal.RequireFromString("0.15").Equal(cfg.TipRate))
	assert.Equal(t, "$", cfg.Currency)
	assert.Equal(t, "Me", cfg.PrimaryUser)

	aiCfg := cfg.AI()
	assert.Equal(t, "gemini-3-pro-preview", aiCfg.PrimaryModel)
	assert.Equal(t, "gemini-2.5-flash", aiCfg.FallbackModel)
	assert.Equal(t, 3, aiCfg.MaxRetries)
	assert.Equal(t, 2*time.Second, aiCfg.InitialBackoff)
}

func TestNew_FromEnv(t *testing.T) {
	t.Setenv("SPLITCHAT_HTTP_PORT", "9000")
	t.Setenv("SPLITCHAT_USE_IN_MEMORY", "true")
	t.Setenv("SPLITCHAT_TAX_RATE", "0.1")
	t.Setenv("SPLITCHAT_CURRENCY", "€")
	t.Setenv("SPLITCHAT_AI_INITIAL_BACKOFF", "500ms")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.True(t, cfg.UseInMemory)
	assert.True(t, decimal.RequireFromString("0.1").Equal(cfg.TaxRate))
	assert.Equal(t, "€", cfg.Currency)
	assert.Equal(t, 500*time.Millisecond, cfg.AIInitialBackoff)
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"negative tax", "SPLITCHAT_TAX_RATE", "-0.1"},
		{"negative retries", "SPLITCHAT_AI_MAX_RETRIES", "-1"},
		{"bad log level", "SPLITCHAT_LOG_LEVEL", "chatty"},
		{"bad port", "SPLITCHAT_HTTP_PORT", "70000"},
		{"not a number", "SPLITCHAT_TIP_RATE", "lots"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := New()
			assert.Error(t, err)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Config{HTTPPort: 8080, LogLevel: "info", JWTSecret: "s", TokenTTL: time.Hour, PrimaryUser: "Me", UseInMemory: true}
	require.NoError(t, cfg.Validate())

	cfg.JWTSecret = ""
	cfg.TipRate = decimal.NewFromInt(-1)
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "TIP_RATE")
}
