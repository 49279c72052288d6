// Package config reads server settings from SPLITCHAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitchat/internal/ai"
)

// Prefix is prepended to every variable name, e.g. SPLITCHAT_HTTP_PORT.
const Prefix = "SPLITCHAT"

// DevJWTSecret is the signing secret used when none is configured.
// Fine for local runs only.
const DevJWTSecret = "splitchat-dev-secret"

// Config holds the configuration for the server.
type Config struct {
	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Storage
	DBPath      string `envconfig:"DB_PATH" default:"./data/splitchat.db"`
	UseInMemory bool   `envconfig:"USE_IN_MEMORY" default:"false"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Session tokens
	JWTSecret string        `envconfig:"JWT_SECRET" default:"splitchat-dev-secret"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	// Gemini. Without an API key, chat commands use the rule-based parser
	// only and receipt scans fail with a chat message.
	GeminiAPIKey     string        `envconfig:"GEMINI_API_KEY"`
	PrimaryModel     string        `envconfig:"PRIMARY_MODEL" default:"gemini-3-pro-preview"`
	FallbackModel    string        `envconfig:"FALLBACK_MODEL" default:"gemini-2.5-flash"`
	AIMaxRetries     int           `envconfig:"AI_MAX_RETRIES" default:"3"`
	AIInitialBackoff time.Duration `envconfig:"AI_INITIAL_BACKOFF" default:"2s"`
	AIMaxBackoff     time.Duration `envconfig:"AI_MAX_BACKOFF" default:"1m"`
	ScanTimeout      time.Duration `envconfig:"SCAN_TIMEOUT" default:"2m"`

	// New bills
	TaxRate     decimal.Decimal `envconfig:"TAX_RATE" default:"0.08"`
	TipRate     decimal.Decimal `envconfig:"TIP_RATE" default:"0.15"`
	Currency    string          `envconfig:"CURRENCY" default:"$"`
	PrimaryUser string          `envconfig:"PRIMARY_USER" default:"Me"`
}

// New creates a Config from the environment.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT out of range: %d", c.HTTPPort))
	}
	if !c.UseInMemory && c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH is required unless USE_IN_MEMORY is set"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unsupported LOG_LEVEL: %s", c.LogLevel))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must not be empty"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.AIMaxRetries < 0 {
		errs = append(errs, errors.New("AI_MAX_RETRIES must not be negative"))
	}
	if c.TaxRate.IsNegative() {
		errs = append(errs, errors.New("TAX_RATE must not be negative"))
	}
	if c.TipRate.IsNegative() {
		errs = append(errs, errors.New("TIP_RATE must not be negative"))
	}
	if strings.TrimSpace(c.PrimaryUser) == "" {
		errs = append(errs, errors.New("PRIMARY_USER must not be empty"))
	}
	return errors.Join(errs...)
}

// AI returns the model and retry settings for the AI client.
func (c *Config) AI() ai.Config {
	return ai.Config{
		PrimaryModel:   c.PrimaryModel,
		FallbackModel:  c.FallbackModel,
		MaxRetries:     c.AIMaxRetries,
		InitialBackoff: c.AIInitialBackoff,
		MaxBackoff:     c.AIMaxBackoff,
	}
}

// UsingDevSecret reports whether tokens are signed with the built-in secret.
func (c *Config) UsingDevSecret() bool {
	return c.JWTSecret == DevJWTSecret
}
