package ai

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/mmynk/splitchat/internal/metrics"
)

// Client wraps a Generator with the retry policy:
//
//   - a rate limit or missing model on the primary model switches to the
//     fallback model for good and retries at once;
//   - a rate limit on the fallback model waits and retries, up to MaxRetries
//     times, using the server's suggested wait plus a second when it gives
//     one and exponential backoff otherwise;
//   - anything else fails immediately.
type Client struct {
	gen    Generator
	cfg    Config
	logger *slog.Logger

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	model string
}

// NewClient creates a client. Empty model names and non-positive backoffs
// take their defaults from DefaultConfig.
func NewClient(gen Generator, cfg Config, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.PrimaryModel == "" {
		cfg.PrimaryModel = def.PrimaryModel
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = def.FallbackModel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		gen:    gen,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
		model:  cfg.PrimaryModel,
	}
}

// Model returns the model the next call will use.
func (c *Client) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

func (c *Client) generate(ctx context.Context, operation string, req Request) (string, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.InitialBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = c.cfg.MaxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	retriesLeft := c.cfg.MaxRetries
	for {
		model := c.Model()
		text, err := c.gen.Generate(ctx, model, req)
		if err == nil {
			metrics.AIRequestsTotal.WithLabelValues(operation, "ok").Inc()
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.AIRequestsTotal.WithLabelValues(operation, "canceled").Inc()
			return "", ctxErr
		}

		kind, hint := classify(err)
		if kind != failOther && c.switchToFallback(model) {
			c.logger.Warn("switching to fallback model",
				"operation", operation, "from", model, "to", c.Model(), "cause", kind.String())
			metrics.AIRetriesTotal.WithLabelValues("model_fallback").Inc()
			continue
		}

		if kind == failRateLimit && retriesLeft > 0 {
			wait := exp.NextBackOff()
			if hint > 0 {
				wait = hint.Truncate(time.Millisecond) + time.Second
			}
			retriesLeft--
			c.logger.Warn("rate limited, backing off",
				"operation", operation, "model", model, "wait", wait, "retries_left", retriesLeft)
			metrics.AIRetriesTotal.WithLabelValues("rate_limit").Inc()
			if err := c.sleep(ctx, wait); err != nil {
				metrics.AIRequestsTotal.WithLabelValues(operation, "canceled").Inc()
				return "", err
			}
			continue
		}

		metrics.AIRequestsTotal.WithLabelValues(operation, kind.String()).Inc()
		c.logger.Error("model call failed", "operation", operation, "model", model, "error", err)
		switch kind {
		case failNotFound:
			return "", &ModelNotFoundError{Model: model, Err: err}
		case failRateLimit:
			return "", fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return "", fmt.Errorf("generate with %s: %w", model, err)
	}
}

// switchToFallback moves the client off the primary model. It reports
// whether the call that failed on model should be retried without spending
// retry budget, which is also the case when another call already switched.
func (c *Client) switchToFallback(model string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.model != model {
		return true
	}
	if model != c.cfg.PrimaryModel || c.cfg.FallbackModel == c.cfg.PrimaryModel {
		return false
	}
	c.model = c.cfg.FallbackModel
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
