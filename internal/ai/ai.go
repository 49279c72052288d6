// Package ai talks to the generative model that reads receipts and
// interprets chat messages the rule-based parser could not handle.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default model identifiers.
const (
	DefaultPrimaryModel  = "gemini-3-pro-preview"
	DefaultFallbackModel = "gemini-2.5-flash"
)

var (
	ErrNoAPIKey          = errors.New("missing API key")
	ErrEmptyImage        = errors.New("receipt image is empty")
	ErrModelNotFound     = errors.New("model not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed model response")
)

// ModelNotFoundError reports a model the API key cannot reach.
type ModelNotFoundError struct {
	Model string
	Err   error
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %s not found: %v", e.Model, e.Err)
}

func (e *ModelNotFoundError) Is(target error) bool { return target == ErrModelNotFound }

func (e *ModelNotFoundError) Unwrap() error { return e.Err }

// Reason turns an error from this package into a short sentence fit for
// the chat log.
func Reason(err error) string {
	var notFound *ModelNotFoundError
	switch {
	case errors.As(err, &notFound):
		return fmt.Sprintf("Model not found (%s). Please check API key access", notFound.Model)
	case errors.Is(err, ErrNoAPIKey):
		return "Missing API Key"
	case errors.Is(err, ErrRateLimited):
		return "The AI service is busy right now"
	case errors.Is(err, ErrMalformedResponse):
		return "I couldn't read the receipt details"
	case errors.Is(err, ErrEmptyImage):
		return "The receipt image is empty"
	case errors.Is(err, context.DeadlineExceeded):
		return "The AI service took too long to answer"
	case err == nil:
		return "Unknown error"
	}
	return err.Error()
}

// Request is one prompt sent to a model.
type Request struct {
	Prompt string

	// Image is sent inline after the prompt when non-empty.
	Image    []byte
	MIMEType string
}

// Generator sends a request to the named model and returns its text reply.
type Generator interface {
	Generate(ctx context.Context, model string, req Request) (string, error)
}

// Config controls model selection and retries.
type Config struct {
	PrimaryModel  string
	FallbackModel string

	// MaxRetries is the number of rate-limit waits allowed per call.
	MaxRetries int

	// InitialBackoff is the first wait when the server gives no hint.
	// Each later wait doubles, up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		PrimaryModel:   DefaultPrimaryModel,
		FallbackModel:  DefaultFallbackModel,
		MaxRetries:     3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     time.Minute,
	}
}
