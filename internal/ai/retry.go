package ai

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"google.golang.org/genai"
)

type failure int

const (
	failOther failure = iota
	failRateLimit
	failNotFound
)

func (f failure) String() string {
	switch f {
	case failRateLimit:
		return "rate_limit"
	case failNotFound:
		return "not_found"
	}
	return "other"
}

// retryHintPattern matches the wait the API suggests in its error text,
// e.g. "Please retry in 17.52s."
var retryHintPattern = regexp.MustCompile(`(?i)retry in ([\d.]+)s`)

// classify sorts a generation error and extracts the server's suggested
// wait, if any.
func classify(err error) (failure, time.Duration) {
	kind := failOther
	var details []map[string]any

	if apiErr, ok := asAPIError(err); ok {
		details = apiErr.Details
		switch {
		case apiErr.Code == 429 || strings.Contains(apiErr.Status, "RESOURCE_EXHAUSTED"):
			kind = failRateLimit
		case apiErr.Code == 404 || strings.Contains(apiErr.Status, "NOT_FOUND"):
			kind = failNotFound
		}
	}

	msg := err.Error()
	if kind == failOther {
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(msg, "429") || strings.Contains(lower, "resource exhausted"):
			kind = failRateLimit
		case strings.Contains(msg, "404") || strings.Contains(lower, "not found"):
			kind = failNotFound
		}
	}

	return kind, retryHint(msg, details)
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

// retryHint reads a google.rpc.RetryInfo detail, falling back to the
// "retry in Xs" phrase in the message.
func retryHint(msg string, details []map[string]any) time.Duration {
	for _, d := range details {
		typ, _ := d["@type"].(string)
		if !strings.HasSuffix(typ, "RetryInfo") {
			continue
		}
		if s, ok := d["retryDelay"].(string); ok {
			if wait, err := time.ParseDuration(s); err == nil && wait > 0 {
				return wait
			}
		}
	}

	if m := retryHintPattern.FindStringSubmatch(msg); m != nil {
		if wait, err := time.ParseDuration(m[1] + "s"); err == nil && wait > 0 {
			return wait
		}
	}
	return 0
}
