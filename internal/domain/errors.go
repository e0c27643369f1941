package domain

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest signals malformed input.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrPoolNotInitialized signals a pool without a usable connection string.
	ErrPoolNotInitialized = errors.New("connection pool not initialized")
	// ErrPoolExhaustedRetries signals a pool operation that failed on every attempt.
	ErrPoolExhaustedRetries = errors.New("connection pool retries exhausted")

	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmbeddingQuotaExceeded signals an exhausted embedding budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrGenerationFailed signals that every model in the fallback chain failed.
	ErrGenerationFailed = errors.New("recommendation generation failed")
	// ErrCacheBackend signals a query cache storage failure. Never returned to callers.
	ErrCacheBackend = errors.New("cache backend error")
)

// RateLimitError wraps ErrRateLimited with the time until the window resets.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the Retry-After header.
func (e *RateLimitError) RetryAfterSeconds() string {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// NewRateLimited creates a rate limit error.
func NewRateLimited(retryAfter time.Duration) error {
	return &RateLimitError{RetryAfter: retryAfter}
}

// ProviderError describes a failed call to a model provider.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s/%s: status %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: 429, 5xx or timeout.
func (e *ProviderError) Retryable() bool {
	return e.Timeout || e.StatusCode == 429 || e.StatusCode >= 500
}

// IsRetryableProviderError reports whether err carries a retryable ProviderError.
func IsRetryableProviderError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
