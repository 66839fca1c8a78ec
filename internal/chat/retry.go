package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shoptalk/shoptalk/internal/model"
)

// RetryConfig configures retry behavior for model calls.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns sensible defaults for model API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryableError reports whether an error is transient enough to retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()

	// Rate limits
	if containsAnyFold(errStr, "rate limit", "quota exceeded", "429") {
		return true
	}
	// Transient server errors
	if containsAnyFold(errStr, "500", "502", "503", "504", "unavailable", "overloaded") {
		return true
	}
	// Network errors
	if containsAnyFold(errStr, "connection reset", "connection refused", "timeout", "temporary") {
		return true
	}
	return false
}

func containsAnyFold(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// generateWithRetry runs one generation with exponential backoff on
// transient errors. Once any output chunk has reached the callback a retry
// would duplicate visible text, so failures after first output are final.
func (a *Agent) generateWithRetry(ctx context.Context, req model.Request, cb model.StreamCallback) (string, error) {
	var lastErr error
	delay := a.retryConfig.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= a.retryConfig.MaxRetries; attempt++ {
		emitted := false
		wrapped := cb
		if cb != nil {
			wrapped = func(ctx context.Context, delta string) error {
				emitted = true
				return cb(ctx, delta)
			}
		}

		text, err := a.generator.Generate(ctx, req, wrapped)
		if err == nil {
			a.logger.Debug("generation succeeded",
				"attempts", attempt+1, "elapsed", time.Since(start))
			return text, nil
		}
		lastErr = err

		if emitted || !retryableError(err) || ctx.Err() != nil {
			return "", err
		}
		if attempt == a.retryConfig.MaxRetries {
			break
		}

		a.logger.Debug("retrying generation",
			"attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("canceled during retry backoff: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, a.retryConfig.MaxInterval)
		}
	}

	return "", fmt.Errorf("generation after %d retries (elapsed %v): %w",
		a.retryConfig.MaxRetries, time.Since(start), lastErr)
}
