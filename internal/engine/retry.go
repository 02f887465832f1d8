package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/strandlabs/strand/pkg/schema"
)

const (
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
)

// IsRetryableError classifies whether a step error should be retried in
// place. Retryable by default: network errors, timeouts, transient capability
// and store failures. Non-retryable: validation, lookup, and state errors,
// and context cancellation (the execution is shutting down).
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Deadline exceeded is retryable at the step level; if the workflow
	// deadline is what expired, the backoff wait aborts immediately anyway.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	// EngineError checks its own code.
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr.IsRetryable()
	}

	// Network errors are retryable.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// String heuristics for common retryable patterns.
	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"internal server error",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Default: retryable (conservative, the retry budget limits attempts).
	return true
}

// ComputeBackoff calculates the delay before retry attempt n (0-based).
// Capped at maxBackoff regardless of strategy.
func ComputeBackoff(strategy schema.RetryStrategy, attempt int) time.Duration {
	var delay time.Duration
	switch strategy {
	case schema.RetryStrategyExponential:
		// 2^attempt * base
		multiplier := time.Duration(1)
		for i := 0; i < attempt; i++ {
			multiplier *= 2
		}
		delay = baseBackoff * multiplier
	case schema.RetryStrategyLinear:
		delay = baseBackoff * time.Duration(attempt+1)
	default: // "none" or empty
		return 0
	}

	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

// WaitForBackoff sleeps for the computed backoff duration or returns early if
// the context is cancelled. Returns an error if the context was cancelled
// during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
