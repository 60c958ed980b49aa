package retry

import (
	"context"
	"fmt"
	"time"
)

// Func defines the function signature for a retryable operation.
type Func func(ctx context.Context) error

// LoggerFunc defines a logging function signature.
type LoggerFunc func(format string, args ...interface{})

// Default logger (can be replaced by a custom logger)
var logger LoggerFunc = func(format string, args ...interface{}) {
	fmt.Printf(format, args...)
}

// SetLogger allows setting a custom logger for retry operations.
func SetLogger(customLogger LoggerFunc) {
	logger = customLogger
}

// Execute performs an operation with bounded retries and growing
// intervals. The last error is returned once attempts are exhausted.
func Execute(ctx context.Context, cfg *Config, op Func) error {
	if cfg == nil || !cfg.Enable {
		return op(ctx)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid retry configuration: %w", err)
	}

	interval := cfg.Interval
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := op(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		logger("Retry %d/%d failed: %v. Waiting %v before next attempt...\n",
			attempt, cfg.MaxAttempts, lastErr, interval)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * cfg.Multiplier)
		if cfg.MaxInterval > 0 && interval > cfg.MaxInterval {
			interval = cfg.MaxInterval
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
