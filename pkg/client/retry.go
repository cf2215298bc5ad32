package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	nepseRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nepse_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	nepseRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nepse_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10},
	}, []string{"error_class"})

	nepseRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nepse_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// BackoffUnit is multiplied by the attempt number to get the wait after
	// that attempt: 1x after the first, 2x after the second, and so on.
	BackoffUnit time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffUnit: 500 * time.Millisecond,
	}
}

// Validate checks the retry configuration.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", c.MaxAttempts)
	}
	if c.BackoffUnit < 0 {
		return fmt.Errorf("backoff_unit must not be negative (got %s)", c.BackoffUnit)
	}
	return nil
}

// linearBackOff waits unit, 2*unit, 3*unit, ...
type linearBackOff struct {
	unit time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.unit
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

// retryWithBackoff runs fn up to MaxAttempts times with linear backoff.
// onRetry runs after a failed attempt that will be retried, before the wait;
// it never runs after the final attempt. fn returning an error wrapped with
// backoff.Permanent stops immediately.
func retryWithBackoff(
	ctx context.Context,
	cfg RetryConfig,
	logger zerolog.Logger,
	fn func(attempt int) error,
	onRetry func(ctx context.Context, err error, attempt int),
) error {
	attempt := 0
	var lastErr error

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{unit: cfg.BackoffUnit}, uint64(cfg.MaxAttempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(func() error {
		attempt++
		lastErr = fn(attempt)
		if lastErr != nil && !shouldRetry(classOf(lastErr)) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, policy, func(err error, wait time.Duration) {
		class := classOf(err)
		nepseRetriesTotal.WithLabelValues(string(class)).Inc()
		nepseRetryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		logger.Debug().
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		if onRetry != nil {
			onRetry(ctx, err, attempt)
		}
	})
	if err == nil {
		if attempt > 1 {
			logger.Info().
				Int("attempt", attempt).
				Msg("Request succeeded after retry")
		}
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Warn().
			Int("attempt", attempt).
			Msg("Context cancelled during retry")
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctxErr)
	}

	var transient *TransientRequestError
	if !errors.As(lastErr, &transient) {
		// Permanent failures are returned as they are.
		return err
	}

	class := classOf(lastErr)
	if !shouldRetry(class) {
		logger.Warn().
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Msg("Error class is not retryable")
		return fmt.Errorf("non-retryable %s failure: %w", class, lastErr)
	}
	nepseRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, lastErr)
}

func classOf(err error) ErrorClass {
	var transient *TransientRequestError
	if errors.As(err, &transient) {
		return transient.ErrorClass
	}
	return ErrorClassNetwork
}
