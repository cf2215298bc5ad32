// Package ratelimit paces outgoing requests on the client side.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request pacing.
var (
	nepseRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nepse_rate_limit_throttles_total",
		Help: "Total number of requests delayed by the client-side rate limiter",
	})

	nepseRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nepse_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a rate limit token",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
)

// throttleThreshold is the wait below which a request is not counted as
// throttled.
const throttleThreshold = time.Millisecond

// Limiter gates requests to a steady rate. A nil *Limiter allows everything.
type Limiter struct {
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewLimiter creates a limiter allowing rps requests per second with the
// given burst. It returns nil when rps is not positive.
func NewLimiter(rps float64, burst int, logger zerolog.Logger) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

// Wait blocks until a request may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}

	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	waited := time.Since(start)
	nepseRateLimitWaitSeconds.Observe(waited.Seconds())
	if waited >= throttleThreshold {
		nepseRateLimitThrottlesTotal.Inc()
		l.logger.Debug().
			Dur("waited", waited).
			Msg("Request throttled by rate limiter")
	}
	return nil
}

// Limit returns the configured rate, or rate.Inf for a nil limiter.
func (l *Limiter) Limit() rate.Limit {
	if l == nil {
		return rate.Inf
	}
	return l.limiter.Limit()
}
