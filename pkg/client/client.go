// Package client provides the retrying fetcher used for every upstream
// request: classification, linear backoff, reauthentication on 401/403 and
// optional client-side pacing.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/nepse-collector/pkg/auth"
	"github.com/Sternrassler/nepse-collector/pkg/ratelimit"
	"github.com/Sternrassler/nepse-collector/pkg/transport"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for client operations.
var (
	nepseRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nepse_requests_total",
		Help: "Total upstream requests by endpoint and status",
	}, []string{"endpoint", "status"})

	nepseRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nepse_request_duration_seconds",
		Help:    "Upstream request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	nepseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nepse_errors_total",
		Help: "Total failed attempts by class",
	}, []string{"class"})

	nepseReauthTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nepse_reauth_total",
		Help: "Token refreshes triggered by 401/403 responses by result",
	}, []string{"result"})
)

// summaryLength bounds the response body excerpt in exhaustion logs.
const summaryLength = 200

// Authenticator supplies authentication headers and refreshes them.
// *auth.Provider implements it.
type Authenticator interface {
	Headers() auth.Headers
	Refresh(ctx context.Context) (auth.Headers, error)
}

// Config holds the client configuration.
type Config struct {
	// Transport performs single exchanges (REQUIRED).
	Transport transport.Transport

	// Auth adds authentication headers to every attempt and is refreshed on
	// 401/403. Nil for unauthenticated sources.
	Auth Authenticator

	// Retry
	Retry RetryConfig

	// RequestsPerSecond paces attempts when positive.
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns the default configuration.
func DefaultConfig(tr transport.Transport, a Authenticator) Config {
	return Config{
		Transport: tr,
		Auth:      a,
		Retry:     DefaultRetryConfig(),
		Burst:     1,
	}
}

// Client is the retrying fetcher.
type Client struct {
	transport transport.Transport
	auth      Authenticator
	retry     RetryConfig
	limiter   *ratelimit.Limiter
	logger    zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "fetcher").Logger()

	limiter := ratelimit.NewLimiter(cfg.RequestsPerSecond, cfg.Burst, logger)
	logger.Debug().
		Int("max_attempts", cfg.Retry.MaxAttempts).
		Dur("backoff_unit", cfg.Retry.BackoffUnit).
		Float64("requests_per_second", float64(limiter.Limit())).
		Bool("authenticated", cfg.Auth != nil).
		Msg("Client configured")

	return &Client{
		transport: cfg.Transport,
		auth:      cfg.Auth,
		retry:     cfg.Retry,
		limiter:   limiter,
		logger:    logger,
	}, nil
}

// FetchWithRetry performs req until it yields a usable response or the
// attempts are exhausted. req is never mutated: each attempt sends the
// current authentication headers overlaid with req.Header.
//
// On exhaustion the error wraps ErrRetryExhausted and the last
// *TransientRequestError; a failed token refresh is joined in as an
// *auth.Error.
func (c *Client) FetchWithRetry(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}

	endpoint := endpointLabel(req.URL)
	logger := c.logger.With().Str("endpoint", endpoint).Logger()

	var (
		result     *transport.Response
		lastResp   *transport.Response
		refreshErr error
	)

	err := retryWithBackoff(ctx, c.retry, logger, func(attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		resp, err := c.transport.Do(ctx, c.attemptRequest(req))
		nepseRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		class := Classify(resp, err)
		if class == "" {
			nepseRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
			result = resp
			return nil
		}

		nepseErrorsTotal.WithLabelValues(string(class)).Inc()
		status := 0
		if resp != nil {
			status = resp.StatusCode
			nepseRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		} else {
			nepseRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		}
		lastResp = resp

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("status", status).
			Str("error_class", string(class)).
			Msg("Request attempt failed")

		return &TransientRequestError{
			StatusCode: status,
			ErrorClass: class,
			Message:    statusMessage(resp, class),
			Err:        err,
		}
	}, func(ctx context.Context, err error, attempt int) {
		if classOf(err) != ErrorClassAuth || c.auth == nil {
			return
		}
		if _, rerr := c.auth.Refresh(ctx); rerr != nil {
			nepseReauthTotal.WithLabelValues("failure").Inc()
			refreshErr = rerr
			logger.Error().Err(rerr).Int("attempt", attempt).Msg("Token refresh failed")
			return
		}
		nepseReauthTotal.WithLabelValues("success").Inc()
		refreshErr = nil
		logger.Info().Int("attempt", attempt).Msg("Token refreshed after auth failure")
	})
	if err == nil {
		return result, nil
	}

	if errors.Is(err, ErrRetryExhausted) {
		logger.Error().
			Err(err).
			Int("max_attempts", c.retry.MaxAttempts).
			Str("last_response", lastResp.Summary(summaryLength)).
			Msg("Retry attempts exhausted")
		if refreshErr != nil {
			err = errors.Join(err, refreshErr)
		}
	}
	return nil, err
}

func (c *Client) attemptRequest(req *transport.Request) *transport.Request {
	header := http.Header{}
	if c.auth != nil {
		c.auth.Headers().Apply(header)
	}
	for key, values := range req.Header {
		header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	return &transport.Request{
		Method: req.Method,
		URL:    req.URL,
		Header: header,
		Body:   req.Body,
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*transport.Response, error) {
	return c.FetchWithRetry(ctx, transport.NewRequest(http.MethodGet, rawURL, header, nil))
}

// PostJSON performs a POST request with body encoded as JSON.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body any, header http.Header) (*transport.Response, error) {
	return c.FetchWithRetry(ctx, transport.NewRequest(http.MethodPost, rawURL, header, body))
}

// endpointLabel returns the URL path with numeric segments collapsed so
// per-company endpoints share one metric series.
func endpointLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "unknown"
	}
	segments := strings.Split(u.Path, "/")
	for i, s := range segments {
		if s == "" {
			continue
		}
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}
