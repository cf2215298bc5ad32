// Package metrics documents the collector's Prometheus metrics and pushes
// them to a Pushgateway at the end of a run. The metrics themselves are
// defined with promauto in the packages that record them.
package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry is the registerer all packages record into via promauto.
var Registry = prometheus.DefaultRegisterer

// Gatherer is pushed when PushConfig.Gatherer is nil.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// PushConfig describes one push.
type PushConfig struct {
	// URL is the Pushgateway base URL (REQUIRED).
	URL string

	// Job is the grouping job name (REQUIRED).
	Job string

	// Grouping adds grouping labels, e.g. {"instance": host}.
	Grouping map[string]string

	// Gatherer overrides the default gatherer.
	Gatherer prometheus.Gatherer
}

// Push replaces the job's metrics on the Pushgateway. A collection run is a
// batch job with nothing to scrape once it exits.
func Push(ctx context.Context, cfg PushConfig) error {
	if cfg.URL == "" {
		return errors.New("pushgateway url is required")
	}
	if cfg.Job == "" {
		return errors.New("job is required")
	}

	g := cfg.Gatherer
	if g == nil {
		g = Gatherer
	}

	pusher := push.New(cfg.URL, cfg.Job).Gatherer(g)
	for name, value := range cfg.Grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - nepse_requests_total{endpoint, status} (Counter): Attempts by endpoint and HTTP status
//   - nepse_request_duration_seconds{endpoint} (Histogram): Attempt duration by endpoint
//   - nepse_errors_total{class} (Counter): Failed attempts by error class
//   - nepse_reauth_total{result} (Counter): Token refreshes triggered by 401/403
//
// Retry Metrics (pkg/client):
//   - nepse_retries_total{error_class} (Counter): Retry attempts by error class
//   - nepse_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - nepse_retry_exhausted_total{error_class} (Counter): Requests that used every attempt
//
// Pacing Metrics (pkg/ratelimit):
//   - nepse_rate_limit_throttles_total (Counter): Attempts that had to wait for a token
//   - nepse_rate_limit_wait_seconds (Histogram): Time spent waiting
//
// Collection Metrics (pkg/pool, pkg/pagination, pkg/pipeline):
//   - nepse_pool_items_total{result} (Counter): Pool items by success/failure
//   - nepse_pagination_pages_total{type} (Counter): Listing pages by type selector
//   - nepse_dataset_duration_seconds{dataset} (Histogram): Dataset collection time
//   - nepse_dataset_records{dataset} (Gauge): Records in the last run
//   - nepse_dataset_failures_total{dataset} (Counter): Omitted datasets and items
//
// Sink Metrics (pkg/sink):
//   - nepse_sink_writes_total{sink} (Counter): Aggregate writes
//   - nepse_sink_bytes{sink} (Gauge): Size of the last write
//   - nepse_sink_errors_total{sink, operation} (Counter): Sink errors
//
// Example Prometheus Queries:
//
//   # Auth churn per run
//   increase(nepse_reauth_total{result="success"}[1d])
//
//   # Share of failed company items
//   sum(rate(nepse_pool_items_total{result="failure"}[1d])) /
//   sum(rate(nepse_pool_items_total[1d]))
//
//   # P95 attempt latency
//   histogram_quantile(0.95, rate(nepse_request_duration_seconds_bucket[1h]))
