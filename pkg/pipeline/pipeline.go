// Package pipeline orchestrates one collection run: it fetches the market
// snapshot, fans out per-company report and security requests over a bounded
// pool, walks the mutual-fund listing, and assembles the normalized results
// into a single Aggregate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/nepse-collector/pkg/auth"
	"github.com/Sternrassler/nepse-collector/pkg/transport"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	nepseDatasetDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nepse_dataset_duration_seconds",
		Help:    "Dataset collection duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"dataset"})

	nepseDatasetRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nepse_dataset_records",
		Help: "Records collected in the last run by dataset",
	}, []string{"dataset"})

	nepseDatasetFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nepse_dataset_failures_total",
		Help: "Datasets or dataset items that could not be collected",
	}, []string{"dataset"})
)

const (
	// DefaultBaseURL is the NEPSE origin.
	DefaultBaseURL = "https://nepalstock.com"

	// DefaultFundsURL is the mutual-fund NAV listing.
	DefaultFundsURL = "https://www.sharesansar.com/mutual-fund-navs"
)

// Dataset names one group of collected data.
type Dataset string

const (
	DatasetMarket     Dataset = "market"
	DatasetReports    Dataset = "reports"
	DatasetSecurities Dataset = "securities"
	DatasetFunds      Dataset = "funds"
)

// AllDatasets returns every dataset in collection order.
func AllDatasets() []Dataset {
	return []Dataset{DatasetMarket, DatasetReports, DatasetSecurities, DatasetFunds}
}

// ParseDatasets parses a comma-separated dataset list. An empty string or
// "all" selects every dataset.
func ParseDatasets(s string) ([]Dataset, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return AllDatasets(), nil
	}

	seen := make(map[Dataset]bool)
	var out []Dataset
	for _, part := range strings.Split(s, ",") {
		d := Dataset(strings.ToLower(strings.TrimSpace(part)))
		if d == "" {
			continue
		}
		if !d.valid() {
			return nil, fmt.Errorf("unknown dataset %q", part)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no datasets selected")
	}
	return out, nil
}

func (d Dataset) valid() bool {
	for _, known := range AllDatasets() {
		if d == known {
			return true
		}
	}
	return false
}

// Fetcher performs a request with retries. *client.Client implements it.
type Fetcher interface {
	FetchWithRetry(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Acquirer obtains the initial authentication headers. *auth.Provider
// implements it.
type Acquirer interface {
	Acquire(ctx context.Context) (auth.Headers, error)
}

// FundType is one mutual-fund listing.
type FundType struct {
	Label    string `yaml:"label"`
	Selector string `yaml:"selector"`
}

// DefaultFundTypes returns the closed-end and open-end listings.
func DefaultFundTypes() []FundType {
	return []FundType{
		{Label: "closed", Selector: "-1"},
		{Label: "opened", Selector: "2"},
	}
}

// Aggregate is the output of one run.
type Aggregate struct {
	RunID     string         `json:"runId"`
	UpdatedAt time.Time      `json:"updAt"`
	Datasets  map[string]any `json:"datasets"`

	// Failures lists what was logged and omitted, keyed by dataset.
	Failures map[string][]string `json:"-"`
}

// Partial reports whether anything was omitted from the aggregate.
func (a *Aggregate) Partial() bool {
	return len(a.Failures) > 0
}

// Config holds pipeline configuration.
type Config struct {
	// BaseURL is the NEPSE origin.
	BaseURL string

	// FundsURL is the mutual-fund listing endpoint.
	FundsURL string

	// Concurrency bounds in-flight per-company requests.
	Concurrency int

	// FundPageLength is the listing page size.
	FundPageLength int

	// FundTypes selects the fund listings to collect.
	FundTypes []FundType

	// Fetcher issues authenticated NEPSE requests (REQUIRED).
	Fetcher Fetcher

	// FundFetcher issues fund listing requests. Defaults to Fetcher.
	FundFetcher Fetcher

	// Auth, when set, is acquired once before any NEPSE request.
	Auth Acquirer

	// Now returns the aggregate timestamp. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default configuration.
func DefaultConfig(fetcher Fetcher) Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		FundsURL:       DefaultFundsURL,
		Concurrency:    5,
		FundPageLength: 50,
		FundTypes:      DefaultFundTypes(),
		Fetcher:        fetcher,
	}
}

// Pipeline runs collections.
type Pipeline struct {
	config Config
	logger zerolog.Logger
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	defaults := DefaultConfig(cfg.Fetcher)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.FundsURL == "" {
		cfg.FundsURL = defaults.FundsURL
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.FundPageLength < 1 {
		cfg.FundPageLength = defaults.FundPageLength
	}
	if cfg.FundTypes == nil {
		cfg.FundTypes = defaults.FundTypes
	}
	if cfg.FundFetcher == nil {
		cfg.FundFetcher = cfg.Fetcher
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Pipeline{
		config: cfg,
		logger: log.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Run collects datasets and returns the aggregate. An empty list collects
// everything.
//
// Only an authentication failure at start and an unusable company list (when
// reports or securities depend on it) abort the run. Other failures are
// logged, recorded in Aggregate.Failures, and omitted from the output.
func (p *Pipeline) Run(ctx context.Context, datasets []Dataset) (*Aggregate, error) {
	if len(datasets) == 0 {
		datasets = AllDatasets()
	}
	want := make(map[Dataset]bool, len(datasets))
	for _, d := range datasets {
		want[d] = true
	}

	start := time.Now()
	agg := &Aggregate{
		RunID:     uuid.NewString(),
		UpdatedAt: p.config.Now().UTC(),
		Datasets:  make(map[string]any),
		Failures:  make(map[string][]string),
	}
	logger := p.logger.With().Str("run_id", agg.RunID).Logger()
	logger.Info().Interface("datasets", datasets).Msg("Run started")

	var mu sync.Mutex
	fail := func(dataset Dataset, what string, err error) {
		nepseDatasetFailures.WithLabelValues(string(dataset)).Inc()
		mu.Lock()
		agg.Failures[string(dataset)] = append(agg.Failures[string(dataset)], fmt.Sprintf("%s: %v", what, err))
		mu.Unlock()
	}

	needsNEPSE := want[DatasetMarket] || want[DatasetReports] || want[DatasetSecurities]
	if needsNEPSE && p.config.Auth != nil {
		if _, err := p.config.Auth.Acquire(ctx); err != nil {
			logger.Error().Err(err).Msg("Authentication failed")
			return nil, fmt.Errorf("authenticate: %w", err)
		}
	}

	var companies []Company
	if needsNEPSE {
		endpoints := []Endpoint{companyListEndpoint()}
		if want[DatasetMarket] {
			endpoints = MarketEndpoints()
		}

		began := time.Now()
		market := p.collectMarket(ctx, endpoints, func(name string, err error) {
			fail(DatasetMarket, name, err)
		})
		if want[DatasetMarket] {
			agg.Datasets[string(DatasetMarket)] = market.Payloads
			nepseDatasetRecords.WithLabelValues(string(DatasetMarket)).Set(float64(len(market.Payloads)))
			nepseDatasetDuration.WithLabelValues(string(DatasetMarket)).Observe(time.Since(began).Seconds())
		}

		if want[DatasetReports] || want[DatasetSecurities] {
			if market.CompanyErr != nil {
				logger.Error().Err(market.CompanyErr).Msg("Company list unavailable")
				return nil, fmt.Errorf("company list: %w", market.CompanyErr)
			}
			var skipped int
			companies, skipped = extractCompanies(market.Payloads[companyListName])
			logger.Info().
				Int("companies", len(companies)).
				Int("skipped", skipped).
				Msg("Company list ready")
		}
	}

	if want[DatasetReports] {
		began := time.Now()
		reports := p.collectReports(ctx, companies, func(label string, err error) {
			fail(DatasetReports, label, err)
		})
		agg.Datasets[string(DatasetReports)] = reports
		nepseDatasetRecords.WithLabelValues(string(DatasetReports)).Set(float64(len(reports)))
		nepseDatasetDuration.WithLabelValues(string(DatasetReports)).Observe(time.Since(began).Seconds())
	}

	if want[DatasetSecurities] {
		began := time.Now()
		securities := p.collectSecurities(ctx, companies, func(label string, err error) {
			fail(DatasetSecurities, label, err)
		})
		agg.Datasets[string(DatasetSecurities)] = securities
		nepseDatasetRecords.WithLabelValues(string(DatasetSecurities)).Set(float64(len(securities)))
		nepseDatasetDuration.WithLabelValues(string(DatasetSecurities)).Observe(time.Since(began).Seconds())
	}

	if want[DatasetFunds] {
		began := time.Now()
		funds := p.collectFunds(ctx, func(label string, err error) {
			fail(DatasetFunds, label, err)
		})
		agg.Datasets[string(DatasetFunds)] = funds
		nepseDatasetRecords.WithLabelValues(string(DatasetFunds)).Set(float64(len(funds)))
		nepseDatasetDuration.WithLabelValues(string(DatasetFunds)).Observe(time.Since(began).Seconds())
	}

	event := logger.Info()
	if agg.Partial() {
		event = logger.Warn().Interface("failures", agg.Failures)
	}
	event.
		Int("datasets", len(agg.Datasets)).
		Dur("duration", time.Since(start)).
		Msg("Run complete")

	return agg, nil
}
