package config

import (
	"time"

	"github.com/Sternrassler/nepse-collector/pkg/pipeline"
)

// Default values for optional configuration fields.
const (
	DefaultBaseURL        = "https://nepalstock.com"
	DefaultFundsURL       = "https://www.sharesansar.com/mutual-fund-navs"
	DefaultTimeout        = 30 * time.Second
	DefaultUserAgent      = "nepse-collector/0.1.0"
	DefaultMaxAttempts    = 3
	DefaultBackoffUnit    = 500 * time.Millisecond
	DefaultBurst          = 1
	DefaultConcurrency    = 5
	DefaultFundPageLength = 50
	DefaultOutputPath     = "data/nepse.json"
	DefaultMaxAge         = 8 * time.Hour
	DefaultRedisPrefix    = "nepse"
	DefaultLogLevel       = "info"
	DefaultMetricsJob     = "nepse-collector"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Output.File.Path = DefaultOutputPath
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	// Upstream defaults
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultBaseURL
	}
	if c.Upstream.FundsURL == "" {
		c.Upstream.FundsURL = DefaultFundsURL
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = DefaultTimeout
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = DefaultUserAgent
	}

	// Fetch defaults
	if c.Fetch.MaxAttempts == 0 {
		c.Fetch.MaxAttempts = DefaultMaxAttempts
	}
	if c.Fetch.BackoffUnit == 0 {
		c.Fetch.BackoffUnit = DefaultBackoffUnit
	}
	if c.Fetch.Burst == 0 {
		c.Fetch.Burst = DefaultBurst
	}

	// Pipeline defaults
	if c.Pipeline.Concurrency == 0 {
		c.Pipeline.Concurrency = DefaultConcurrency
	}
	if c.Pipeline.FundPageLength == 0 {
		c.Pipeline.FundPageLength = DefaultFundPageLength
	}
	if len(c.Pipeline.FundTypes) == 0 {
		c.Pipeline.FundTypes = pipeline.DefaultFundTypes()
	}

	// Output defaults
	if c.Output.MaxAge == 0 {
		c.Output.MaxAge = DefaultMaxAge
	}
	if c.Output.Redis.Prefix == "" {
		c.Output.Redis.Prefix = DefaultRedisPrefix
	}

	// Logging and metrics defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = DefaultMetricsJob
	}
}
