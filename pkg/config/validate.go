package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Sternrassler/nepse-collector/pkg/normalize"
	"github.com/Sternrassler/nepse-collector/pkg/pipeline"
)

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	if err := validateURL("upstream.base_url", c.Upstream.BaseURL); err != nil {
		return err
	}
	if err := validateURL("upstream.funds_url", c.Upstream.FundsURL); err != nil {
		return err
	}
	if c.Upstream.Timeout < 0 {
		return errors.New("upstream.timeout must be >= 0")
	}

	if c.Fetch.MaxAttempts < 1 {
		return errors.New("fetch.max_attempts must be >= 1")
	}
	if c.Fetch.BackoffUnit < 0 {
		return errors.New("fetch.backoff_unit must be >= 0")
	}
	if c.Fetch.RequestsPerSecond < 0 {
		return errors.New("fetch.requests_per_second must be >= 0")
	}

	if c.Pipeline.Concurrency < 1 {
		return errors.New("pipeline.concurrency must be >= 1")
	}
	if c.Pipeline.FundPageLength < 1 {
		return errors.New("pipeline.fund_page_length must be >= 1")
	}
	for i, ft := range c.Pipeline.FundTypes {
		if ft.Label == "" || ft.Selector == "" {
			return fmt.Errorf("pipeline.fund_types[%d] needs a label and a selector", i)
		}
	}
	if _, err := c.Datasets(); err != nil {
		return fmt.Errorf("pipeline.datasets: %w", err)
	}

	if c.Output.File.Path == "" && c.Output.Redis.Addr == "" {
		return errors.New("output needs a file path or a redis addr")
	}
	if c.Output.MaxAge < 0 {
		return errors.New("output.max_age must be >= 0")
	}

	if c.Metrics.PushgatewayURL != "" {
		if err := validateURL("metrics.pushgateway_url", c.Metrics.PushgatewayURL); err != nil {
			return err
		}
	}

	// The shipped key tables must be idempotent.
	for name, rules := range map[string]normalize.Rules{
		"market": normalize.MarketRules,
		"report": normalize.ReportRules,
		"fund":   normalize.FundRules,
	} {
		if err := rules.Validate(); err != nil {
			return fmt.Errorf("%s normalization rules: %w", name, err)
		}
	}

	return nil
}

// Datasets returns the selected datasets. None selects all.
func (c *Config) Datasets() ([]pipeline.Dataset, error) {
	if len(c.Pipeline.Datasets) == 0 {
		return pipeline.AllDatasets(), nil
	}
	return pipeline.ParseDatasets(strings.Join(c.Pipeline.Datasets, ","))
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) url, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", field)
	}
	return nil
}
