// Package config loads the collector's YAML configuration.
package config

import (
	"time"

	"github.com/Sternrassler/nepse-collector/pkg/pipeline"
)

// Config is the root configuration.
type Config struct {
	Upstream UpstreamConfig `yaml:"upstream"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// UpstreamConfig describes the remote sources.
type UpstreamConfig struct {
	BaseURL   string        `yaml:"base_url"`
	FundsURL  string        `yaml:"funds_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`

	// InsecureSkipVerify defaults to true: nepalstock.com serves an
	// incomplete certificate chain.
	InsecureSkipVerify *bool `yaml:"insecure_skip_verify"`
}

// FetchConfig controls retries and pacing.
type FetchConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffUnit       time.Duration `yaml:"backoff_unit"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 disables pacing
	Burst             int           `yaml:"burst"`
}

// PipelineConfig selects and sizes the collection.
type PipelineConfig struct {
	Datasets       []string            `yaml:"datasets"`
	Concurrency    int                 `yaml:"concurrency"`
	FundPageLength int                 `yaml:"fund_page_length"`
	FundTypes      []pipeline.FundType `yaml:"fund_types"`
}

// OutputConfig selects the sinks.
type OutputConfig struct {
	File  FileOutputConfig  `yaml:"file"`
	Redis RedisOutputConfig `yaml:"redis"`

	// MaxAge skips a run when the output is younger, unless forced.
	MaxAge time.Duration `yaml:"max_age"`
}

// FileOutputConfig configures the JSON file sink.
type FileOutputConfig struct {
	Path   string `yaml:"path"` // empty disables the file sink
	Indent bool   `yaml:"indent"`
}

// RedisOutputConfig configures the Redis sink.
type RedisOutputConfig struct {
	Addr     string        `yaml:"addr"` // empty disables the Redis sink
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// MetricsConfig configures the end-of-run push.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"` // empty disables the push
	Job            string `yaml:"job"`
}

// SkipVerify reports whether TLS verification is disabled.
func (u UpstreamConfig) SkipVerify() bool {
	return u.InsecureSkipVerify == nil || *u.InsecureSkipVerify
}
