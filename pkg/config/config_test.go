package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/nepse-collector/pkg/pipeline"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
upstream:
  base_url: https://nepalstock.example
  timeout: 45s
  insecure_skip_verify: false
fetch:
  max_attempts: 5
  backoff_unit: 250ms
pipeline:
  datasets: [market, funds]
  concurrency: 8
  fund_types:
    - label: closed
      selector: "-1"
output:
  file:
    path: out/nepse.json
    indent: true
`
	cfg, err := Load(writeTempFile(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Upstream.BaseURL != "https://nepalstock.example" {
		t.Errorf("Upstream.BaseURL = %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.Timeout != 45*time.Second {
		t.Errorf("Upstream.Timeout = %v, want 45s", cfg.Upstream.Timeout)
	}
	if cfg.Upstream.SkipVerify() {
		t.Error("SkipVerify() = true, want false when disabled explicitly")
	}
	if cfg.Fetch.MaxAttempts != 5 || cfg.Fetch.BackoffUnit != 250*time.Millisecond {
		t.Errorf("Fetch = %+v", cfg.Fetch)
	}
	if cfg.Pipeline.Concurrency != 8 {
		t.Errorf("Pipeline.Concurrency = %d, want 8", cfg.Pipeline.Concurrency)
	}
	if len(cfg.Pipeline.FundTypes) != 1 || cfg.Pipeline.FundTypes[0].Selector != "-1" {
		t.Errorf("Pipeline.FundTypes = %+v", cfg.Pipeline.FundTypes)
	}
	if !cfg.Output.File.Indent {
		t.Error("Output.File.Indent = false, want true")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_REDIS_PASSWORD", "secret123")

	yaml := `
output:
  redis:
    addr: localhost:6379
    password: ${TEST_REDIS_PASSWORD}
`
	cfg, err := Load(writeTempFile(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Output.Redis.Password != "secret123" {
		t.Errorf("Output.Redis.Password = %q, want %q", cfg.Output.Redis.Password, "secret123")
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
	if _, err := Load(writeTempFile(t, "upstream: [not, a, map]")); err == nil {
		t.Error("Load of invalid yaml should fail")
	}
}

func TestLoadAndValidate_AppliesDefaults(t *testing.T) {
	cfg, err := LoadAndValidate(writeTempFile(t, "output:\n  file:\n    path: x.json\n"))
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	if cfg.Upstream.BaseURL != DefaultBaseURL {
		t.Errorf("Upstream.BaseURL = %q, want default", cfg.Upstream.BaseURL)
	}
	if !cfg.Upstream.SkipVerify() {
		t.Error("SkipVerify() = false, want true by default")
	}
	if cfg.Fetch.MaxAttempts != DefaultMaxAttempts || cfg.Fetch.BackoffUnit != DefaultBackoffUnit {
		t.Errorf("Fetch defaults not applied: %+v", cfg.Fetch)
	}
	if cfg.Pipeline.Concurrency != DefaultConcurrency || cfg.Pipeline.FundPageLength != DefaultFundPageLength {
		t.Errorf("Pipeline defaults not applied: %+v", cfg.Pipeline)
	}
	if len(cfg.Pipeline.FundTypes) != 2 {
		t.Errorf("FundTypes = %+v, want closed and opened", cfg.Pipeline.FundTypes)
	}
	if cfg.Output.MaxAge != DefaultMaxAge {
		t.Errorf("Output.MaxAge = %v, want %v", cfg.Output.MaxAge, DefaultMaxAge)
	}
}

func TestLoadAndValidate_EmptyPath(t *testing.T) {
	cfg, err := LoadAndValidate("")
	if err != nil {
		t.Fatalf("LoadAndValidate(\"\") failed: %v", err)
	}
	if cfg.Output.File.Path != DefaultOutputPath {
		t.Errorf("Output.File.Path = %q, want %q", cfg.Output.File.Path, DefaultOutputPath)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:    "bad base url",
			mutate:  func(c *Config) { c.Upstream.BaseURL = "nepalstock.com" },
			wantErr: "upstream.base_url",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Fetch.MaxAttempts = 0 },
			wantErr: "fetch.max_attempts",
		},
		{
			name:    "negative rate",
			mutate:  func(c *Config) { c.Fetch.RequestsPerSecond = -1 },
			wantErr: "fetch.requests_per_second",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Pipeline.Concurrency = 0 },
			wantErr: "pipeline.concurrency",
		},
		{
			name:    "unknown dataset",
			mutate:  func(c *Config) { c.Pipeline.Datasets = []string{"market", "news"} },
			wantErr: "pipeline.datasets",
		},
		{
			name:    "fund type without selector",
			mutate:  func(c *Config) { c.Pipeline.FundTypes = []pipeline.FundType{{Label: "closed"}} },
			wantErr: "pipeline.fund_types[0]",
		},
		{
			name:    "no sink",
			mutate:  func(c *Config) { c.Output.File.Path = "" },
			wantErr: "output needs",
		},
		{
			name: "redis only",
			mutate: func(c *Config) {
				c.Output.File.Path = ""
				c.Output.Redis.Addr = "localhost:6379"
			},
		},
		{
			name:    "bad pushgateway",
			mutate:  func(c *Config) { c.Metrics.PushgatewayURL = "ftp://gateway" },
			wantErr: "metrics.pushgateway_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDatasets(t *testing.T) {
	cfg := Default()
	all, err := cfg.Datasets()
	if err != nil || len(all) != len(pipeline.AllDatasets()) {
		t.Fatalf("Datasets() = %v, %v; want all", all, err)
	}

	cfg.Pipeline.Datasets = []string{"funds", "market"}
	got, err := cfg.Datasets()
	if err != nil {
		t.Fatalf("Datasets() error = %v", err)
	}
	if len(got) != 2 || got[0] != pipeline.DatasetFunds || got[1] != pipeline.DatasetMarket {
		t.Errorf("Datasets() = %v", got)
	}
}
