package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/nepse-collector/pkg/auth"
	"github.com/Sternrassler/nepse-collector/pkg/client"
	"github.com/Sternrassler/nepse-collector/pkg/config"
	"github.com/Sternrassler/nepse-collector/pkg/logging"
	"github.com/Sternrassler/nepse-collector/pkg/metrics"
	"github.com/Sternrassler/nepse-collector/pkg/pipeline"
	"github.com/Sternrassler/nepse-collector/pkg/sink"
	"github.com/Sternrassler/nepse-collector/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// errPartial is returned in strict mode when anything was omitted.
var errPartial = errors.New("run finished with omitted data")

type options struct {
	configPath string
	datasets   string
	out        string
	redisAddr  string
	logLevel   string
	pretty     bool
	force      bool
	strict     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "nepse-collect",
		Short: "Collects NEPSE market, company and mutual-fund data into a JSON aggregate.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return collect(cmd.Context(), cfg, opts)
		},
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file (defaults apply when empty)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&opts.pretty, "pretty", false, "human-readable console logs")

	root.Flags().StringVarP(&opts.datasets, "datasets", "d", "", "comma-separated datasets: market, reports, securities, funds (default all)")
	root.Flags().StringVarP(&opts.out, "out", "o", "", "output JSON file")
	root.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "also store items in Redis at this address")
	root.Flags().BoolVarP(&opts.force, "force", "f", false, "collect even if the previous output is still fresh")
	root.Flags().BoolVar(&opts.strict, "strict", false, "exit non-zero when any item was omitted")

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Prints the effective configuration.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return enc.Close()
		},
	})

	return root
}

// loadConfig loads the file and applies flag overrides.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.LoadAndValidate(opts.configPath)
	if err != nil {
		return nil, err
	}

	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("datasets") {
		cfg.Pipeline.Datasets = []string{opts.datasets}
	}
	if changed("out") {
		cfg.Output.File.Path = opts.out
	}
	if changed("redis-addr") {
		cfg.Output.Redis.Addr = opts.redisAddr
	}
	if changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if changed("pretty") {
		cfg.Logging.Pretty = opts.pretty
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func collect(ctx context.Context, cfg *config.Config, opts *options) error {
	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Pretty = cfg.Logging.Pretty
	logging.Setup(logCfg)
	logger := logging.NewLogger("main")

	sinks, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range sinks {
			s.Close()
		}
	}()

	if !opts.force {
		fresh, last, err := sink.Fresh(ctx, sinks[0], cfg.Output.MaxAge, time.Now())
		if err != nil {
			logger.Warn().Err(err).Msg("Could not check output freshness")
		}
		if fresh {
			logger.Info().
				Time("last_written", last).
				Dur("max_age", cfg.Output.MaxAge).
				Msg("Output is fresh, skipping run (use --force to override)")
			return nil
		}
	}

	datasets, err := cfg.Datasets()
	if err != nil {
		return err
	}

	p, closeAuth, err := buildPipeline(ctx, cfg, datasets)
	if err != nil {
		return err
	}
	defer closeAuth()

	agg, err := p.Run(ctx, datasets)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}

	var writeErrs []error
	for _, s := range sinks {
		if err := s.Write(ctx, agg); err != nil {
			logger.Error().Err(err).Msg("Sink write failed")
			writeErrs = append(writeErrs, err)
		}
	}

	if cfg.Metrics.PushgatewayURL != "" {
		pushCfg := metrics.PushConfig{URL: cfg.Metrics.PushgatewayURL, Job: cfg.Metrics.Job}
		if host, err := os.Hostname(); err == nil {
			pushCfg.Grouping = map[string]string{"instance": host}
		}
		if err := metrics.Push(ctx, pushCfg); err != nil {
			logger.Warn().Err(err).Msg("Metrics push failed")
		}
	}

	if err := errors.Join(writeErrs...); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if opts.strict && agg.Partial() {
		return fmt.Errorf("%w: %v", errPartial, agg.Failures)
	}
	return nil
}

// openSinks opens the configured sinks. The first one answers the
// freshness check.
func openSinks(ctx context.Context, cfg *config.Config) ([]sink.Sink, error) {
	var sinks []sink.Sink
	if cfg.Output.File.Path != "" {
		sinks = append(sinks, sink.NewFileSink(cfg.Output.File.Path, cfg.Output.File.Indent))
	}
	if cfg.Output.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Output.Redis.Addr,
			Password: cfg.Output.Redis.Password,
			DB:       cfg.Output.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Output.Redis.Addr, err)
		}
		sinks = append(sinks, sink.NewRedisSink(redisClient, sink.RedisConfig{
			Prefix: cfg.Output.Redis.Prefix,
			TTL:    cfg.Output.Redis.TTL,
		}))
	}
	return sinks, nil
}

// buildPipeline wires transport, authentication and fetchers. NEPSE
// authentication is only set up when a NEPSE dataset is selected.
func buildPipeline(ctx context.Context, cfg *config.Config, datasets []pipeline.Dataset) (*pipeline.Pipeline, func(), error) {
	tr := transport.NewResty(transport.Config{
		Timeout:            cfg.Upstream.Timeout,
		UserAgent:          cfg.Upstream.UserAgent,
		InsecureSkipVerify: cfg.Upstream.SkipVerify(),
	})
	retry := client.RetryConfig{MaxAttempts: cfg.Fetch.MaxAttempts, BackoffUnit: cfg.Fetch.BackoffUnit}

	var (
		authenticator client.Authenticator
		acquirer      pipeline.Acquirer
		closeAuth     = func() {}
	)
	if needsNEPSE(datasets) {
		computer, err := auth.NewWASMComputerFromURL(ctx, tr, cfg.Upstream.BaseURL+auth.IndexModulePath)
		if err != nil {
			return nil, nil, fmt.Errorf("load index module: %w", err)
		}
		closeAuth = func() { computer.Close(context.Background()) }

		provider, err := auth.New(auth.Config{BaseURL: cfg.Upstream.BaseURL, Transport: tr, Computer: computer})
		if err != nil {
			closeAuth()
			return nil, nil, err
		}
		authenticator, acquirer = provider, provider
	}

	nepse, err := client.New(client.Config{
		Transport:         tr,
		Auth:              authenticator,
		Retry:             retry,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		Burst:             cfg.Fetch.Burst,
	})
	if err != nil {
		closeAuth()
		return nil, nil, err
	}
	funds, err := client.New(client.Config{Transport: tr, Retry: retry, Burst: cfg.Fetch.Burst})
	if err != nil {
		closeAuth()
		return nil, nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		FundsURL:       cfg.Upstream.FundsURL,
		Concurrency:    cfg.Pipeline.Concurrency,
		FundPageLength: cfg.Pipeline.FundPageLength,
		FundTypes:      cfg.Pipeline.FundTypes,
		Fetcher:        nepse,
		FundFetcher:    funds,
		Auth:           acquirer,
	})
	if err != nil {
		closeAuth()
		return nil, nil, err
	}
	return p, closeAuth, nil
}

func needsNEPSE(datasets []pipeline.Dataset) bool {
	for _, d := range datasets {
		if d != pipeline.DatasetFunds {
			return true
		}
	}
	return false
}
