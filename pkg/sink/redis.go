package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Sternrassler/nepse-collector/pkg/pipeline"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	metaDataset = "meta"
	lastRunName = "last"
)

// RedisConfig holds Redis sink configuration.
type RedisConfig struct {
	// Prefix namespaces every key. Defaults to DefaultKeyPrefix.
	Prefix string

	// TTL expires dataset items. Zero keeps them until overwritten.
	TTL time.Duration
}

// lastRun is stored under prefix:meta:last.
type lastRun struct {
	RunID     string    `json:"run_id"`
	UpdatedAt time.Time `json:"updated_at"`
	WrittenAt time.Time `json:"written_at"`
	Datasets  []string  `json:"datasets"`
}

// RedisSink stores each dataset item under its own key.
type RedisSink struct {
	redis  *redis.Client
	config RedisConfig
	logger zerolog.Logger
}

// NewRedisSink creates a Redis sink. The sink owns redisClient and closes it
// in Close.
func NewRedisSink(redisClient *redis.Client, cfg RedisConfig) *RedisSink {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultKeyPrefix
	}
	return &RedisSink{
		redis:  redisClient,
		config: cfg,
		logger: log.With().Str("component", "redis-sink").Logger(),
	}
}

// Write stores every dataset item and the run marker in one transaction.
// Map-shaped datasets are split by key; anything else is stored whole.
func (s *RedisSink) Write(ctx context.Context, agg *pipeline.Aggregate) error {
	if agg == nil {
		return errors.New("aggregate cannot be nil")
	}

	var expires time.Time
	if s.config.TTL > 0 {
		expires = time.Now().Add(s.config.TTL)
	}

	items := make(map[string][]byte)
	datasets := make([]string, 0, len(agg.Datasets))
	for dataset, payload := range agg.Datasets {
		datasets = append(datasets, dataset)

		children, ok := payload.(map[string]any)
		if !ok {
			children = map[string]any{"": payload}
		}
		for name, child := range children {
			data, err := s.encodeEntry(agg, child, expires)
			if err != nil {
				SinkErrors.WithLabelValues("redis", "write").Inc()
				return fmt.Errorf("encode %s/%s: %w", dataset, name, err)
			}
			items[s.key(dataset, name).String()] = data
		}
	}
	sort.Strings(datasets)

	marker, err := json.Marshal(lastRun{
		RunID:     agg.RunID,
		UpdatedAt: agg.UpdatedAt,
		WrittenAt: time.Now().UTC(),
		Datasets:  datasets,
	})
	if err != nil {
		return fmt.Errorf("marshal run marker: %w", err)
	}

	var size int
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, data := range items {
			pipe.Set(ctx, key, data, s.config.TTL)
			size += len(data)
		}
		pipe.Set(ctx, s.key(metaDataset, lastRunName).String(), marker, 0)
		return nil
	})
	if err != nil {
		SinkErrors.WithLabelValues("redis", "write").Inc()
		return fmt.Errorf("redis write: %w", err)
	}

	SinkWrites.WithLabelValues("redis").Inc()
	SinkBytes.WithLabelValues("redis").Set(float64(size))
	s.logger.Info().
		Int("keys", len(items)).
		Int("bytes", size).
		Str("run_id", agg.RunID).
		Msg("Aggregate written")
	return nil
}

func (s *RedisSink) encodeEntry(agg *pipeline.Aggregate, payload any, expires time.Time) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Entry{
		RunID:     agg.RunID,
		UpdatedAt: agg.UpdatedAt,
		Data:      data,
		Expires:   expires,
	})
}

func (s *RedisSink) key(dataset, name string) Key {
	return Key{Prefix: s.config.Prefix, Dataset: dataset, Name: name}
}

// Get retrieves one stored item. Name is the symbol or sub-dataset; empty
// for datasets stored whole. Returns ErrNotFound if the key doesn't exist or
// the entry is expired.
func (s *RedisSink) Get(ctx context.Context, dataset, name string) (*Entry, error) {
	key := s.key(dataset, name)

	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		SinkErrors.WithLabelValues("redis", "read").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		SinkErrors.WithLabelValues("redis", "read").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = s.Delete(ctx, dataset, name)
		return nil, ErrNotFound
	}
	return &entry, nil
}

// Delete removes one stored item.
func (s *RedisSink) Delete(ctx context.Context, dataset, name string) error {
	if err := s.redis.Del(ctx, s.key(dataset, name).String()).Err(); err != nil {
		SinkErrors.WithLabelValues("redis", "delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// LastWritten returns when the last run marker was written.
func (s *RedisSink) LastWritten(ctx context.Context) (time.Time, error) {
	data, err := s.redis.Get(ctx, s.key(metaDataset, lastRunName).String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, ErrNeverWritten
		}
		SinkErrors.WithLabelValues("redis", "read").Inc()
		return time.Time{}, fmt.Errorf("redis get: %w", err)
	}

	var marker lastRun
	if err := json.Unmarshal(data, &marker); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return marker.WrittenAt, nil
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.redis.Close()
}
