// Package sink persists the aggregate of a collection run. FileSink writes
// one JSON document; RedisSink stores each dataset item under its own key.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/nepse-collector/pkg/pipeline"
)

var (
	// ErrNeverWritten indicates the sink holds no previous run
	ErrNeverWritten = errors.New("sink never written")

	// ErrNotFound indicates the requested item was not stored
	ErrNotFound = errors.New("item not found")

	// ErrInvalidEntry indicates a stored item is corrupted
	ErrInvalidEntry = errors.New("invalid entry")
)

// DefaultMaxAge is how long a previous run's output counts as fresh.
const DefaultMaxAge = 8 * time.Hour

// Sink stores aggregates.
type Sink interface {
	// Write stores agg, replacing the previous run's output.
	Write(ctx context.Context, agg *pipeline.Aggregate) error

	// LastWritten returns when the sink was last written, or
	// ErrNeverWritten.
	LastWritten(ctx context.Context) (time.Time, error)

	Close() error
}

// Fresh reports whether s was written within maxAge of now. A sink that was
// never written is not fresh.
func Fresh(ctx context.Context, s Sink, maxAge time.Duration, now time.Time) (bool, time.Time, error) {
	last, err := s.LastWritten(ctx)
	if errors.Is(err, ErrNeverWritten) {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, fmt.Errorf("last written: %w", err)
	}
	return now.Sub(last) < maxAge, last, nil
}
