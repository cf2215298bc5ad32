// Package pool runs a function over a list of items with bounded
// concurrency. Each item is isolated: an error or panic is recorded for that
// item and never stops the others.
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/errgroup"
)

var nepsePoolItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nepse_pool_items_total",
	Help: "Total pool items processed by result",
}, []string{"result"})

// Failure records one item that did not complete.
type Failure struct {
	Index int
	Label string
	Err   error
}

// Summary describes a finished run.
type Summary struct {
	Total     int
	Succeeded int
	Failures  []Failure // ordered by item index
	Duration  time.Duration
}

// Pool processes items of type T.
type Pool[T any] struct {
	// Limit is the maximum number of items in flight. Values below 1 are
	// treated as 1, which runs items sequentially in the caller's goroutine.
	Limit int

	// Label names an item in logs and failures. Defaults to its index.
	Label func(index int, item T) string

	// Logger receives per-item failure logs.
	Logger zerolog.Logger
}

// Run invokes work exactly once per item and returns after every invocation
// has finished. Completion order is unspecified.
func (p *Pool[T]) Run(ctx context.Context, items []T, work func(ctx context.Context, item T) error) Summary {
	start := time.Now()

	var (
		mu       sync.Mutex
		failures []Failure
	)
	process := func(i int) {
		err := p.invoke(ctx, items[i], work)
		if err == nil {
			nepsePoolItemsTotal.WithLabelValues("success").Inc()
			return
		}

		nepsePoolItemsTotal.WithLabelValues("failure").Inc()
		label := p.label(i, items[i])
		p.Logger.Warn().
			Err(err).
			Int("item", i).
			Str("label", label).
			Msg("Item failed")

		mu.Lock()
		failures = append(failures, Failure{Index: i, Label: label, Err: err})
		mu.Unlock()
	}

	workers := p.Limit
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	if workers <= 1 {
		for i := range items {
			process(i)
		}
	} else {
		var next atomic.Int64
		var g errgroup.Group
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				for {
					i := int(next.Add(1) - 1)
					if i >= len(items) {
						return nil
					}
					process(i)
				}
			})
		}
		// Workers never return errors; failures are collected per item.
		_ = g.Wait()
	}

	sort.Slice(failures, func(a, b int) bool { return failures[a].Index < failures[b].Index })

	return Summary{
		Total:     len(items),
		Succeeded: len(items) - len(failures),
		Failures:  failures,
		Duration:  time.Since(start),
	}
}

func (p *Pool[T]) invoke(ctx context.Context, item T, work func(ctx context.Context, item T) error) (err error) {
	var catcher panics.Catcher
	catcher.Try(func() {
		err = work(ctx, item)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		return fmt.Errorf("panic: %w", recovered.AsError())
	}
	return err
}

func (p *Pool[T]) label(i int, item T) string {
	if p.Label != nil {
		return p.Label(i, item)
	}
	return fmt.Sprintf("#%d", i)
}

// Err returns nil when every item succeeded, else an error naming the
// failed count.
func (s Summary) Err() error {
	if len(s.Failures) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d items failed; first: %s: %w",
		len(s.Failures), s.Total, s.Failures[0].Label, s.Failures[0].Err)
}
