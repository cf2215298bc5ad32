package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func TestNewLimiter_Disabled(t *testing.T) {
	tests := []struct {
		name string
		rps  float64
	}{
		{name: "zero", rps: 0},
		{name: "negative", rps: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLimiter(tt.rps, 1, zerolog.Nop())
			if l != nil {
				t.Fatalf("expected nil limiter for rps %v", tt.rps)
			}
			if err := l.Wait(context.Background()); err != nil {
				t.Errorf("nil limiter Wait() = %v, want nil", err)
			}
			if l.Limit() != rate.Inf {
				t.Errorf("nil limiter Limit() = %v, want Inf", l.Limit())
			}
		})
	}
}

func TestLimiter_Paces(t *testing.T) {
	l := NewLimiter(20, 1, zerolog.Nop())
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait() = %v", err)
		}
	}
	elapsed := time.Since(start)

	// First token is immediate, the next four arrive every 50ms.
	if elapsed < 150*time.Millisecond {
		t.Errorf("5 requests at 20 rps took %v, want >= 150ms", elapsed)
	}
}

func TestLimiter_ContextCancelled(t *testing.T) {
	l := NewLimiter(0.1, 1, zerolog.Nop())

	// Drain the burst.
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	if err == nil {
		t.Fatal("expected error when the wait exceeds the deadline")
	}
	if errors.Is(err, context.Canceled) {
		t.Errorf("unexpected cancellation error: %v", err)
	}
}
