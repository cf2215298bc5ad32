package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BackoffUnit: 5 * time.Millisecond}
}

func transientErr(class ErrorClass) error {
	return &TransientRequestError{ErrorClass: class, Message: "test"}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.BackoffUnit != 500*time.Millisecond {
		t.Errorf("BackoffUnit = %v, want 500ms", config.BackoffUnit)
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    RetryConfig
		expectErr bool
	}{
		{name: "default", config: DefaultRetryConfig()},
		{name: "single attempt", config: RetryConfig{MaxAttempts: 1}},
		{name: "zero attempts", config: RetryConfig{MaxAttempts: 0}, expectErr: true},
		{name: "negative backoff", config: RetryConfig{MaxAttempts: 3, BackoffUnit: -time.Second}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.expectErr {
				t.Errorf("Validate() = %v, expectErr %v", err, tt.expectErr)
			}
		})
	}
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{unit: 500 * time.Millisecond}

	want := []time.Duration{500 * time.Millisecond, time.Second, 1500 * time.Millisecond}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("NextBackOff() #%d = %v, want %v", i+1, got, w)
		}
	}

	b.Reset()
	if got := b.NextBackOff(); got != 500*time.Millisecond {
		t.Errorf("NextBackOff() after Reset = %v, want 500ms", got)
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), fastRetry(), zerolog.Nop(), func(int) error {
		callCount++
		return nil
	}, nil)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	callCount := 0
	retries := 0
	err := retryWithBackoff(context.Background(), fastRetry(), zerolog.Nop(), func(attempt int) error {
		callCount++
		if attempt != callCount {
			t.Errorf("attempt = %d, want %d", attempt, callCount)
		}
		if callCount < 3 {
			return transientErr(ErrorClassServer)
		}
		return nil
	}, func(context.Context, error, int) { retries++ })

	if err != nil {
		t.Errorf("Expected success after retry, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
	if retries != 2 {
		t.Errorf("Expected 2 retry callbacks, got %d", retries)
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	callCount := 0
	var retryAttempts []int
	err := retryWithBackoff(context.Background(), fastRetry(), zerolog.Nop(), func(int) error {
		callCount++
		return transientErr(ErrorClassAuth)
	}, func(_ context.Context, _ error, attempt int) {
		retryAttempts = append(retryAttempts, attempt)
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}
	var transient *TransientRequestError
	if !errors.As(err, &transient) || transient.ErrorClass != ErrorClassAuth {
		t.Errorf("Expected wrapped auth TransientRequestError, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
	if len(retryAttempts) != 2 || retryAttempts[0] != 1 || retryAttempts[1] != 2 {
		t.Errorf("Expected retry callbacks after attempts [1 2], got %v", retryAttempts)
	}
}

func TestRetryWithBackoff_LinearWaits(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BackoffUnit: 40 * time.Millisecond}

	start := time.Now()
	err := retryWithBackoff(context.Background(), cfg, zerolog.Nop(), func(int) error {
		return transientErr(ErrorClassServer)
	}, nil)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}
	// 40ms + 80ms of backoff, no wait after the final attempt.
	if elapsed < 120*time.Millisecond {
		t.Errorf("Expected at least 120ms of backoff, got %v", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Backoff took unexpectedly long: %v", elapsed)
	}
}

func TestRetryWithBackoff_SingleAttempt(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), RetryConfig{MaxAttempts: 1}, zerolog.Nop(), func(int) error {
		callCount++
		return transientErr(ErrorClassNetwork)
	}, func(context.Context, error, int) {
		t.Error("retry callback must not run with a single attempt")
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 3, BackoffUnit: 10 * time.Second}

	callCount := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := retryWithBackoff(ctx, cfg, zerolog.Nop(), func(int) error {
		callCount++
		return transientErr(ErrorClassServer)
	}, nil)

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", callCount)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not interrupt the backoff wait")
	}
}

func TestRetryWithBackoff_Permanent(t *testing.T) {
	stop := errors.New("limiter closed")
	callCount := 0
	err := retryWithBackoff(context.Background(), fastRetry(), zerolog.Nop(), func(int) error {
		callCount++
		return backoff.Permanent(stop)
	}, nil)

	if !errors.Is(err, stop) {
		t.Errorf("Expected permanent error, got %v", err)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("permanent error must not be reported as exhaustion")
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_UnknownClassNotRetried(t *testing.T) {
	callCount, retries := 0, 0
	err := retryWithBackoff(context.Background(), fastRetry(), zerolog.Nop(), func(int) error {
		callCount++
		return transientErr(ErrorClass("unclassified"))
	}, func(context.Context, error, int) {
		retries++
	})

	var transient *TransientRequestError
	if !errors.As(err, &transient) || transient.ErrorClass != "unclassified" {
		t.Errorf("Expected the attempt error, got %v", err)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("a non-retryable class must not be reported as exhaustion")
	}
	if callCount != 1 || retries != 0 {
		t.Errorf("Expected 1 call and no retries, got %d calls and %d retries", callCount, retries)
	}
}
