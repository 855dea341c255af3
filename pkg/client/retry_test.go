package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func transient() error {
	return &HTTPError{StatusCode: 503, ErrorClass: ErrorClassUnavailable, Message: "503 Service Unavailable"}
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if policy.Interval != 1*time.Second {
		t.Errorf("Interval = %v, want 1s", policy.Interval)
	}
	if policy.MaxAttempts != 0 {
		t.Errorf("MaxAttempts = %d, want 0", policy.MaxAttempts)
	}
	if err := policy.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{name: "zero wait unbounded", policy: RetryPolicy{}},
		{name: "capped", policy: RetryPolicy{Interval: time.Second, MaxAttempts: 5}},
		{name: "negative interval", policy: RetryPolicy{Interval: -time.Second}, wantErr: true},
		{name: "negative attempts", policy: RetryPolicy{MaxAttempts: -2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.policy.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), RetryPolicy{}, zerolog.Nop(), func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), RetryPolicy{Interval: 10 * time.Millisecond}, zerolog.Nop(), func() error {
		callCount++
		if callCount < 3 {
			return transient()
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_UnboundedKeepsTrying(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), RetryPolicy{}, zerolog.Nop(), func() error {
		callCount++
		if callCount < 50 {
			return transient()
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 50 {
		t.Errorf("Expected 50 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_PermanentError(t *testing.T) {
	permanent := &HTTPError{StatusCode: 500, ErrorClass: ErrorClassServer, Message: "boom"}

	callCount := 0
	err := retryWithBackoff(context.Background(), RetryPolicy{}, zerolog.Nop(), func() error {
		callCount++
		return permanent
	})

	if err != permanent {
		t.Errorf("Expected the permanent error itself, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_UnclassifiedErrorNotRetried(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), RetryPolicy{}, zerolog.Nop(), func() error {
		callCount++
		return errors.New("plain error")
	})

	if err == nil || err.Error() != "plain error" {
		t.Errorf("Expected plain error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), RetryPolicy{MaxAttempts: 4}, zerolog.Nop(), func() error {
		callCount++
		return transient()
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 503 {
		t.Errorf("Expected wrapped 503 HTTPError, got %v", err)
	}
	if callCount != 4 {
		t.Errorf("Expected 4 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_SingleAttempt(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), RetryPolicy{MaxAttempts: 1}, zerolog.Nop(), func() error {
		callCount++
		return transient()
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := retryWithBackoff(ctx, RetryPolicy{Interval: 10 * time.Second}, zerolog.Nop(), func() error {
		callCount++
		return transient()
	})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Cancellation took too long: %v", elapsed)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", callCount)
	}
}

func TestRetryWithBackoff_FixedInterval(t *testing.T) {
	callCount := 0
	start := time.Now()
	err := retryWithBackoff(context.Background(), RetryPolicy{Interval: 30 * time.Millisecond}, zerolog.Nop(), func() error {
		callCount++
		if callCount < 4 {
			return transient()
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	// three waits of 30ms, no growth
	if elapsed < 90*time.Millisecond {
		t.Errorf("Elapsed = %v, want >= 90ms", elapsed)
	}
	if elapsed > 1*time.Second {
		t.Errorf("Elapsed = %v, backoff should not grow", elapsed)
	}
}
