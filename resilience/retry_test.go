package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryFunc_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := RetryFunc(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryFunc_RetriesUntilSuccess(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
	}

	calls := 0
	err := RetryFunc(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryFunc_ReturnsLastError(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	}

	wantErr := errors.New("still broken")
	calls := 0
	err := RetryFunc(context.Background(), cfg, func() error {
		calls++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryFunc_SingleAttemptMeansNoRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 1}

	calls := 0
	_ = RetryFunc(context.Background(), cfg, func() error {
		calls++
		return errors.New("fail")
	})

	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestRetryFunc_RespectsRetryIf(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		RetryIf:        func(err error) bool { return false },
	}

	calls := 0
	_ = RetryFunc(context.Background(), cfg, func() error {
		calls++
		return errors.New("permanent")
	})

	if calls != 1 {
		t.Errorf("non-retryable error retried: %d calls", calls)
	}
}

func TestRetryFunc_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryFunc(ctx, DefaultRetryConfig(), func() error {
		t.Error("function should not run with a canceled context")
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCalculateBackoff_Caps(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  10,
	}

	if got := calculateBackoff(5, cfg); got > 2*time.Second {
		t.Errorf("backoff %v exceeds cap", got)
	}
}
