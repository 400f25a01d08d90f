package switchpoint

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Jitter:         0,
	}
}

func TestRetryer_SuccessFirstAttempt(t *testing.T) {
	r := NewRetryer(fastRetryConfig())
	calls := 0
	result := r.Do(context.Background(), func() error {
		calls++
		return nil
	})

	if result.LastErr != nil {
		t.Errorf("LastErr = %v, want nil", result.LastErr)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryer_SuccessAfterFailures(t *testing.T) {
	r := NewRetryer(fastRetryConfig())
	calls := 0
	result := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("timeout")
		}
		return nil
	})

	if result.LastErr != nil {
		t.Errorf("LastErr = %v, want nil", result.LastErr)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestRetryer_AllAttemptsFail(t *testing.T) {
	r := NewRetryer(fastRetryConfig())
	wantErr := errors.New("persistent failure")
	calls := 0
	result := r.Do(context.Background(), func() error {
		calls++
		return wantErr
	})

	if !errors.Is(result.LastErr, wantErr) {
		t.Errorf("LastErr = %v, want %v", result.LastErr, wantErr)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryer_RetryIfStopsEarly(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.RetryIf = IsRetryable
	r := NewRetryer(cfg)

	calls := 0
	result := r.Do(context.Background(), func() error {
		calls++
		return errors.New("permission denied")
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1 for non-retryable error", calls)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if result.LastErr == nil {
		t.Error("LastErr is nil, want the operation error")
	}
}

func TestRetryer_ContextCancelled(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.InitialBackoff = time.Hour
	r := NewRetryer(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan RetryResult, 1)
	go func() {
		done <- r.Do(ctx, func() error {
			return errors.New("timeout")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case result := <-done:
		if !errors.Is(result.LastErr, context.Canceled) {
			t.Errorf("LastErr = %v, want context.Canceled", result.LastErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
}

func TestNewRetryer_NormalizesConfig(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxAttempts: -5, BackoffMultiplier: -1, Jitter: 7})
	if r.config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", r.config.MaxAttempts)
	}
	if r.config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", r.config.BackoffMultiplier)
	}
	if r.config.Jitter != 0.1 {
		t.Errorf("Jitter = %v, want 0.1", r.config.Jitter)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), want: true},
		{name: "timeout", err: errors.New("request timeout exceeded"), want: true},
		{name: "service unavailable", err: errors.New("503 service unavailable"), want: true},
		{name: "rate limited", err: errors.New("429 too many requests"), want: true},
		{name: "context canceled", err: context.Canceled, want: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: false},
		{name: "not found", err: errors.New("object not found"), want: false},
		{name: "validation", err: errors.New("invalid input"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
