package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Once(time.Millisecond), nil, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesOnceOnRetryable(t *testing.T) {
	calls := 0
	retried := 0
	boom := errors.New("connection reset")
	err := Do(context.Background(), Once(time.Millisecond), func(int, error) { retried++ }, func() error {
		calls++
		return Retryable(boom)
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", calls)
	}
	if retried != 1 {
		t.Errorf("expected onRetry once, got %d", retried)
	}
}

func TestDoRecoversOnSecondAttempt(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), Once(time.Millisecond), nil, func() (string, error) {
		calls++
		if calls == 1 {
			return "", Retryable(errors.New("timeout"))
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	denied := errors.New("access denied")
	err := Do(context.Background(), Once(time.Millisecond), nil, func() error {
		calls++
		return denied
	})
	if !errors.Is(err, denied) {
		t.Fatalf("expected denied, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent error should not retry, got %d calls", calls)
	}
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, Once(time.Hour), nil, func() error {
		return Retryable(errors.New("flaky"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
