package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestExponential(t *testing.T) {
	b := Exponential(100*time.Millisecond, time.Second)
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for attempt, w := range want {
		if got := b(attempt); got != w {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, w)
		}
	}
	if got := b(200); got != time.Second {
		t.Errorf("large attempt must cap, got %v", got)
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), Policy{MaxAttempts: 3}, func(_ context.Context, attempt int) (string, error) {
		calls++
		if attempt < 2 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 3}, func(context.Context, int) (int, error) {
		calls++
		return 0, errTransient
	})
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("expected last error to be wrapped, got %v", err)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 3 {
		t.Errorf("expected Attempts=3, got %+v", ex)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("bad request")
	calls := 0
	_, err := Do(context.Background(), Policy{
		MaxAttempts: 5,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}, func(context.Context, int) (int, error) {
		calls++
		return 0, fatal
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, fatal) || errors.Is(err, ErrExhausted) {
		t.Errorf("expected bare fatal error, got %v", err)
	}
}

func TestDo_NonRetryableOnLastAttempt(t *testing.T) {
	fatal := errors.New("bad request")
	_, err := Do(context.Background(), Policy{
		MaxAttempts: 2,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}, func(_ context.Context, attempt int) (int, error) {
		if attempt == 0 {
			return 0, errTransient
		}
		return 0, fatal
	})
	if !errors.Is(err, fatal) || errors.Is(err, ErrExhausted) {
		t.Errorf("expected bare fatal error, got %v", err)
	}
}

func TestDo_OnRetryReceivesSchedule(t *testing.T) {
	var delays []time.Duration
	_, _ = Do(context.Background(), Policy{
		MaxAttempts: 3,
		Backoff:     Exponential(time.Millisecond, 10*time.Millisecond),
		OnRetry: func(_ int, _ error, d time.Duration) {
			delays = append(delays, d)
		},
	}, func(context.Context, int) (int, error) {
		return 0, errTransient
	})
	if len(delays) != 2 || delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Errorf("unexpected delays %v", delays)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{MaxAttempts: 5, Backoff: Constant(time.Millisecond)}, func(context.Context, int) (int, error) {
		calls++
		cancel()
		return 0, errTransient
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDo_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err := Do(ctx, Policy{MaxAttempts: 3}, func(context.Context, int) (int, error) {
		called = true
		return 0, nil
	})
	if called {
		t.Error("fn must not run on a cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
