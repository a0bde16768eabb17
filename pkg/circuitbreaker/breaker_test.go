package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New("test", Config{
		FailureThreshold: 3,
		Timeout:          time.Minute,
	})

	fail := func() error { return errors.New("boom") }
	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), fail)
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestStaysClosedOnSuccess(t *testing.T) {
	cb := New("test", Config{FailureThreshold: 2})

	for i := 0; i < 10; i++ {
		if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	cb := New("test", Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		MaxRequests:      1,
		Timeout:          10 * time.Millisecond,
	})

	cb.Execute(context.Background(), func() error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("expected open after failure, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("probe request failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestFailureResetsOnSuccess(t *testing.T) {
	cb := New("test", Config{FailureThreshold: 2})

	cb.Execute(context.Background(), func() error { return errors.New("boom") })
	cb.Execute(context.Background(), func() error { return nil })
	cb.Execute(context.Background(), func() error { return errors.New("boom") })

	if cb.State() != StateClosed {
		t.Errorf("non-consecutive failures should not open the breaker, got %s", cb.State())
	}
}
