package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/r3e-network/mq-pipeline/internal/resilience"
)

func TestCircuitBreaker_ClosedState(t *testing.T) {
	cb := resilience.New(resilience.Config{
		Name:             "test",
		FailureThreshold: 3,
		OperationTimeout: time.Second,
		VolumeThreshold:  1,
	})

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return nil
		})
		if err != nil {
			t.Errorf("attempt %d: expected no error, got %v", i, err)
		}
	}

	if cb.State() != resilience.StateClosed {
		t.Errorf("expected breaker to stay closed, got %v", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := resilience.New(resilience.Config{
		Name:             "test",
		FailureThreshold: 3,
		OperationTimeout: time.Second,
		VolumeThreshold:  1,
	})

	failing := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return failing
		})
		if !errors.Is(err, failing) {
			t.Errorf("attempt %d: expected underlying error, got %v", i, err)
		}
	}

	if cb.State() != resilience.StateOpen {
		t.Errorf("expected breaker to open after %d failures, got %v", 3, cb.State())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb := resilience.New(resilience.Config{
		Name:             "test",
		FailureThreshold: 1,
		OperationTimeout: time.Second,
		RetryDelay:       time.Minute,
		VolumeThreshold:  1,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})
	if cb.State() != resilience.StateOpen {
		t.Fatalf("expected breaker to be open, got %v", cb.State())
	}

	calls := 0
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected op not to be invoked while open, calls=%d", calls)
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := resilience.New(resilience.Config{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OperationTimeout: time.Second,
		RetryDelay:       50 * time.Millisecond,
		VolumeThreshold:  1,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})
	if cb.State() != resilience.StateOpen {
		t.Fatalf("expected breaker to be open, got %v", cb.State())
	}

	time.Sleep(75 * time.Millisecond)

	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return nil
		})
		if err != nil {
			t.Errorf("half-open probe %d: expected success, got %v", i, err)
		}
	}

	if cb.State() != resilience.StateClosed {
		t.Errorf("expected breaker to close after %d successes, got %v", 2, cb.State())
	}
}

func TestCircuitBreaker_OperationTimeout(t *testing.T) {
	cb := resilience.New(resilience.Config{
		Name:             "test",
		FailureThreshold: 5,
		OperationTimeout: 20 * time.Millisecond,
		VolumeThreshold:  1,
	})

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err == nil {
		t.Error("expected a timeout error, got nil")
	}
}

func TestCircuitBreaker_OnStateChangeCallback(t *testing.T) {
	var transitions []string
	cb := resilience.New(resilience.Config{
		Name:             "test",
		FailureThreshold: 1,
		OperationTimeout: time.Second,
		VolumeThreshold:  1,
		OnStateChange: func(name string, from, to resilience.State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})

	if len(transitions) == 0 {
		t.Fatal("expected at least one recorded transition")
	}
	if transitions[0] != "closed->open" {
		t.Errorf("expected closed->open, got %s", transitions[0])
	}
}
