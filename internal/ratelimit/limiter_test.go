package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/mq-pipeline/internal/ratelimit"
)

func TestLimiter_AllowsBurstThenThrottles(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{QueriesPerSecond: 1, Burst: 2})

	if !l.Allow() {
		t.Fatal("expected first call within burst to be allowed")
	}
	if !l.Allow() {
		t.Fatal("expected second call within burst to be allowed")
	}
	if l.Allow() {
		t.Error("expected third call to exceed the burst and be denied")
	}
}

func TestLimiter_WaitRespectsContextCancellation(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{QueriesPerSecond: 0.1, Burst: 1})
	l.Wait(context.Background()) // consume the single burst token

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx); err == nil {
		t.Error("expected Wait to return an error once the context is cancelled")
	}
}

func TestLimiter_NilIsPermissive(t *testing.T) {
	var l *ratelimit.Limiter
	if !l.Allow() {
		t.Error("expected a nil limiter to allow unconditionally")
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("expected a nil limiter to never error on Wait, got %v", err)
	}
}
