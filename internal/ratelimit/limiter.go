// Package ratelimit throttles outbound calls to the upstream telemetry
// API, adapted from infrastructure/ratelimit/ratelimit.go: the teacher's
// RateLimiter wraps golang.org/x/time/rate with a dual per-second/
// per-minute pair plus an HTTP client decorator. The collector only ever
// needs the per-second token bucket gating one logical call site (runQuery),
// so the per-minute bucket and the generic RateLimitedClient wrapper are
// dropped rather than carried unused.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Config bounds the query rate the collector issues against the upstream
// telemetry API, per spec §5's bounded-concurrency resource model.
type Config struct {
	QueriesPerSecond float64
	Burst            int
}

// DefaultConfig allows a modest burst above a conservative steady rate,
// safely below most vendor per-account NRQL rate limits.
func DefaultConfig() Config {
	return Config{QueriesPerSecond: 10, Burst: 20}
}

// Limiter gates collector query issuance.
type Limiter struct {
	limiter *rate.Limiter
}

// New constructs a Limiter from cfg. A zero QueriesPerSecond takes
// DefaultConfig's rate; a zero Burst becomes twice the rate.
func New(cfg Config) *Limiter {
	if cfg.QueriesPerSecond <= 0 {
		cfg.QueriesPerSecond = DefaultConfig().QueriesPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.QueriesPerSecond * 2)
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(cfg.QueriesPerSecond), cfg.Burst)}
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether a call may proceed immediately, without blocking.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
