package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/r3e-network/mq-pipeline/internal/obserrors"
)

// RetryConfig configures exponential backoff with jitter per spec §4.1.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // 0..1, mapped to backoff.RandomizationFactor
}

// DefaultRetryConfig returns the spec's suggested defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      0.1,
	}
}

// Classifier maps an error to its obserrors.Kind so the retrier can decide
// whether a failure is worth retrying.
type Classifier func(err error) obserrors.Kind

// DefaultClassifier extracts a Kind from a *obserrors.PipelineError,
// defaulting to KindInternal for unclassified errors.
func DefaultClassifier(err error) obserrors.Kind {
	if pe, ok := obserrors.As(err); ok {
		return pe.Kind
	}
	return obserrors.KindInternal
}

// RateLimitFloor is the minimum wait spec §7 mandates after a RATE_LIMIT
// error before the next attempt, absent a Retry-After hint (spec scenario S5).
const RateLimitFloor = 60 * time.Second

func newBackOff(cfg RetryConfig) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	if cfg.BaseDelay > 0 {
		bo.InitialInterval = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		bo.MaxInterval = cfg.MaxDelay
	}
	if cfg.Jitter > 0 {
		bo.RandomizationFactor = cfg.Jitter
	} else {
		bo.RandomizationFactor = 0
	}
	bo.Multiplier = 2.0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// ExecuteWithRetry runs op up to cfg.MaxAttempts times (at least once),
// backing off exponentially with jitter between attempts via
// cenkalti/backoff. A RATE_LIMIT classification forces at least
// RateLimitFloor before the next attempt, per spec §7. Errors whose
// classified Kind is not retryable (AUTH, VALIDATION) short-circuit
// immediately without consuming further attempts.
func ExecuteWithRetry(ctx context.Context, cfg RetryConfig, classify Classifier, op func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if classify == nil {
		classify = DefaultClassifier
	}

	bo := newBackOff(cfg)

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		kind := classify(lastErr)
		if !kind.Retryable() {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			return lastErr
		}

		delay := bo.NextBackOff()
		if kind == obserrors.KindRateLimit && delay < RateLimitFloor {
			delay = RateLimitFloor
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
