// Package resilience provides the circuit breaker and retrier primitives
// of spec §4.1, adapted from a gobreaker/backoff wrapper the same way
// infrastructure/resilience/resilience.go wraps those libraries: the
// package keeps its own State/Config surface so callers never touch
// gobreaker or backoff types directly, while delegating the hard state
// machine and jittered-backoff math to the underlying libraries.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// State mirrors gobreaker's three circuit states under spec-native names.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is refused without being attempted.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a CircuitBreaker per spec §4.1.
type Config struct {
	Name              string
	FailureThreshold  int           // consecutive failures before opening
	SuccessThreshold  int           // consecutive half-open successes before closing
	OperationTimeout  time.Duration // wall-clock budget per call
	RetryDelay        time.Duration // time spent in OPEN before a HALF_OPEN probe
	VolumeThreshold   int           // minimum calls observed before OPEN is considered
	MonitoringWindow  time.Duration // rolling window gobreaker resets counts on
	OnStateChange     func(name string, from, to State)
}

// DefaultConfig returns the spec's suggested defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OperationTimeout: 30 * time.Second,
		RetryDelay:       30 * time.Second,
		VolumeThreshold:  10,
		MonitoringWindow: time.Minute,
	}
}

// CircuitBreaker wraps gobreaker.CircuitBreaker, adding the
// volume-threshold and operation-timeout semantics spec §4.1 requires that
// gobreaker.Settings does not express directly.
type CircuitBreaker struct {
	cfg Config
	gb  *gobreaker.CircuitBreaker[any]

	mu    sync.Mutex
	calls int // not updated; the volume threshold is checked against gobreaker's Counts.Requests
}

// New constructs a CircuitBreaker backed by sony/gobreaker.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = 1
	}

	cb := &CircuitBreaker{cfg: cfg}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: uint32(cfg.SuccessThreshold),
		Interval:    cfg.MonitoringWindow,
		Timeout:     cfg.RetryDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold) &&
				counts.Requests >= uint32(cfg.VolumeThreshold)
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			cfg.OnStateChange(name, fromGobreaker(from), fromGobreaker(to))
		}
	}

	cb.gb = gobreaker.NewCircuitBreaker[any](settings)
	return cb
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	return fromGobreaker(cb.gb.State())
}

// fromGobreaker converts gobreaker's state, whose constants are ordered
// closed, half-open, open, into this package's State.
func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Name returns the breaker's configured name.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Execute runs op under the circuit breaker and the configured operation
// timeout. If the breaker refuses the call, ErrCircuitOpen is returned and
// op is never invoked, per spec §4.1.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := cb.gb.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, cb.cfg.OperationTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- op(opCtx) }()

		select {
		case e := <-done:
			return nil, e
		case <-opCtx.Done():
			return nil, opCtx.Err()
		}
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrCircuitOpen
		}
		return err
	}
	return nil
}

// Counts exposes the breaker's read-only request/failure/success counters.
func (cb *CircuitBreaker) Counts() gobreaker.Counts {
	return cb.gb.Counts()
}
