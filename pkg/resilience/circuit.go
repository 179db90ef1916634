package resilience

import (
	"context"
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker
type CircuitState int

const (
	// CircuitClosed allows requests to pass through
	CircuitClosed CircuitState = iota
	// CircuitOpen blocks all requests
	CircuitOpen
	// CircuitHalfOpen lets probe requests through to test if the dependency has recovered
	CircuitHalfOpen
)

// String returns the string representation of the circuit state
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitConfig configures when a breaker opens and closes.
type CircuitConfig struct {
	FailureThreshold int           `env:"FAILURE_THRESHOLD" envDefault:"5"`
	SuccessThreshold int           `env:"SUCCESS_THRESHOLD" envDefault:"2"`
	ResetTimeout     time.Duration `env:"RESET_TIMEOUT" envDefault:"30s"`
}

// DefaultCircuitConfig opens after 5 consecutive failures, probes after 30s
// and closes again after 2 successful probes.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreakerState is an immutable snapshot of a breaker.
// Failures and Successes reset on state changes; the Total counters never reset.
type CircuitBreakerState struct {
	State           CircuitState `json:"state"`
	Failures        int          `json:"failures"`
	Successes       int          `json:"successes"`
	LastFailureTime time.Time    `json:"last_failure_time"`
	LastStateChange time.Time    `json:"last_state_change"`
	TotalRequests   int64        `json:"total_requests"`
	TotalFailures   int64        `json:"total_failures"`
	TotalSuccesses  int64        `json:"total_successes"`
}

// NewCircuitBreakerState returns a closed breaker snapshot.
func NewCircuitBreakerState(now time.Time) CircuitBreakerState {
	return CircuitBreakerState{
		State:           CircuitClosed,
		LastStateChange: now,
	}
}

// AllowsRequest reports whether a call may go through.
// An open breaker allows a call once ResetTimeout has elapsed since the last failure.
func AllowsRequest(s CircuitBreakerState, cfg CircuitConfig, now time.Time) bool {
	switch s.State {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		return now.Sub(s.LastFailureTime) >= cfg.ResetTimeout
	default:
		return false
	}
}

// CurrentState promotes an open breaker to half-open once the reset timeout elapsed.
// Any other snapshot is returned unchanged.
func CurrentState(s CircuitBreakerState, cfg CircuitConfig, now time.Time) CircuitBreakerState {
	if s.State != CircuitOpen || !AllowsRequest(s, cfg, now) {
		return s
	}
	s.State = CircuitHalfOpen
	s.Failures = 0
	s.Successes = 0
	s.LastStateChange = now
	return s
}

// RecordSuccess returns the snapshot after a successful call.
// A successful call against an open breaker only updates the totals.
func RecordSuccess(s CircuitBreakerState, cfg CircuitConfig, now time.Time) CircuitBreakerState {
	s.TotalRequests++
	s.TotalSuccesses++

	switch s.State {
	case CircuitClosed:
		s.Failures = 0
		s.Successes++
	case CircuitHalfOpen:
		s.Successes++
		if s.Successes >= cfg.SuccessThreshold {
			s.State = CircuitClosed
			s.Failures = 0
			s.Successes = 0
			s.LastStateChange = now
		}
	}
	return s
}

// RecordFailure returns the snapshot after a failed call.
// A failing probe reopens the breaker immediately.
func RecordFailure(s CircuitBreakerState, cfg CircuitConfig, now time.Time) CircuitBreakerState {
	s.TotalRequests++
	s.TotalFailures++
	s.LastFailureTime = now

	switch s.State {
	case CircuitClosed:
		s.Failures++
		if s.Failures >= cfg.FailureThreshold {
			s.State = CircuitOpen
			s.Successes = 0
			s.LastStateChange = now
		}
	case CircuitHalfOpen:
		s.State = CircuitOpen
		s.Failures = 1
		s.Successes = 0
		s.LastStateChange = now
	case CircuitOpen:
		s.Failures++
	}
	return s
}

// CircuitOption configures a CircuitBreaker.
type CircuitOption func(*CircuitBreaker)

// WithCircuitClock overrides the time source, mainly for tests.
func WithCircuitClock(now func() time.Time) CircuitOption {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// WithStateChangeHook registers a callback invoked after every state change.
// The hook runs outside the breaker lock.
func WithStateChangeHook(fn func(from, to CircuitState)) CircuitOption {
	return func(cb *CircuitBreaker) {
		cb.onChange = fn
	}
}

// CircuitBreaker holds the latest snapshot of one dependency's breaker.
// Safe for concurrent use.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      CircuitConfig
	state    CircuitBreakerState
	now      func() time.Time
	onChange func(from, to CircuitState)
}

// NewCircuitBreaker creates a closed breaker. Non-positive config values fall back to DefaultCircuitConfig.
func NewCircuitBreaker(cfg CircuitConfig, opts ...CircuitOption) *CircuitBreaker {
	defaults := DefaultCircuitConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaults.SuccessThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaults.ResetTimeout
	}

	cb := &CircuitBreaker{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(cb)
	}
	cb.state = NewCircuitBreakerState(cb.now())
	return cb
}

// Allow checks if a request should be allowed through the circuit breaker.
// It moves an open breaker to half-open once the reset timeout has passed.
func (cb *CircuitBreaker) Allow() bool {
	return cb.apply(func(s CircuitBreakerState, now time.Time) CircuitBreakerState {
		return CurrentState(s, cb.cfg, now)
	}).State != CircuitOpen
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.apply(func(s CircuitBreakerState, now time.Time) CircuitBreakerState {
		return RecordSuccess(CurrentState(s, cb.cfg, now), cb.cfg, now)
	})
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.apply(func(s CircuitBreakerState, now time.Time) CircuitBreakerState {
		return RecordFailure(CurrentState(s, cb.cfg, now), cb.cfg, now)
	})
}

// Execute runs fn when the breaker allows it and records the outcome.
// Returns ErrCircuitOpen without calling fn when the breaker is open.
// Context cancellation by the caller is not counted as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.RecordSuccess()
	case ctx.Err() != nil:
	default:
		cb.RecordFailure()
	}
	return err
}

// State returns the current state, accounting for the open to half-open promotion.
func (cb *CircuitBreaker) State() CircuitState {
	return cb.Snapshot().State
}

// Snapshot returns a copy of the current breaker state.
func (cb *CircuitBreaker) Snapshot() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CurrentState(cb.state, cb.cfg, cb.now())
}

// Reset resets the circuit breaker to closed state, keeping lifetime totals.
func (cb *CircuitBreaker) Reset() {
	cb.apply(func(s CircuitBreakerState, now time.Time) CircuitBreakerState {
		fresh := NewCircuitBreakerState(now)
		fresh.TotalRequests = s.TotalRequests
		fresh.TotalFailures = s.TotalFailures
		fresh.TotalSuccesses = s.TotalSuccesses
		return fresh
	})
}

func (cb *CircuitBreaker) apply(fn func(CircuitBreakerState, time.Time) CircuitBreakerState) CircuitBreakerState {
	cb.mu.Lock()
	prev := cb.state.State
	cb.state = fn(cb.state, cb.now())
	next := cb.state
	hook := cb.onChange
	cb.mu.Unlock()

	if hook != nil && prev != next.State {
		hook(prev, next.State)
	}
	return next
}
