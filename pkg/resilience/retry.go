package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// RetryConfig describes an exponential backoff policy.
// MaxDelay <= 0 disables the cap. A BackoffMultiplier <= 0 defaults to 2.
type RetryConfig struct {
	MaxRetries        int           `env:"MAX_RETRIES" envDefault:"3"`
	InitialDelay      time.Duration `env:"INITIAL_DELAY" envDefault:"1s"`
	MaxDelay          time.Duration `env:"MAX_DELAY" envDefault:"30s"`
	BackoffMultiplier float64       `env:"BACKOFF_MULTIPLIER" envDefault:"2"`
	JitterFactor      float64       `env:"JITTER_FACTOR" envDefault:"0.1"`

	// RetryableErrors restricts retries to errors whose code contains one of
	// the listed substrings. Empty means every error is retryable.
	RetryableErrors []string `env:"RETRYABLE_ERRORS" envSeparator:","`

	// Jitter returns a value in [-1, 1]. Nil uses math/rand/v2.
	Jitter func() float64
}

// DefaultRetryConfig returns production-ready exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		JitterFactor:      0.1,
	}
}

// RetryState is an immutable snapshot of one retry cycle.
type RetryState struct {
	Attempt        int           `json:"attempt"`
	MaxAttempts    int           `json:"max_attempts"`
	NextRetryDelay time.Duration `json:"next_retry_delay"`
	LastError      string        `json:"last_error,omitempty"`
	StartTime      time.Time     `json:"start_time"`
	Exhausted      bool          `json:"exhausted"`
}

// CalculateNextDelay returns the delay before the given attempt (0-based):
// min(InitialDelay * BackoffMultiplier^attempt, MaxDelay) with multiplicative jitter,
// rounded to the millisecond and never negative.
func CalculateNextDelay(attempt int, cfg RetryConfig) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	delay := float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.JitterFactor > 0 {
		delay += delay * cfg.JitterFactor * jitter(cfg)
	}

	rounded := time.Duration(math.Round(delay/float64(time.Millisecond))) * time.Millisecond
	if rounded < 0 {
		return 0
	}
	return rounded
}

func jitter(cfg RetryConfig) float64 {
	if cfg.Jitter != nil {
		return max(-1, min(1, cfg.Jitter()))
	}
	return rand.Float64()*2 - 1
}

// NewRetryState starts a retry cycle allowing MaxRetries+1 attempts in total.
func NewRetryState(cfg RetryConfig, now time.Time) RetryState {
	return RetryState{
		MaxAttempts:    max(cfg.MaxRetries, 0) + 1,
		NextRetryDelay: CalculateNextDelay(0, cfg),
		StartTime:      now,
	}
}

// AdvanceRetryState records a failed attempt. The returned state is exhausted
// once Attempt reaches MaxAttempts, in which case NextRetryDelay is zero.
func AdvanceRetryState(s RetryState, cfg RetryConfig, err error) RetryState {
	s.Attempt++
	s.Exhausted = s.Attempt >= s.MaxAttempts
	if err != nil {
		s.LastError = err.Error()
	}
	if s.Exhausted {
		s.NextRetryDelay = 0
	} else {
		s.NextRetryDelay = CalculateNextDelay(s.Attempt, cfg)
	}
	return s
}

// IsRetryableError reports whether err may be retried under cfg.
// The error code is Code() when the error chain provides it, otherwise Error().
func IsRetryableError(err error, cfg RetryConfig) bool {
	if err == nil {
		return false
	}
	if len(cfg.RetryableErrors) == 0 {
		return true
	}

	code := errorCode(err)
	for _, retryable := range cfg.RetryableErrors {
		if retryable != "" && strings.Contains(code, retryable) {
			return true
		}
	}
	return false
}

// ShouldRetry reports whether another attempt should be made.
func ShouldRetry(s RetryState, cfg RetryConfig, err error) bool {
	if s.Exhausted {
		return false
	}
	return IsRetryableError(err, cfg)
}

type coder interface {
	Code() string
}

func errorCode(err error) string {
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return err.Error()
}

// Do calls fn until it succeeds, the policy stops retrying or ctx is done.
// The first retry waits InitialDelay and each following one grows by BackoffMultiplier.
// When all attempts fail the result wraps both ErrRetriesExhausted and the last error.
func Do(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	state := NewRetryState(cfg, time.Now())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		delay := state.NextRetryDelay
		state = AdvanceRetryState(state, cfg, err)
		if !ShouldRetry(state, cfg, err) {
			if state.Exhausted {
				return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, state.Attempt, err)
			}
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), err)
		case <-timer.C:
		}
	}
}
