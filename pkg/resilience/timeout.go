package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Deadline is a fixed point in time by which a call must finish.
type Deadline struct {
	Start     time.Time
	Timeout   time.Duration
	ExpiresAt time.Time
}

// CreateDeadline returns a deadline timeout from now.
func CreateDeadline(timeout time.Duration, now time.Time) Deadline {
	return Deadline{
		Start:     now,
		Timeout:   timeout,
		ExpiresAt: now.Add(timeout),
	}
}

// Passed reports whether the deadline has been reached.
func (d Deadline) Passed(now time.Time) bool {
	return DeadlinePassed(d.Start, d.Timeout, now)
}

// Remaining returns the time left, never negative.
func (d Deadline) Remaining(now time.Time) time.Duration {
	return RemainingTime(d.Start, d.Timeout, now)
}

// DeadlinePassed reports whether at least timeout has elapsed since start.
func DeadlinePassed(start time.Time, timeout time.Duration, now time.Time) bool {
	return now.Sub(start) >= timeout
}

// RemainingTime returns how long is left before start+timeout, never negative.
func RemainingTime(start time.Time, timeout time.Duration, now time.Time) time.Duration {
	remaining := start.Add(timeout).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// WithTimeout runs fn with a context bounded by timeout.
// When the timeout fires first the call is reported as failed with ErrTimeout;
// fn may still have produced its side effect, so callers pass idempotency keys.
// A non-positive timeout runs fn with ctx unchanged.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(tctx)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)
		}
		return err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}
