package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/resilience"
)

func TestCalculateNextDelay(t *testing.T) {
	t.Parallel()

	t.Run("deterministic without jitter", func(t *testing.T) {
		t.Parallel()
		cfg := resilience.RetryConfig{InitialDelay: time.Second, BackoffMultiplier: 2}
		assert.Equal(t, 1000*time.Millisecond, resilience.CalculateNextDelay(0, cfg))
		assert.Equal(t, 2000*time.Millisecond, resilience.CalculateNextDelay(1, cfg))
		assert.Equal(t, 4000*time.Millisecond, resilience.CalculateNextDelay(2, cfg))
	})

	t.Run("capped at max delay", func(t *testing.T) {
		t.Parallel()
		cfg := resilience.RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffMultiplier: 2}
		assert.Equal(t, 5*time.Second, resilience.CalculateNextDelay(3, cfg))
		assert.Equal(t, 5*time.Second, resilience.CalculateNextDelay(60, cfg))
		assert.Equal(t, 5*time.Second, resilience.CalculateNextDelay(5000, cfg))
	})

	t.Run("multiplicative jitter", func(t *testing.T) {
		t.Parallel()
		cfg := resilience.RetryConfig{
			InitialDelay:      time.Second,
			BackoffMultiplier: 2,
			JitterFactor:      0.1,
			Jitter:            func() float64 { return 1 },
		}
		assert.Equal(t, 2200*time.Millisecond, resilience.CalculateNextDelay(1, cfg))

		cfg.Jitter = func() float64 { return -1 }
		assert.Equal(t, 1800*time.Millisecond, resilience.CalculateNextDelay(1, cfg))
	})

	t.Run("random jitter stays within bounds", func(t *testing.T) {
		t.Parallel()
		cfg := resilience.RetryConfig{InitialDelay: time.Second, BackoffMultiplier: 2, JitterFactor: 0.5}
		for range 100 {
			d := resilience.CalculateNextDelay(0, cfg)
			assert.GreaterOrEqual(t, d, 500*time.Millisecond)
			assert.LessOrEqual(t, d, 1500*time.Millisecond)
		}
	})

	t.Run("never negative", func(t *testing.T) {
		t.Parallel()
		cfg := resilience.RetryConfig{
			InitialDelay: time.Second,
			JitterFactor: 3,
			Jitter:       func() float64 { return -1 },
		}
		assert.Equal(t, time.Duration(0), resilience.CalculateNextDelay(0, cfg))
	})
}

func TestRetryState(t *testing.T) {
	t.Parallel()

	cfg := resilience.RetryConfig{MaxRetries: 2, InitialDelay: time.Second, BackoffMultiplier: 2}

	t.Run("exhausted on third advance", func(t *testing.T) {
		t.Parallel()
		s := resilience.NewRetryState(cfg, t0)
		assert.Equal(t, 3, s.MaxAttempts)
		assert.Equal(t, time.Second, s.NextRetryDelay)
		assert.Equal(t, t0, s.StartTime)

		s = resilience.AdvanceRetryState(s, cfg, errors.New("declined"))
		assert.False(t, s.Exhausted)
		assert.Equal(t, 1, s.Attempt)
		assert.Equal(t, 2*time.Second, s.NextRetryDelay)
		assert.Equal(t, "declined", s.LastError)

		s = resilience.AdvanceRetryState(s, cfg, errors.New("timeout"))
		assert.False(t, s.Exhausted)
		assert.Equal(t, 4*time.Second, s.NextRetryDelay)

		s = resilience.AdvanceRetryState(s, cfg, errors.New("declined again"))
		assert.True(t, s.Exhausted)
		assert.Equal(t, time.Duration(0), s.NextRetryDelay)
		assert.Equal(t, "declined again", s.LastError)
	})

	t.Run("advance does not mutate input", func(t *testing.T) {
		t.Parallel()
		s := resilience.NewRetryState(cfg, t0)
		_ = resilience.AdvanceRetryState(s, cfg, nil)
		assert.Equal(t, 0, s.Attempt)
	})
}

type codedError struct{ code string }

func (e codedError) Error() string { return "provider error" }
func (e codedError) Code() string  { return e.code }

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	all := resilience.RetryConfig{}
	assert.True(t, resilience.IsRetryableError(errors.New("anything"), all))
	assert.False(t, resilience.IsRetryableError(nil, all))

	listed := resilience.RetryConfig{RetryableErrors: []string{"rate_limit", "timeout"}}
	assert.True(t, resilience.IsRetryableError(errors.New("gateway timeout"), listed))
	assert.False(t, resilience.IsRetryableError(errors.New("card_declined"), listed))
	assert.True(t, resilience.IsRetryableError(codedError{code: "rate_limit_exceeded"}, listed))
	assert.False(t, resilience.IsRetryableError(codedError{code: "invalid_request"}, listed))

	wrapped := errors.Join(errors.New("charge"), codedError{code: "rate_limit"})
	assert.True(t, resilience.IsRetryableError(wrapped, listed))
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	cfg := resilience.RetryConfig{MaxRetries: 1, RetryableErrors: []string{"timeout"}}
	s := resilience.NewRetryState(cfg, t0)
	timeout := errors.New("timeout")

	s = resilience.AdvanceRetryState(s, cfg, timeout)
	assert.True(t, resilience.ShouldRetry(s, cfg, timeout))
	assert.False(t, resilience.ShouldRetry(s, cfg, errors.New("declined")))

	s = resilience.AdvanceRetryState(s, cfg, timeout)
	assert.False(t, resilience.ShouldRetry(s, cfg, timeout))
}

func TestDo(t *testing.T) {
	t.Parallel()

	fast := resilience.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := resilience.Do(context.Background(), fast, func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns exhausted error", func(t *testing.T) {
		t.Parallel()
		calls := 0
		boom := errors.New("boom")
		err := resilience.Do(context.Background(), fast, func(context.Context) error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, resilience.ErrRetriesExhausted)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on non retryable error", func(t *testing.T) {
		t.Parallel()
		cfg := fast
		cfg.RetryableErrors = []string{"timeout"}
		calls := 0
		declined := errors.New("card_declined")
		err := resilience.Do(context.Background(), cfg, func(context.Context) error {
			calls++
			return declined
		})
		assert.ErrorIs(t, err, declined)
		assert.NotErrorIs(t, err, resilience.ErrRetriesExhausted)
		assert.Equal(t, 1, calls)
	})

	t.Run("honours context cancellation while waiting", func(t *testing.T) {
		t.Parallel()
		cfg := resilience.RetryConfig{MaxRetries: 5, InitialDelay: time.Hour}
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := resilience.Do(ctx, cfg, func(context.Context) error {
			calls++
			cancel()
			return errors.New("transient")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("does not call fn with done context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := resilience.Do(ctx, fast, func(context.Context) error {
			t.Fatal("must not be called")
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
