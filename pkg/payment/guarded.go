package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/resilience"
)

// Guarded wraps a PaymentProcessor with client-side protection:
// a rate limit, a bulkhead, a circuit breaker, a per-call timeout and
// retries of transport errors.
//
// Only Go errors count as failures. A declined charge is a valid answer
// and is returned as is. Retries are made only for charges that carry an
// idempotency key, so a retried call cannot charge twice.
type Guarded struct {
	next     lifecycle.PaymentProcessor
	limiter  *rate.Limiter
	bulkhead *resilience.Bulkhead
	breaker  *resilience.CircuitBreaker
	timeout  time.Duration
	retry    *resilience.RetryConfig
	logger   *slog.Logger
}

var _ lifecycle.PaymentProcessor = (*Guarded)(nil)

// GuardOption configures a Guarded processor.
type GuardOption func(*Guarded)

// WithRateLimit caps calls per second with the given burst.
func WithRateLimit(perSecond float64, burst int) GuardOption {
	return func(g *Guarded) {
		if perSecond > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithBulkhead bounds concurrent calls.
func WithBulkhead(b *resilience.Bulkhead) GuardOption {
	return func(g *Guarded) {
		g.bulkhead = b
	}
}

// WithCircuitBreaker fails fast while the provider keeps erroring.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) GuardOption {
	return func(g *Guarded) {
		g.breaker = cb
	}
}

// WithCallTimeout bounds a single provider call.
func WithCallTimeout(d time.Duration) GuardOption {
	return func(g *Guarded) {
		g.timeout = d
	}
}

// WithRetry retries transport errors with exponential backoff.
func WithRetry(cfg resilience.RetryConfig) GuardOption {
	return func(g *Guarded) {
		g.retry = &cfg
	}
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guarded) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGuarded wraps next. Without options it is a pass-through.
func NewGuarded(next lifecycle.PaymentProcessor, opts ...GuardOption) *Guarded {
	if next == nil {
		panic("payment: guarded processor requires a processor")
	}
	g := &Guarded{next: next, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ProcessPayment charges through the configured guards.
func (g *Guarded) ProcessPayment(ctx context.Context, in lifecycle.PaymentInput) (lifecycle.PaymentResult, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return lifecycle.PaymentResult{}, fmt.Errorf("payment: rate limit: %w", err)
		}
	}

	if g.bulkhead != nil {
		release, err := g.bulkhead.Acquire(ctx)
		if err != nil {
			return lifecycle.PaymentResult{}, err
		}
		defer release()
	}

	var result lifecycle.PaymentResult
	call := func(ctx context.Context) error {
		res, err := g.attempt(ctx, in)
		if err != nil {
			return err
		}
		result = res
		return nil
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(ctx, func(ctx context.Context) error {
			return g.withRetry(ctx, in, call)
		})
	} else {
		err = g.withRetry(ctx, in, call)
	}

	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			g.logger.WarnContext(ctx, "payment provider circuit open, charge skipped",
				logger.SubscriptionID(in.Metadata.SubscriptionID),
			)
		}
		return lifecycle.PaymentResult{}, err
	}
	return result, nil
}

func (g *Guarded) withRetry(ctx context.Context, in lifecycle.PaymentInput, fn func(context.Context) error) error {
	if g.retry == nil || in.IdempotencyKey == "" {
		return fn(ctx)
	}
	return resilience.Do(ctx, *g.retry, fn)
}

// attempt makes one bounded call. The result travels through a buffered
// channel: after a timeout the abandoned call may still finish.
func (g *Guarded) attempt(ctx context.Context, in lifecycle.PaymentInput) (lifecycle.PaymentResult, error) {
	out := make(chan lifecycle.PaymentResult, 1)
	err := resilience.WithTimeout(ctx, g.timeout, func(ctx context.Context) error {
		res, err := g.next.ProcessPayment(ctx, in)
		if err != nil {
			return err
		}
		out <- res
		return nil
	})
	if err != nil {
		return lifecycle.PaymentResult{}, err
	}
	return <-out, nil
}
