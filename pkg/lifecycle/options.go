package lifecycle

import (
	"log/slog"
	"time"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEventHandler appends event handlers. Handlers run in registration order.
func WithEventHandler(handlers ...EventHandler) Option {
	return func(e *Engine) {
		for _, h := range handlers {
			if h != nil {
				e.handlers = append(e.handlers, h)
			}
		}
	}
}

// WithPaymentMethodResolver sets the lookup for customers' default payment methods.
// Without a resolver the subscription's DefaultPaymentMethodID is charged.
func WithPaymentMethodResolver(r PaymentMethodResolver) Option {
	return func(e *Engine) {
		e.methods = r
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMetrics records operation and event metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithIDGenerator overrides how event IDs are generated. Defaults to UUIDv4.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}
