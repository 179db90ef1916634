package lifecycle

import (
	"errors"
	"fmt"
)

// CancellationMode controls how a subscription leaves past_due once the grace period is over.
type CancellationMode string

const (
	// CancellationImmediate moves past_due to unpaid and then to canceled in the same run.
	CancellationImmediate CancellationMode = "immediate"
	// CancellationDeferred stops at unpaid; a later run cancels.
	CancellationDeferred CancellationMode = "deferred"
)

// TrialPolicy is applied when a trial ends and the customer has no payment method.
type TrialPolicy string

const (
	TrialLeave  TrialPolicy = "leave"  // keep trialing, report a failed conversion every run
	TrialPause  TrialPolicy = "pause"  // move to paused
	TrialCancel TrialPolicy = "cancel" // move to canceled
)

// Config holds the dunning and conversion policy of the engine.
type Config struct {
	// GracePeriodDays is how long a subscription may stay past_due, counted
	// from the first failed charge, before it is marked unpaid or canceled.
	GracePeriodDays int `env:"BILLING_GRACE_PERIOD_DAYS" envDefault:"7"`

	// RetryIntervals are day offsets from the first failed charge at which
	// the payment is retried, e.g. 1,3,5.
	RetryIntervals []int `env:"BILLING_RETRY_INTERVALS" envDefault:"1,3,5" envSeparator:","`

	// TrialConversionDays delays the first charge after trial end. Zero charges immediately.
	TrialConversionDays int `env:"BILLING_TRIAL_CONVERSION_DAYS" envDefault:"0"`

	CancellationMode          CancellationMode `env:"BILLING_CANCELLATION_MODE" envDefault:"immediate"`
	TrialMissingPaymentMethod TrialPolicy      `env:"BILLING_TRIAL_MISSING_PAYMENT_METHOD" envDefault:"leave"`

	// Concurrency is the number of subscriptions processed in parallel within one scan.
	Concurrency int `env:"BILLING_CONCURRENCY" envDefault:"1"`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		GracePeriodDays:           7,
		RetryIntervals:            []int{1, 3, 5},
		TrialConversionDays:       0,
		CancellationMode:          CancellationImmediate,
		TrialMissingPaymentMethod: TrialLeave,
		Concurrency:               1,
	}
}

// Validate reports every problem in the configuration at once.
func (c Config) Validate() error {
	var errs []error
	if c.GracePeriodDays < 0 {
		errs = append(errs, fmt.Errorf("grace period days must not be negative, got %d", c.GracePeriodDays))
	}
	if c.TrialConversionDays < 0 {
		errs = append(errs, fmt.Errorf("trial conversion days must not be negative, got %d", c.TrialConversionDays))
	}
	prev := 0
	for i, days := range c.RetryIntervals {
		if days <= prev {
			errs = append(errs, fmt.Errorf("retry interval %d must be greater than %d, got %d", i, prev, days))
		}
		prev = max(prev, days)
	}
	switch c.CancellationMode {
	case CancellationImmediate, CancellationDeferred:
	default:
		errs = append(errs, fmt.Errorf("unknown cancellation mode %q", c.CancellationMode))
	}
	switch c.TrialMissingPaymentMethod {
	case TrialLeave, TrialPause, TrialCancel:
	default:
		errs = append(errs, fmt.Errorf("unknown trial policy %q", c.TrialMissingPaymentMethod))
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency))
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}
