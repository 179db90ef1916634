package subscription

import (
	"fmt"
	"strings"
)

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64  `json:"amount" yaml:"amount"`     // Amount in smallest currency unit (cents for USD)
	Currency string `json:"currency" yaml:"currency"` // ISO 4217 currency code
}

// IsZero reports whether no amount is charged.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// BillingInterval represents the billing frequency for a subscription plan.
type BillingInterval string

const (
	BillingIntervalNone    BillingInterval = "none" // Free plans with no billing
	BillingIntervalWeekly  BillingInterval = "weekly"
	BillingIntervalMonthly BillingInterval = "monthly"
	BillingIntervalAnnual  BillingInterval = "annual"
)

// Valid reports whether the interval is one of the known values.
func (i BillingInterval) Valid() bool {
	switch i {
	case BillingIntervalNone, BillingIntervalWeekly, BillingIntervalMonthly, BillingIntervalAnnual:
		return true
	default:
		return false
	}
}

// SubscriptionStatus represents the current billing state of a subscription.
type SubscriptionStatus string

const (
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusActive            SubscriptionStatus = "active"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusPaused            SubscriptionStatus = "paused"
	StatusCanceled          SubscriptionStatus = "canceled"
)

// Statuses returns every known status in lifecycle order.
func Statuses() []SubscriptionStatus {
	return []SubscriptionStatus{
		StatusIncomplete,
		StatusIncompleteExpired,
		StatusTrialing,
		StatusActive,
		StatusPastDue,
		StatusUnpaid,
		StatusPaused,
		StatusCanceled,
	}
}

func (s SubscriptionStatus) String() string {
	return string(s)
}

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// ParseStatus converts a raw status string into a SubscriptionStatus.
// The British "cancelled" spelling some providers use maps to StatusCanceled.
func ParseStatus(raw string) (SubscriptionStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "cancelled" {
		return StatusCanceled, nil
	}

	status := SubscriptionStatus(normalized)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return status, nil
}
