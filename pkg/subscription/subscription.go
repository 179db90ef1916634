package subscription

import (
	"time"
)

// Subscription is the billing view of a customer's subscription.
// Rows are never deleted; a finished subscription stays in a terminal status.
type Subscription struct {
	ID                     string             `json:"id"`
	CustomerID             string             `json:"customer_id"`
	PlanID                 string             `json:"plan_id"`
	Status                 SubscriptionStatus `json:"status"`
	CurrentPeriodStart     time.Time          `json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end"`
	TrialEnd               *time.Time         `json:"trial_end,omitempty"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end"`
	DefaultPaymentMethodID string             `json:"default_payment_method_id,omitempty"` // empty when none is attached

	// BillingAnchorDay is the day of month periods end on. Zero means not
	// yet recorded; the engine sets it on the first paid period.
	BillingAnchorDay int `json:"billing_anchor_day,omitempty"`

	// Dunning bookkeeping, maintained by the lifecycle engine.
	PastDueSince *time.Time `json:"past_due_since,omitempty"`
	RetryCount   int        `json:"retry_count"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	CanceledAt   *time.Time `json:"canceled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTrialing returns true if the subscription is in trial status.
func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrialing
}

// IsActive returns true if the subscription is active (paid).
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// IsCanceled returns true if the subscription is canceled.
func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// IsTerminal reports whether the subscription can no longer change status.
func (s *Subscription) IsTerminal() bool {
	return IsTerminal(s.Status)
}

// IsTrialExpiredAt reports whether the trial ended at or before now.
func (s *Subscription) IsTrialExpiredAt(now time.Time) bool {
	if s.TrialEnd == nil {
		return false
	}
	return !s.TrialEnd.After(now)
}

// IsPeriodEndedAt reports whether the current billing period is over at now.
func (s *Subscription) IsPeriodEndedAt(now time.Time) bool {
	if s.CurrentPeriodEnd.IsZero() {
		return false
	}
	return !s.CurrentPeriodEnd.After(now)
}

// AnchorDay returns BillingAnchorDay, or periodStart's day when none is recorded.
func (s *Subscription) AnchorDay(periodStart time.Time) int {
	if s.BillingAnchorDay >= 1 && s.BillingAnchorDay <= 31 {
		return s.BillingAnchorDay
	}
	return periodStart.Day()
}

// HasScheduledRetry reports whether a dunning retry is pending.
func (s *Subscription) HasScheduledRetry() bool {
	return s.NextRetryAt != nil
}

// TrialDaysRemainingAt returns the number of days remaining in the trial at a given time.
// Returns 0 if not in trial or trial has expired.
func (s *Subscription) TrialDaysRemainingAt(now time.Time) int {
	if !s.IsTrialing() || s.TrialEnd == nil {
		return 0
	}

	remaining := s.TrialEnd.Sub(now)
	if remaining <= 0 {
		return 0
	}

	// Round up partial days to be user-friendly
	days := remaining.Hours() / 24
	return int(days + 0.5)
}

// Clone returns a deep copy, so callers can mutate the result without aliasing stored state.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.TrialEnd = cloneTime(s.TrialEnd)
	c.PastDueSince = cloneTime(s.PastDueSince)
	c.NextRetryAt = cloneTime(s.NextRetryAt)
	c.CanceledAt = cloneTime(s.CanceledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
