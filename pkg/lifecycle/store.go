package lifecycle

import (
	"context"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Store is the persistence contract of the engine. Every Find method returns
// fresh rows; the engine never caches subscriptions between operations.
type Store interface {
	// FindSubscriptionsNeedingRenewal returns active subscriptions whose current period ended at or before now.
	FindSubscriptionsNeedingRenewal(ctx context.Context, now time.Time) ([]*subscription.Subscription, error)

	// FindTrialsNeedingConversion returns trialing subscriptions whose trial ended at or before cutoff.
	FindTrialsNeedingConversion(ctx context.Context, cutoff time.Time) ([]*subscription.Subscription, error)

	// FindPastDueNeedingRetry returns past_due subscriptions with a retry scheduled at or before now.
	FindPastDueNeedingRetry(ctx context.Context, now time.Time) ([]*subscription.Subscription, error)

	// FindPastDueExceedingGracePeriod returns past_due and unpaid subscriptions that
	// became past due at or before cutoff and have no retry scheduled.
	FindPastDueExceedingGracePeriod(ctx context.Context, cutoff time.Time) ([]*subscription.Subscription, error)

	// UpdateSubscriptionStatus writes status and fields and returns the stored row.
	// When fields.ExpectedStatus is set and differs from the stored status the
	// write is rejected with ErrStaleSubscription. Unknown IDs return
	// subscription.ErrSubscriptionNotFound.
	UpdateSubscriptionStatus(ctx context.Context, id string, status subscription.SubscriptionStatus, fields UpdateFields) (*subscription.Subscription, error)
}

// UpdateFields lists the columns an engine write touches. Nil pointers leave
// the column unchanged; the Clear flags reset nullable columns.
type UpdateFields struct {
	ExpectedStatus subscription.SubscriptionStatus

	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	BillingAnchorDay   *int

	PastDueSince      *time.Time
	ClearPastDueSince bool
	RetryCount        *int
	NextRetryAt       *time.Time
	ClearNextRetryAt  bool
	CanceledAt        *time.Time

	UpdatedAt time.Time
}

// ApplyUpdate applies status and fields to sub in place.
// Stores that load and save whole rows use it to share the engine's write semantics.
func ApplyUpdate(sub *subscription.Subscription, status subscription.SubscriptionStatus, f UpdateFields) {
	sub.Status = status
	if f.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = *f.CurrentPeriodStart
	}
	if f.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = *f.CurrentPeriodEnd
	}
	if f.BillingAnchorDay != nil {
		sub.BillingAnchorDay = *f.BillingAnchorDay
	}
	switch {
	case f.ClearPastDueSince:
		sub.PastDueSince = nil
	case f.PastDueSince != nil:
		t := *f.PastDueSince
		sub.PastDueSince = &t
	}
	if f.RetryCount != nil {
		sub.RetryCount = *f.RetryCount
	}
	switch {
	case f.ClearNextRetryAt:
		sub.NextRetryAt = nil
	case f.NextRetryAt != nil:
		t := *f.NextRetryAt
		sub.NextRetryAt = &t
	}
	if f.CanceledAt != nil {
		t := *f.CanceledAt
		sub.CanceledAt = &t
	}
	if !f.UpdatedAt.IsZero() {
		sub.UpdatedAt = f.UpdatedAt
	}
}
