package mongostore

import (
	"time"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// document is the stored shape of a subscription. Nil times are left out
// so that "not set" and "missing" match the same queries.
type document struct {
	ID                     string     `bson:"_id"`
	CustomerID             string     `bson:"customer_id"`
	PlanID                 string     `bson:"plan_id"`
	Status                 string     `bson:"status"`
	CurrentPeriodStart     time.Time  `bson:"current_period_start"`
	CurrentPeriodEnd       time.Time  `bson:"current_period_end"`
	TrialEnd               *time.Time `bson:"trial_end,omitempty"`
	CancelAtPeriodEnd      bool       `bson:"cancel_at_period_end"`
	DefaultPaymentMethodID string     `bson:"default_payment_method_id,omitempty"`
	PastDueSince           *time.Time `bson:"past_due_since,omitempty"`
	RetryCount             int        `bson:"retry_count"`
	NextRetryAt            *time.Time `bson:"next_retry_at,omitempty"`
	CanceledAt             *time.Time `bson:"canceled_at,omitempty"`
	CreatedAt              time.Time  `bson:"created_at"`
	UpdatedAt              time.Time  `bson:"updated_at"`
	BillingAnchorDay       int        `bson:"billing_anchor_day,omitempty"`
}

func fromSubscription(s *subscription.Subscription) document {
	return document{
		ID:                     s.ID,
		CustomerID:             s.CustomerID,
		PlanID:                 s.PlanID,
		Status:                 string(s.Status),
		CurrentPeriodStart:     s.CurrentPeriodStart,
		CurrentPeriodEnd:       s.CurrentPeriodEnd,
		TrialEnd:               s.TrialEnd,
		CancelAtPeriodEnd:      s.CancelAtPeriodEnd,
		DefaultPaymentMethodID: s.DefaultPaymentMethodID,
		PastDueSince:           s.PastDueSince,
		RetryCount:             s.RetryCount,
		NextRetryAt:            s.NextRetryAt,
		CanceledAt:             s.CanceledAt,
		CreatedAt:              s.CreatedAt,
		UpdatedAt:              s.UpdatedAt,
		BillingAnchorDay:       s.BillingAnchorDay,
	}
}

// subscription converts the document, with times in UTC.
func (d *document) subscription() *subscription.Subscription {
	return &subscription.Subscription{
		ID:                     d.ID,
		CustomerID:             d.CustomerID,
		PlanID:                 d.PlanID,
		Status:                 subscription.SubscriptionStatus(d.Status),
		CurrentPeriodStart:     d.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:       d.CurrentPeriodEnd.UTC(),
		TrialEnd:               utc(d.TrialEnd),
		CancelAtPeriodEnd:      d.CancelAtPeriodEnd,
		DefaultPaymentMethodID: d.DefaultPaymentMethodID,
		PastDueSince:           utc(d.PastDueSince),
		RetryCount:             d.RetryCount,
		NextRetryAt:            utc(d.NextRetryAt),
		CanceledAt:             utc(d.CanceledAt),
		CreatedAt:              d.CreatedAt.UTC(),
		UpdatedAt:              d.UpdatedAt.UTC(),
		BillingAnchorDay:       d.BillingAnchorDay,
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
