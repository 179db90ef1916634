// Package subscription defines the provider-agnostic subscription model: the
// status enum, the status transition table, plans and the normalized webhook
// event classification shared by payment adapters.
//
// The transition table is the single enforcement point for status changes.
// Anything that persists a new status calls AssertValidTransition first:
//
//	if err := subscription.AssertValidTransition(sub.Status, subscription.StatusPastDue, sub.ID); err != nil {
//	    return err // *InvalidTransitionError, matches ErrInvalidStatusTransition
//	}
//
// Legal edges:
//
//	incomplete         -> active, trialing, incomplete_expired, canceled
//	incomplete_expired -> (terminal)
//	trialing           -> active, past_due, canceled, paused
//	active             -> past_due, canceled, paused, unpaid
//	past_due           -> active, unpaid, canceled
//	unpaid             -> active, canceled
//	paused             -> active, canceled
//	canceled           -> (terminal)
//
// Staying in the same status is always legal. A canceled subscription is never
// reactivated; the billing flow creates a new subscription instead.
//
// # Plans
//
// Plans carry the price and billing interval used to charge renewals. They are
// loaded through a PlansListSource, either in memory:
//
//	src := subscription.NewInMemSource(subscription.Plan{
//	    ID:       "price_pro_monthly",
//	    Name:     "Pro",
//	    Price:    subscription.Money{Amount: 2900, Currency: "USD"},
//	    Interval: subscription.BillingIntervalMonthly,
//	})
//
// or from a YAML catalog with NewYAMLSource. LoadPlans validates the result.
package subscription
