package lifecycle

import (
	"context"
	"time"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventRenewed               EventType = "subscription.renewed"
	EventRenewalFailed         EventType = "subscription.renewal_failed"
	EventTrialConverted        EventType = "subscription.trial_converted"
	EventTrialConversionFailed EventType = "subscription.trial_conversion_failed"
	EventEnteredGracePeriod    EventType = "subscription.entered_grace_period"
	EventRetryScheduled        EventType = "subscription.retry_scheduled"
	EventRetrySucceeded        EventType = "subscription.retry_succeeded"
	EventRetryFailed           EventType = "subscription.retry_failed"
	EventCanceledNonpayment    EventType = "subscription.canceled_nonpayment"

	EventMarkedUnpaid                   EventType = "subscription.marked_unpaid"
	EventCanceledAtPeriodEnd            EventType = "subscription.canceled_at_period_end"
	EventTrialEndedWithoutPaymentMethod EventType = "subscription.trial_ended_without_payment_method"
)

// EventTypes returns every event type the engine emits.
func EventTypes() []EventType {
	return []EventType{
		EventRenewed,
		EventRenewalFailed,
		EventTrialConverted,
		EventTrialConversionFailed,
		EventEnteredGracePeriod,
		EventRetryScheduled,
		EventRetrySucceeded,
		EventRetryFailed,
		EventCanceledNonpayment,
		EventMarkedUnpaid,
		EventCanceledAtPeriodEnd,
		EventTrialEndedWithoutPaymentMethod,
	}
}

// Event is emitted after the state change it describes has been persisted.
type Event struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	SubscriptionID string         `json:"subscription_id"`
	CustomerID     string         `json:"customer_id"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Data           map[string]any `json:"data,omitempty"`
}

// EventHandler receives events synchronously in emission order.
// Returned errors and panics are logged by the engine and never abort a batch.
type EventHandler func(ctx context.Context, event Event) error
