package subscription

// EventType is the provider-neutral classification of a billing webhook.
// Each payment adapter maps its provider's event names onto these values;
// anything it does not recognise becomes EventUnknown and should be ignored.
type EventType string

const (
	EventSubscriptionCreated  EventType = "subscription_created"
	EventSubscriptionUpdated  EventType = "subscription_updated"
	EventSubscriptionCanceled EventType = "subscription_canceled"
	EventSubscriptionPaused   EventType = "subscription_paused"
	EventSubscriptionResumed  EventType = "subscription_resumed"

	EventPaymentSucceeded EventType = "payment_succeeded"
	EventPaymentFailed    EventType = "payment_failed"

	EventUnknown EventType = "unknown"
)

// TargetStatus returns the status a subscription should move to for the event,
// and false when the event does not imply a status change on its own.
func (e EventType) TargetStatus() (SubscriptionStatus, bool) {
	switch e {
	case EventSubscriptionCanceled:
		return StatusCanceled, true
	case EventSubscriptionPaused:
		return StatusPaused, true
	case EventSubscriptionResumed, EventPaymentSucceeded:
		return StatusActive, true
	case EventPaymentFailed:
		return StatusPastDue, true
	default:
		return "", false
	}
}

// WebhookEvent is a verified provider webhook reduced to the fields billing cares about.
type WebhookEvent struct {
	ID             string             // provider event ID, used for de-duplication
	Type           EventType          // normalized event type
	ProviderEvent  string             // original provider event name
	SubscriptionID string             // provider subscription ID
	CustomerID     string             // provider customer ID
	Status         SubscriptionStatus // mapped provider status, empty when absent
	PlanID         string             // provider price ID
}
