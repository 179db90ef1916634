package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// ClassifyStripeEvent maps a Stripe event name to a normalized event type.
func ClassifyStripeEvent(eventType string) subscription.EventType {
	switch eventType {
	case "customer.subscription.created":
		return subscription.EventSubscriptionCreated
	case "customer.subscription.updated":
		return subscription.EventSubscriptionUpdated
	case "customer.subscription.deleted":
		return subscription.EventSubscriptionCanceled
	case "customer.subscription.paused":
		return subscription.EventSubscriptionPaused
	case "customer.subscription.resumed":
		return subscription.EventSubscriptionResumed
	case "invoice.paid", "invoice.payment_succeeded", "payment_intent.succeeded":
		return subscription.EventPaymentSucceeded
	case "invoice.payment_failed", "payment_intent.payment_failed":
		return subscription.EventPaymentFailed
	default:
		return subscription.EventUnknown
	}
}

// MapStripeStatus maps a Stripe subscription status. Unknown values return "".
func MapStripeStatus(status string) subscription.SubscriptionStatus {
	switch stripe.SubscriptionStatus(strings.ToLower(status)) {
	case stripe.SubscriptionStatusIncomplete:
		return subscription.StatusIncomplete
	case stripe.SubscriptionStatusIncompleteExpired:
		return subscription.StatusIncompleteExpired
	case stripe.SubscriptionStatusTrialing:
		return subscription.StatusTrialing
	case stripe.SubscriptionStatusActive:
		return subscription.StatusActive
	case stripe.SubscriptionStatusPastDue:
		return subscription.StatusPastDue
	case stripe.SubscriptionStatusUnpaid:
		return subscription.StatusUnpaid
	case stripe.SubscriptionStatusPaused:
		return subscription.StatusPaused
	case stripe.SubscriptionStatusCanceled:
		return subscription.StatusCanceled
	default:
		return ""
	}
}

// ParseWebhook verifies the Stripe-Signature header and reduces the event
// to a subscription.WebhookEvent.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*subscription.WebhookEvent, error) {
	if s.webhookSecret == "" {
		return nil, errors.New("payment: stripe webhook secret is not configured")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	return DecodeStripeEvent(event)
}

// DecodeStripeEvent extracts subscription fields from an already verified event.
func DecodeStripeEvent(event stripe.Event) (*subscription.WebhookEvent, error) {
	out := &subscription.WebhookEvent{
		ID:            event.ID,
		Type:          ClassifyStripeEvent(string(event.Type)),
		ProviderEvent: string(event.Type),
	}
	if event.Data == nil {
		return out, nil
	}

	switch {
	case strings.HasPrefix(string(event.Type), "customer.subscription."):
		var sub stripeSubscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		out.SubscriptionID = sub.ID
		out.CustomerID = sub.Customer.ID
		out.Status = MapStripeStatus(sub.Status)
		if len(sub.Items.Data) > 0 {
			out.PlanID = sub.Items.Data[0].Price.ID
		}

	case strings.HasPrefix(string(event.Type), "invoice."):
		var inv stripeInvoicePayload
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		out.CustomerID = inv.Customer.ID
		out.SubscriptionID = inv.Subscription.ID
		if out.SubscriptionID == "" {
			out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
		}

	case strings.HasPrefix(string(event.Type), "payment_intent."):
		var pi stripeIntentPayload
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		out.CustomerID = pi.Customer.ID
		out.SubscriptionID = pi.Metadata["subscription_id"]
		out.PlanID = pi.Metadata["plan_id"]
	}

	return out, nil
}

// stripeRef is an expandable reference: either an ID string or an object with an id.
type stripeRef struct {
	ID string
}

func (r *stripeRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	return nil
}

type stripeSubscriptionPayload struct {
	ID       string    `json:"id"`
	Customer stripeRef `json:"customer"`
	Status   string    `json:"status"`
	Items    struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// Older API versions put the subscription on the invoice, newer ones under parent.
type stripeInvoicePayload struct {
	Customer     stripeRef `json:"customer"`
	Subscription stripeRef `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription stripeRef `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

type stripeIntentPayload struct {
	Customer stripeRef         `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}
