package lifecycle

import (
	"context"
	"fmt"
	"time"
)

// PaymentType tells the processor why a charge is made.
type PaymentType string

const (
	PaymentRenewal         PaymentType = "renewal"
	PaymentTrialConversion PaymentType = "trial_conversion"
	PaymentRetry           PaymentType = "retry"
)

// PaymentMetadata is attached to every charge for reconciliation on the provider side.
type PaymentMetadata struct {
	SubscriptionID string      `json:"subscription_id"`
	CustomerID     string      `json:"customer_id"`
	PlanID         string      `json:"plan_id"`
	Type           PaymentType `json:"type"`
}

// PaymentInput describes one charge. Amount is in minor currency units.
type PaymentInput struct {
	Amount             int64
	Currency           string
	PaymentMethodID    string
	ProviderCustomerID string
	IdempotencyKey     string
	Metadata           PaymentMetadata
}

// PaymentResult is the outcome of a charge the provider answered.
// A decline is Success == false with Error set, not a Go error.
type PaymentResult struct {
	Success     bool
	PaymentID   string
	Error       string
	DeclineCode string
}

// PaymentProcessor charges a payment method.
// A returned error means the provider could not be reached or answered
// unexpectedly; the charge outcome is then unknown.
type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, input PaymentInput) (PaymentResult, error)
}

// PaymentProcessorFunc adapts a function to PaymentProcessor.
type PaymentProcessorFunc func(ctx context.Context, input PaymentInput) (PaymentResult, error)

func (f PaymentProcessorFunc) ProcessPayment(ctx context.Context, input PaymentInput) (PaymentResult, error) {
	return f(ctx, input)
}

// PaymentMethod is a customer's default payment method.
type PaymentMethod struct {
	ID                      string
	ProviderPaymentMethodID string
	ProviderCustomerID      string
}

// PaymentMethodResolver looks up a customer's default payment method.
// It returns nil, nil when the customer has none.
type PaymentMethodResolver interface {
	DefaultPaymentMethod(ctx context.Context, customerID string) (*PaymentMethod, error)
}

// PaymentMethodResolverFunc adapts a function to PaymentMethodResolver.
type PaymentMethodResolverFunc func(ctx context.Context, customerID string) (*PaymentMethod, error)

func (f PaymentMethodResolverFunc) DefaultPaymentMethod(ctx context.Context, customerID string) (*PaymentMethod, error) {
	return f(ctx, customerID)
}

// IdempotencyKey derives a stable provider idempotency key for a charge.
// The same subscription, payment type, billing anchor and attempt always map
// to the same key, so a run repeated after a crash cannot double charge.
func IdempotencyKey(subscriptionID string, kind PaymentType, anchor time.Time, attempt int) string {
	return fmt.Sprintf("%s:%s:%d:%d", subscriptionID, kind, anchor.Unix(), attempt)
}
