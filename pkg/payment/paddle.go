package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// PaddleConfig holds configuration for Paddle Billing.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// Paddle charges renewals by creating automatically collected transactions
// for the plan's catalog price. Plan IDs must be Paddle price IDs.
//
// Paddle collects asynchronously: an accepted transaction counts as a
// successful charge and a later failure arrives as transaction.payment_failed.
type Paddle struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	logger   *slog.Logger
}

var _ lifecycle.PaymentProcessor = (*Paddle)(nil)

// PaddleOption configures a Paddle processor.
type PaddleOption func(*paddleOptions)

type paddleOptions struct {
	baseURL string
	logger  *slog.Logger
}

// WithPaddleBaseURL overrides the API base URL.
func WithPaddleBaseURL(url string) PaddleOption {
	return func(o *paddleOptions) {
		o.baseURL = url
	}
}

// WithPaddleLogger sets the processor logger.
func WithPaddleLogger(l *slog.Logger) PaddleOption {
	return func(o *paddleOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewPaddle creates a Paddle processor for the production or sandbox environment.
func NewPaddle(cfg PaddleConfig, opts ...PaddleOption) (*Paddle, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("payment: paddle API key is required")
	}

	o := &paddleOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	var sdkOpts []paddle.Option
	if o.baseURL != "" {
		sdkOpts = append(sdkOpts, paddle.WithBaseURL(o.baseURL))
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey, sdkOpts...)
	case "production", "":
		client, err = paddle.New(cfg.APIKey, sdkOpts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("payment: create paddle client: %w", err)
	}

	p := &Paddle{
		client: client,
		logger: o.logger.With(logger.Provider("paddle")),
	}
	if cfg.WebhookSecret != "" {
		p.verifier = paddle.NewWebhookVerifier(cfg.WebhookSecret)
	}
	return p, nil
}

// ProcessPayment creates an automatically collected transaction for the customer.
func (p *Paddle) ProcessPayment(ctx context.Context, in lifecycle.PaymentInput) (lifecycle.PaymentResult, error) {
	if in.Metadata.PlanID == "" {
		return lifecycle.PaymentResult{}, ErrMissingPrice
	}
	if in.ProviderCustomerID == "" {
		return lifecycle.PaymentResult{}, ErrMissingPaymentMethod
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  in.Metadata.PlanID,
		Quantity: 1,
	})
	req := &paddle.CreateTransactionRequest{
		Items:          []paddle.CreateTransactionItems{*item},
		CustomerID:     paddle.PtrTo(in.ProviderCustomerID),
		CollectionMode: paddle.PtrTo(paddle.CollectionModeAutomatic),
		CustomData: paddle.CustomData{
			"subscription_id": in.Metadata.SubscriptionID,
			"customer_id":     in.Metadata.CustomerID,
			"payment_type":    string(in.Metadata.Type),
			"idempotency_key": in.IdempotencyKey,
		},
	}

	txn, err := p.client.TransactionsClient.CreateTransaction(ctx, req)
	if err != nil {
		return lifecycle.PaymentResult{}, fmt.Errorf("paddle: create transaction: %w", err)
	}

	status := string(txn.Status)
	p.logger.DebugContext(ctx, "paddle transaction created",
		logger.SubscriptionID(in.Metadata.SubscriptionID),
		logger.PaymentID(txn.ID),
		slog.String("transaction_status", status),
	)

	switch status {
	case "past_due", "canceled":
		return lifecycle.PaymentResult{
			PaymentID:   txn.ID,
			Error:       "paddle transaction " + status,
			DeclineCode: status,
		}, nil
	default:
		return lifecycle.PaymentResult{Success: true, PaymentID: txn.ID}, nil
	}
}

// ParseWebhook verifies the Paddle-Signature header and decodes the event.
func (p *Paddle) ParseWebhook(ctx context.Context, payload []byte, signature string) (*subscription.WebhookEvent, error) {
	if p.verifier == nil {
		return nil, errors.New("payment: paddle webhook secret is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("payment: build verification request: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}

	return DecodePaddleEvent(payload)
}

// DecodePaddleEvent decodes an already verified Paddle webhook body.
func DecodePaddleEvent(payload []byte) (*subscription.WebhookEvent, error) {
	var raw struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Data      struct {
			ID             string `json:"id"`
			Status         string `json:"status"`
			CustomerID     string `json:"customer_id"`
			SubscriptionID string `json:"subscription_id"`
			CustomData     struct {
				CustomerID     string `json:"customer_id"`
				SubscriptionID string `json:"subscription_id"`
			} `json:"custom_data"`
			Items []struct {
				PriceID string `json:"price_id"`
				Price   struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if raw.EventType == "" {
		return nil, fmt.Errorf("%w: missing event_type", ErrInvalidPayload)
	}

	event := &subscription.WebhookEvent{
		ID:            raw.EventID,
		Type:          ClassifyPaddleEvent(raw.EventType),
		ProviderEvent: raw.EventType,
		CustomerID:    raw.Data.CustomerID,
	}
	if event.CustomerID == "" {
		event.CustomerID = raw.Data.CustomData.CustomerID
	}
	if len(raw.Data.Items) > 0 {
		event.PlanID = raw.Data.Items[0].Price.ID
		if event.PlanID == "" {
			event.PlanID = raw.Data.Items[0].PriceID
		}
	}

	switch {
	case strings.HasPrefix(raw.EventType, "subscription."):
		event.SubscriptionID = raw.Data.ID
		event.Status = MapPaddleStatus(raw.Data.Status)
	case strings.HasPrefix(raw.EventType, "transaction."):
		event.SubscriptionID = raw.Data.SubscriptionID
		if event.SubscriptionID == "" {
			event.SubscriptionID = raw.Data.CustomData.SubscriptionID
		}
	}
	return event, nil
}

// ClassifyPaddleEvent maps a Paddle event name to a normalized event type.
func ClassifyPaddleEvent(eventType string) subscription.EventType {
	switch eventType {
	case "subscription.created", "subscription.activated":
		return subscription.EventSubscriptionCreated
	case "subscription.updated", "subscription.trialing", "subscription.past_due":
		return subscription.EventSubscriptionUpdated
	case "subscription.canceled":
		return subscription.EventSubscriptionCanceled
	case "subscription.paused":
		return subscription.EventSubscriptionPaused
	case "subscription.resumed":
		return subscription.EventSubscriptionResumed
	case "transaction.completed", "transaction.paid":
		return subscription.EventPaymentSucceeded
	case "transaction.payment_failed", "transaction.past_due":
		return subscription.EventPaymentFailed
	default:
		return subscription.EventUnknown
	}
}

// MapPaddleStatus maps a Paddle subscription status. Unknown values return "".
func MapPaddleStatus(status string) subscription.SubscriptionStatus {
	switch strings.ToLower(status) {
	case "trialing":
		return subscription.StatusTrialing
	case "active":
		return subscription.StatusActive
	case "past_due":
		return subscription.StatusPastDue
	case "paused":
		return subscription.StatusPaused
	case "canceled", "cancelled":
		return subscription.StatusCanceled
	default:
		return ""
	}
}
