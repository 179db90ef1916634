package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// StripeConfig holds the Stripe credentials.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	// APIURL overrides the API endpoint, e.g. for stripe-mock.
	APIURL string `env:"STRIPE_API_URL"`
}

// Stripe charges saved payment methods with off-session PaymentIntents.
type Stripe struct {
	intents       paymentintent.Client
	webhookSecret string
	logger        *slog.Logger
}

var _ lifecycle.PaymentProcessor = (*Stripe)(nil)

// StripeOption configures a Stripe processor.
type StripeOption func(*stripeOptions)

type stripeOptions struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// WithStripeHTTPClient sets the HTTP client used for API calls.
func WithStripeHTTPClient(c *http.Client) StripeOption {
	return func(o *stripeOptions) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithStripeLogger sets the processor logger.
func WithStripeLogger(l *slog.Logger) StripeOption {
	return func(o *stripeOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewStripe creates a Stripe processor with its own API backend, so several
// accounts can be used from one process.
func NewStripe(cfg StripeConfig, opts ...StripeOption) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("payment: stripe secret key is required")
	}

	o := &stripeOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        o.httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}

	return &Stripe{
		intents: paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
		webhookSecret: cfg.WebhookSecret,
		logger:        o.logger.With(logger.Provider("stripe")),
	}, nil
}

// ProcessPayment creates and confirms an off-session PaymentIntent.
// Card errors are returned as declines; every other failure is an error.
func (s *Stripe) ProcessPayment(ctx context.Context, in lifecycle.PaymentInput) (lifecycle.PaymentResult, error) {
	if in.PaymentMethodID == "" {
		return lifecycle.PaymentResult{}, ErrMissingPaymentMethod
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(in.Amount),
		Currency:      stripe.String(strings.ToLower(in.Currency)),
		PaymentMethod: stripe.String(in.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Description:   stripe.String(fmt.Sprintf("%s %s", in.Metadata.PlanID, in.Metadata.Type)),
	}
	params.Context = ctx
	if in.ProviderCustomerID != "" {
		params.Customer = stripe.String(in.ProviderCustomerID)
	}
	if in.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(in.IdempotencyKey)
	}
	params.AddMetadata("subscription_id", in.Metadata.SubscriptionID)
	params.AddMetadata("customer_id", in.Metadata.CustomerID)
	params.AddMetadata("plan_id", in.Metadata.PlanID)
	params.AddMetadata("payment_type", string(in.Metadata.Type))

	pi, err := s.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			s.logger.InfoContext(ctx, "stripe charge declined",
				logger.SubscriptionID(in.Metadata.SubscriptionID),
				slog.String("code", string(stripeErr.Code)),
				slog.String("decline_code", string(stripeErr.DeclineCode)),
			)
			return lifecycle.PaymentResult{
				Error:       stripeErr.Msg,
				DeclineCode: declineCode(stripeErr),
			}, nil
		}
		return lifecycle.PaymentResult{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return lifecycle.PaymentResult{Success: true, PaymentID: pi.ID}, nil
	case stripe.PaymentIntentStatusRequiresAction:
		return lifecycle.PaymentResult{
			PaymentID:   pi.ID,
			Error:       "payment requires customer authentication",
			DeclineCode: "authentication_required",
		}, nil
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		res := lifecycle.PaymentResult{PaymentID: pi.ID, Error: "payment method was declined"}
		if pi.LastPaymentError != nil {
			res.Error = pi.LastPaymentError.Msg
			res.DeclineCode = string(pi.LastPaymentError.DeclineCode)
		}
		return res, nil
	default:
		return lifecycle.PaymentResult{}, fmt.Errorf("%w: payment intent %s is %s", ErrPaymentPending, pi.ID, pi.Status)
	}
}

func declineCode(err *stripe.Error) string {
	if err.DeclineCode != "" {
		return string(err.DeclineCode)
	}
	return string(err.Code)
}
