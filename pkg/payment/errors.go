package payment

import "errors"

var (
	ErrMissingPaymentMethod = errors.New("payment: payment method is required")
	ErrMissingPrice         = errors.New("payment: plan price ID is required")
	ErrPaymentPending       = errors.New("payment: charge is still processing")
	ErrInvalidSignature     = errors.New("payment: webhook signature verification failed")
	ErrInvalidPayload       = errors.New("payment: malformed webhook payload")
	ErrInvalidEnvironment   = errors.New("payment: unknown provider environment")
)
