package lifecycle

import "errors"

var (
	ErrStaleSubscription  = errors.New("lifecycle: subscription was modified concurrently")
	ErrNoPaymentMethod    = errors.New("lifecycle: no default payment method")
	ErrPaymentDeclined    = errors.New("lifecycle: payment declined")
	ErrPlanNotRenewable   = errors.New("lifecycle: plan has no billing interval")
	ErrInvalidConfig      = errors.New("lifecycle: invalid configuration")
	ErrMissingRetryAnchor = errors.New("lifecycle: past due subscription has no past_due_since")
)
