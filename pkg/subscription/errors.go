package subscription

import (
	"errors"
	"fmt"
)

var (
	ErrPlanNotFound             = errors.New("subscription plan not found")
	ErrInvalidPlanConfiguration = errors.New("invalid subscription plan configuration")
	ErrFailedToLoadPlans        = errors.New("failed to load subscription plans")

	ErrSubscriptionNotFound    = errors.New("subscription not found")
	ErrUnknownStatus           = errors.New("unknown subscription status")
	ErrInvalidStatusTransition = errors.New("invalid subscription status transition")
)

// InvalidTransitionError describes a rejected status change.
// It matches ErrInvalidStatusTransition with errors.Is.
type InvalidTransitionError struct {
	From           SubscriptionStatus
	To             SubscriptionStatus
	SubscriptionID string
}

func NewInvalidTransitionError(from, to SubscriptionStatus, subscriptionID string) *InvalidTransitionError {
	return &InvalidTransitionError{
		From:           from,
		To:             to,
		SubscriptionID: subscriptionID,
	}
}

func (e *InvalidTransitionError) Error() string {
	if e.SubscriptionID == "" {
		return fmt.Sprintf("invalid subscription status transition from '%s' to '%s'", e.From, e.To)
	}
	return fmt.Sprintf("invalid status transition from '%s' to '%s' for subscription '%s'", e.From, e.To, e.SubscriptionID)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}

// IsInvalidTransitionError reports whether err carries an *InvalidTransitionError.
func IsInvalidTransitionError(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}
