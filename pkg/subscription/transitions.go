package subscription

import "slices"

// transitions is the single source of truth for legal status changes.
// A status mapped to an empty set is terminal.
var transitions = map[SubscriptionStatus][]SubscriptionStatus{
	StatusIncomplete:        {StatusActive, StatusTrialing, StatusIncompleteExpired, StatusCanceled},
	StatusIncompleteExpired: {},
	StatusTrialing:          {StatusActive, StatusPastDue, StatusCanceled, StatusPaused},
	StatusActive:            {StatusPastDue, StatusCanceled, StatusPaused, StatusUnpaid},
	StatusPastDue:           {StatusActive, StatusUnpaid, StatusCanceled},
	StatusUnpaid:            {StatusActive, StatusCanceled},
	StatusPaused:            {StatusActive, StatusCanceled},
	StatusCanceled:          {}, // reactivation requires a new subscription
}

// IsValidTransition reports whether a subscription may move from one status to another.
// Staying in the same status is always allowed.
func IsValidTransition(from, to SubscriptionStatus) bool {
	if from == to {
		return true
	}
	return slices.Contains(transitions[from], to)
}

// AssertValidTransition returns an *InvalidTransitionError when the transition is not allowed.
// Every write that changes a subscription status must call it before persisting.
func AssertValidTransition(from, to SubscriptionStatus, subscriptionID string) error {
	if IsValidTransition(from, to) {
		return nil
	}
	return NewInvalidTransitionError(from, to, subscriptionID)
}

// ValidTransitions returns the statuses reachable from the given one, sorted for stable output.
// The returned slice is a copy and safe to modify.
func ValidTransitions(from SubscriptionStatus) []SubscriptionStatus {
	targets := slices.Clone(transitions[from])
	if targets == nil {
		targets = []SubscriptionStatus{}
	}
	slices.Sort(targets)
	return targets
}

// IsTerminal reports whether no transition leaves the status.
// Unknown statuses are not terminal.
func IsTerminal(status SubscriptionStatus) bool {
	targets, ok := transitions[status]
	return ok && len(targets) == 0
}
