package subscription_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

var legalEdges = map[subscription.SubscriptionStatus][]subscription.SubscriptionStatus{
	subscription.StatusIncomplete: {
		subscription.StatusActive,
		subscription.StatusTrialing,
		subscription.StatusIncompleteExpired,
		subscription.StatusCanceled,
	},
	subscription.StatusIncompleteExpired: {},
	subscription.StatusTrialing: {
		subscription.StatusActive,
		subscription.StatusPastDue,
		subscription.StatusCanceled,
		subscription.StatusPaused,
	},
	subscription.StatusActive: {
		subscription.StatusPastDue,
		subscription.StatusCanceled,
		subscription.StatusPaused,
		subscription.StatusUnpaid,
	},
	subscription.StatusPastDue: {
		subscription.StatusActive,
		subscription.StatusUnpaid,
		subscription.StatusCanceled,
	},
	subscription.StatusUnpaid:   {subscription.StatusActive, subscription.StatusCanceled},
	subscription.StatusPaused:   {subscription.StatusActive, subscription.StatusCanceled},
	subscription.StatusCanceled: {},
}

func TestIsValidTransition_SameStatusAlwaysValid(t *testing.T) {
	t.Parallel()

	for _, status := range subscription.Statuses() {
		assert.True(t, subscription.IsValidTransition(status, status), "status %s", status)
		assert.NoError(t, subscription.AssertValidTransition(status, status, "sub_1"))
	}
}

func TestTransitionTable_Closure(t *testing.T) {
	t.Parallel()

	for _, from := range subscription.Statuses() {
		allowed := legalEdges[from]
		for _, to := range subscription.Statuses() {
			if from == to {
				continue
			}

			err := subscription.AssertValidTransition(from, to, "sub_1")
			if contains(allowed, to) {
				assert.NoError(t, err, "%s -> %s should be legal", from, to)
				assert.True(t, subscription.IsValidTransition(from, to))
				continue
			}

			require.Error(t, err, "%s -> %s should be rejected", from, to)
			assert.ErrorIs(t, err, subscription.ErrInvalidStatusTransition)
			assert.False(t, subscription.IsValidTransition(from, to))

			var transitionErr *subscription.InvalidTransitionError
			require.True(t, errors.As(err, &transitionErr))
			assert.Equal(t, from, transitionErr.From)
			assert.Equal(t, to, transitionErr.To)
			assert.Equal(t, "sub_1", transitionErr.SubscriptionID)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, subscription.IsTerminal(subscription.StatusCanceled))
	assert.True(t, subscription.IsTerminal(subscription.StatusIncompleteExpired))
	assert.False(t, subscription.IsTerminal(subscription.StatusActive))
	assert.False(t, subscription.IsTerminal(subscription.StatusPastDue))
	assert.False(t, subscription.IsTerminal(subscription.SubscriptionStatus("bogus")))

	for _, status := range subscription.Statuses() {
		assert.Equal(t, len(legalEdges[status]) == 0, subscription.IsTerminal(status), "status %s", status)
	}
}

func TestValidTransitions(t *testing.T) {
	t.Parallel()

	t.Run("returns sorted copy", func(t *testing.T) {
		t.Parallel()
		got := subscription.ValidTransitions(subscription.StatusPastDue)
		assert.Equal(t, []subscription.SubscriptionStatus{
			subscription.StatusActive,
			subscription.StatusCanceled,
			subscription.StatusUnpaid,
		}, got)

		got[0] = subscription.StatusPaused
		assert.False(t, subscription.IsValidTransition(subscription.StatusPastDue, subscription.StatusPaused))
	})

	t.Run("terminal status has no targets", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, subscription.ValidTransitions(subscription.StatusCanceled))
		assert.NotNil(t, subscription.ValidTransitions(subscription.SubscriptionStatus("bogus")))
	})
}

func TestInvalidTransitionError_Message(t *testing.T) {
	t.Parallel()

	err := subscription.NewInvalidTransitionError(subscription.StatusCanceled, subscription.StatusActive, "sub_9")
	assert.Contains(t, err.Error(), "canceled")
	assert.Contains(t, err.Error(), "active")
	assert.Contains(t, err.Error(), "sub_9")
	assert.True(t, subscription.IsInvalidTransitionError(err))
	assert.False(t, subscription.IsInvalidTransitionError(errors.New("other")))

	anonymous := subscription.NewInvalidTransitionError(subscription.StatusCanceled, subscription.StatusActive, "")
	assert.NotContains(t, anonymous.Error(), "subscription ''")
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    subscription.SubscriptionStatus
		wantErr bool
	}{
		{raw: "active", want: subscription.StatusActive},
		{raw: " PAST_DUE ", want: subscription.StatusPastDue},
		{raw: "cancelled", want: subscription.StatusCanceled},
		{raw: "canceled", want: subscription.StatusCanceled},
		{raw: "incomplete_expired", want: subscription.StatusIncompleteExpired},
		{raw: "expired", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := subscription.ParseStatus(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, subscription.ErrUnknownStatus)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventType_TargetStatus(t *testing.T) {
	t.Parallel()

	status, ok := subscription.EventPaymentFailed.TargetStatus()
	assert.True(t, ok)
	assert.Equal(t, subscription.StatusPastDue, status)

	status, ok = subscription.EventSubscriptionCanceled.TargetStatus()
	assert.True(t, ok)
	assert.Equal(t, subscription.StatusCanceled, status)

	_, ok = subscription.EventSubscriptionUpdated.TargetStatus()
	assert.False(t, ok)
	_, ok = subscription.EventUnknown.TargetStatus()
	assert.False(t, ok)
}

func contains(list []subscription.SubscriptionStatus, s subscription.SubscriptionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
