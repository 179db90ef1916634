package lifecycle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

func ids(subs []*subscription.Subscription) []string {
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.ID)
	}
	return out
}

func TestMemoryStore_Find(t *testing.T) {
	t.Parallel()

	late := activeSub("sub_late")
	late.CurrentPeriodEnd = t0.Add(-2 * day)
	future := activeSub("sub_future")
	future.CurrentPeriodEnd = t0.Add(day)
	unpaid := pastDueSub("sub_unpaid", 3, nil)
	unpaid.Status = subscription.StatusUnpaid

	store := lifecycle.NewMemoryStore(
		activeSub("sub_b"), activeSub("sub_a"), late, future,
		trialSub("sub_trial"),
		pastDueSub("sub_retry", 0, ptr(t0)),
		pastDueSub("sub_grace", 3, nil),
		unpaid,
	)
	ctx := context.Background()

	renewals, err := store.FindSubscriptionsNeedingRenewal(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_late", "sub_a", "sub_b"}, ids(renewals))

	trials, err := store.FindTrialsNeedingConversion(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_trial"}, ids(trials))

	trials, err = store.FindTrialsNeedingConversion(ctx, t0.Add(-day))
	require.NoError(t, err)
	assert.Empty(t, trials)

	retries, err := store.FindPastDueNeedingRetry(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_retry"}, ids(retries))

	expired, err := store.FindPastDueExceedingGracePeriod(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_grace", "sub_unpaid"}, ids(expired))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	store := lifecycle.NewMemoryStore(activeSub("sub_1"))
	ctx := context.Background()

	subs, err := store.FindSubscriptionsNeedingRenewal(ctx, t0)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	subs[0].Status = subscription.StatusCanceled

	sub, err := store.Get(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)
}

func TestMemoryStore_UpdateSubscriptionStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("applies fields", func(t *testing.T) {
		t.Parallel()
		store := lifecycle.NewMemoryStore(activeSub("sub_1"))
		next := t0.Add(day)

		updated, err := store.UpdateSubscriptionStatus(ctx, "sub_1", subscription.StatusPastDue, lifecycle.UpdateFields{
			ExpectedStatus: subscription.StatusActive,
			PastDueSince:   ptr(t0),
			RetryCount:     ptr(0),
			NextRetryAt:    &next,
			UpdatedAt:      t0,
		})
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPastDue, updated.Status)
		assert.Equal(t, t0, *updated.PastDueSince)
		assert.Equal(t, next, *updated.NextRetryAt)
		assert.Equal(t, t0, updated.UpdatedAt)

		cleared, err := store.UpdateSubscriptionStatus(ctx, "sub_1", subscription.StatusActive, lifecycle.UpdateFields{
			ClearPastDueSince: true,
			ClearNextRetryAt:  true,
		})
		require.NoError(t, err)
		assert.Nil(t, cleared.PastDueSince)
		assert.Nil(t, cleared.NextRetryAt)
	})

	t.Run("rejects stale expected status", func(t *testing.T) {
		t.Parallel()
		store := lifecycle.NewMemoryStore(activeSub("sub_1"))

		_, err := store.UpdateSubscriptionStatus(ctx, "sub_1", subscription.StatusActive, lifecycle.UpdateFields{
			ExpectedStatus: subscription.StatusPastDue,
		})
		require.ErrorIs(t, err, lifecycle.ErrStaleSubscription)

		sub, err := store.Get(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, sub.Status)
	})

	t.Run("unknown subscription", func(t *testing.T) {
		t.Parallel()
		store := lifecycle.NewMemoryStore()

		_, err := store.UpdateSubscriptionStatus(ctx, "missing", subscription.StatusActive, lifecycle.UpdateFields{})
		require.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)

		_, err = store.Get(ctx, "missing")
		require.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})
}
