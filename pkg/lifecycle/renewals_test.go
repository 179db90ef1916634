package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

func TestProcessRenewals_Success(t *testing.T) {
	t.Parallel()

	original := activeSub("sub_1")
	h := newHarness(t, lifecycle.DefaultConfig(), original)

	res, err := h.engine.ProcessRenewals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.OperationRenewals, res.Operation)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, []lifecycle.Detail{{SubscriptionID: "sub_1", Success: true}}, res.Details)

	sub := h.get(t, "sub_1")
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Equal(t, original.CurrentPeriodEnd, sub.CurrentPeriodStart)
	assert.Equal(t, original.CurrentPeriodEnd.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
	assert.Equal(t, t0, sub.UpdatedAt)

	calls := h.proc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(2900), calls[0].Amount)
	assert.Equal(t, "USD", calls[0].Currency)
	assert.Equal(t, "pm_sub_1", calls[0].PaymentMethodID)
	assert.Equal(t, lifecycle.IdempotencyKey("sub_1", lifecycle.PaymentRenewal, original.CurrentPeriodEnd, 0), calls[0].IdempotencyKey)
	assert.Equal(t, lifecycle.PaymentMetadata{
		SubscriptionID: "sub_1",
		CustomerID:     "cus_sub_1",
		PlanID:         "price_pro_monthly",
		Type:           lifecycle.PaymentRenewal,
	}, calls[0].Metadata)

	assert.Equal(t, []lifecycle.EventType{lifecycle.EventRenewed}, h.events.Types())
}

func TestProcessRenewals_KeepsMonthEndAnchor(t *testing.T) {
	t.Parallel()

	sub := activeSub("sub_1")
	sub.CurrentPeriodStart = time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC)
	sub.CurrentPeriodEnd = time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, lifecycle.DefaultConfig(), sub)

	_, err := h.engine.ProcessRenewals(context.Background())
	require.NoError(t, err)
	stored := h.get(t, "sub_1")
	assert.Equal(t, time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC), stored.CurrentPeriodEnd)
	assert.Equal(t, 31, stored.BillingAnchorDay)

	// The Feb 28 period is also over at t0.
	_, err = h.engine.ProcessRenewals(context.Background())
	require.NoError(t, err)
	stored = h.get(t, "sub_1")
	assert.Equal(t, time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC), stored.CurrentPeriodStart)
	assert.Equal(t, time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC), stored.CurrentPeriodEnd)
	assert.Len(t, h.proc.Calls(), 2)
}

func TestProcessRenewals_NotDueYet(t *testing.T) {
	t.Parallel()

	sub := activeSub("sub_1")
	sub.CurrentPeriodEnd = t0.Add(day)
	h := newHarness(t, lifecycle.DefaultConfig(), sub)

	res, err := h.engine.ProcessRenewals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Empty(t, h.proc.Calls())
}

func TestProcessRenewals_Declined(t *testing.T) {
	t.Parallel()

	h := newHarness(t, lifecycle.DefaultConfig(), activeSub("sub_1"))
	h.proc.results = []lifecycle.PaymentResult{declined()}

	res, err := h.engine.ProcessRenewals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Details, 1)
	assert.ErrorIs(t, res.Details[0].Err, lifecycle.ErrPaymentDeclined)
	assert.Contains(t, res.Details[0].Error, "card declined")

	sub := h.get(t, "sub_1")
	assert.Equal(t, subscription.StatusPastDue, sub.Status)
	require.NotNil(t, sub.PastDueSince)
	assert.Equal(t, t0, *sub.PastDueSince)
	require.NotNil(t, sub.NextRetryAt)
	assert.Equal(t, t0.AddDate(0, 0, 1), *sub.NextRetryAt)
	assert.Zero(t, sub.RetryCount)

	events := h.events.Events()
	require.Len(t, events, 2)
	assert.Equal(t, lifecycle.EventRenewalFailed, events[0].Type)
	assert.Equal(t, "insufficient_funds", events[0].Data["decline_code"])
	assert.Equal(t, lifecycle.EventRetryScheduled, events[1].Type)
	assert.Equal(t, 1, events[1].Data["attempt"])
	assert.Equal(t, t0.AddDate(0, 0, 1), events[1].Data["next_retry_at"])
}

func TestProcessRenewals_DeclinedWithoutRetries(t *testing.T) {
	t.Parallel()

	cfg := lifecycle.DefaultConfig()
	cfg.RetryIntervals = nil
	h := newHarness(t, cfg, activeSub("sub_1"))
	h.proc.results = []lifecycle.PaymentResult{declined()}

	_, err := h.engine.ProcessRenewals(context.Background())
	require.NoError(t, err)

	sub := h.get(t, "sub_1")
	assert.Equal(t, subscription.StatusPastDue, sub.Status)
	assert.Nil(t, sub.NextRetryAt)
	assert.Equal(t, []lifecycle.EventType{
		lifecycle.EventRenewalFailed,
		lifecycle.EventEnteredGracePeriod,
	}, h.events.Types())

	grace := h.events.Events()[1]
	assert.Equal(t, t0.AddDate(0, 0, 7), grace.Data["grace_period_ends_at"])
}

func TestProcessRenewals_TransportErrorLeavesStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, lifecycle.DefaultConfig(), activeSub("sub_1"))
	transport := errors.New("dial tcp: i/o timeout")
	h.proc.err = transport

	res, err := h.engine.ProcessRenewals(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Details, 1)
	assert.ErrorIs(t, res.Details[0].Err, transport)

	sub := h.get(t, "sub_1")
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Nil(t, sub.PastDueSince)
	assert.Empty(t, h.events.Types())
}

func TestProcessRenewals_NoPaymentMethod(t *testing.T) {
	t.Parallel()

	sub := activeSub("sub_1")
	sub.DefaultPaymentMethodID = ""
	h := newHarness(t, lifecycle.DefaultConfig(), sub)

	res, err := h.engine.ProcessRenewals(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Details, 1)
	assert.ErrorIs(t, res.Details[0].Err, lifecycle.ErrNoPaymentMethod)

	assert.Equal(t, subscription.StatusActive, h.get(t, "sub_1").Status)
	assert.Empty(t, h.proc.Calls())

	events := h.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, lifecycle.EventRenewalFailed, events[0].Type)
	assert.Equal(t, "no_payment_method", events[0].Data["reason"])
}

func TestProcessRenewals_CancelAtPeriodEnd(t *testing.T) {
	t.Parallel()

	sub := activeSub("sub_1")
	sub.CancelAtPeriodEnd = true
	h := newHarness(t, lifecycle.DefaultConfig(), sub)

	res, err := h.engine.ProcessRenewals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Empty(t, h.proc.Calls())

	stored := h.get(t, "sub_1")
	assert.Equal(t, subscription.StatusCanceled, stored.Status)
	require.NotNil(t, stored.CanceledAt)
	assert.Equal(t, t0, *stored.CanceledAt)
	assert.Equal(t, []lifecycle.EventType{lifecycle.EventCanceledAtPeriodEnd}, h.events.Types())
}

func TestProcessRenewals_FreePlan(t *testing.T) {
	t.Parallel()

	sub := activeSub("sub_1")
	sub.PlanID = freeMonthly().ID
	sub.DefaultPaymentMethodID = ""
	h := newHarness(t, lifecycle.DefaultConfig(), sub)

	res, err := h.engine.ProcessRenewals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Empty(t, h.proc.Calls())
	assert.Equal(t, sub.CurrentPeriodEnd.AddDate(0, 1, 0), h.get(t, "sub_1").CurrentPeriodEnd)
}

func TestProcessRenewals_PlanProblems(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		planID string
		want   error
	}{
		{name: "unknown plan", planID: "price_gone", want: subscription.ErrPlanNotFound},
		{name: "plan without interval", planID: lifetime().ID, want: lifecycle.ErrPlanNotRenewable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sub := activeSub("sub_1")
			sub.PlanID = tt.planID
			h := newHarness(t, lifecycle.DefaultConfig(), sub)

			res, err := h.engine.ProcessRenewals(context.Background())
			require.NoError(t, err)
			require.Len(t, res.Details, 1)
			assert.ErrorIs(t, res.Details[0].Err, tt.want)
			assert.Empty(t, h.proc.Calls())
			assert.Equal(t, subscription.StatusActive, h.get(t, "sub_1").Status)
		})
	}
}

func TestProcessRenewals_OneFailureDoesNotStopBatch(t *testing.T) {
	t.Parallel()

	broken := activeSub("sub_a")
	broken.PlanID = "price_gone"
	h := newHarness(t, lifecycle.DefaultConfig(), broken, activeSub("sub_b"))

	res, err := h.engine.ProcessRenewals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, subscription.StatusActive, h.get(t, "sub_b").Status)
}
