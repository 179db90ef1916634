package lifecycle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

func TestProcessTrialConversions_Success(t *testing.T) {
	t.Parallel()

	trial := trialSub("sub_1")
	h := newHarness(t, lifecycle.DefaultConfig(), trial)

	res, err := h.engine.ProcessTrialConversions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.OperationTrialConversions, res.Operation)
	assert.Equal(t, 1, res.Succeeded)

	sub := h.get(t, "sub_1")
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Equal(t, *trial.TrialEnd, sub.CurrentPeriodStart)
	assert.Equal(t, trial.TrialEnd.AddDate(0, 1, 0), sub.CurrentPeriodEnd)

	calls := h.proc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, lifecycle.PaymentTrialConversion, calls[0].Metadata.Type)
	assert.Equal(t, lifecycle.IdempotencyKey("sub_1", lifecycle.PaymentTrialConversion, *trial.TrialEnd, 0), calls[0].IdempotencyKey)

	assert.Equal(t, []lifecycle.EventType{lifecycle.EventTrialConverted}, h.events.Types())
}

func TestProcessTrialConversions_Declined(t *testing.T) {
	t.Parallel()

	h := newHarness(t, lifecycle.DefaultConfig(), trialSub("sub_1"))
	h.proc.results = []lifecycle.PaymentResult{declined()}

	res, err := h.engine.ProcessTrialConversions(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Details, 1)
	assert.ErrorIs(t, res.Details[0].Err, lifecycle.ErrPaymentDeclined)

	sub := h.get(t, "sub_1")
	assert.Equal(t, subscription.StatusPastDue, sub.Status)
	require.NotNil(t, sub.PastDueSince)
	assert.Equal(t, t0, *sub.PastDueSince)
	require.NotNil(t, sub.NextRetryAt)
	assert.Equal(t, t0.AddDate(0, 0, 1), *sub.NextRetryAt)

	assert.Equal(t, []lifecycle.EventType{
		lifecycle.EventTrialConversionFailed,
		lifecycle.EventRetryScheduled,
	}, h.events.Types())
}

func TestProcessTrialConversions_ConversionDelay(t *testing.T) {
	t.Parallel()

	cfg := lifecycle.DefaultConfig()
	cfg.TrialConversionDays = 2
	h := newHarness(t, cfg, trialSub("sub_1"))

	res, err := h.engine.ProcessTrialConversions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed)

	h.clock.Set(t0.Add(2 * day))
	res, err = h.engine.ProcessTrialConversions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
}

func TestProcessTrialConversions_MissingPaymentMethod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		policy     lifecycle.TrialPolicy
		wantStatus subscription.SubscriptionStatus
		wantEvent  lifecycle.EventType
		wantOK     bool
	}{
		{
			name:       "leave",
			policy:     lifecycle.TrialLeave,
			wantStatus: subscription.StatusTrialing,
			wantEvent:  lifecycle.EventTrialConversionFailed,
		},
		{
			name:       "pause",
			policy:     lifecycle.TrialPause,
			wantStatus: subscription.StatusPaused,
			wantEvent:  lifecycle.EventTrialEndedWithoutPaymentMethod,
			wantOK:     true,
		},
		{
			name:       "cancel",
			policy:     lifecycle.TrialCancel,
			wantStatus: subscription.StatusCanceled,
			wantEvent:  lifecycle.EventTrialEndedWithoutPaymentMethod,
			wantOK:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := lifecycle.DefaultConfig()
			cfg.TrialMissingPaymentMethod = tt.policy
			trial := trialSub("sub_1")
			trial.DefaultPaymentMethodID = ""
			h := newHarness(t, cfg, trial)

			res, err := h.engine.ProcessTrialConversions(context.Background())
			require.NoError(t, err)
			require.Len(t, res.Details, 1)
			assert.Equal(t, tt.wantOK, res.Details[0].Success)
			if !tt.wantOK {
				assert.ErrorIs(t, res.Details[0].Err, lifecycle.ErrNoPaymentMethod)
			}

			sub := h.get(t, "sub_1")
			assert.Equal(t, tt.wantStatus, sub.Status)
			assert.Equal(t, tt.wantStatus == subscription.StatusCanceled, sub.CanceledAt != nil)
			assert.Equal(t, []lifecycle.EventType{tt.wantEvent}, h.events.Types())
			assert.Empty(t, h.proc.Calls())
		})
	}
}

func TestProcessTrialConversions_FreePlanNeedsNoPaymentMethod(t *testing.T) {
	t.Parallel()

	trial := trialSub("sub_1")
	trial.PlanID = freeMonthly().ID
	trial.DefaultPaymentMethodID = ""
	h := newHarness(t, lifecycle.DefaultConfig(), trial)

	res, err := h.engine.ProcessTrialConversions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Empty(t, h.proc.Calls())
	assert.Equal(t, subscription.StatusActive, h.get(t, "sub_1").Status)
}

func TestProcessTrialConversions_CancelAtPeriodEnd(t *testing.T) {
	t.Parallel()

	trial := trialSub("sub_1")
	trial.CancelAtPeriodEnd = true
	h := newHarness(t, lifecycle.DefaultConfig(), trial)

	res, err := h.engine.ProcessTrialConversions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Empty(t, h.proc.Calls())

	stored := h.get(t, "sub_1")
	assert.Equal(t, subscription.StatusCanceled, stored.Status)
	require.NotNil(t, stored.CanceledAt)
	assert.Equal(t, t0, *stored.CanceledAt)

	events := h.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, lifecycle.EventCanceledAtPeriodEnd, events[0].Type)
	assert.Equal(t, *trial.TrialEnd, events[0].Data["period_end"])
	assert.Equal(t, "trialing", events[0].Data["prior_status"])
}

func TestProcessTrialConversions_CancelAtPeriodEndWithoutPaymentMethod(t *testing.T) {
	t.Parallel()

	trial := trialSub("sub_1")
	trial.CancelAtPeriodEnd = true
	trial.DefaultPaymentMethodID = ""
	h := newHarness(t, lifecycle.DefaultConfig(), trial)

	res, err := h.engine.ProcessTrialConversions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, subscription.StatusCanceled, h.get(t, "sub_1").Status)
	assert.Equal(t, []lifecycle.EventType{lifecycle.EventCanceledAtPeriodEnd}, h.events.Types())
}
