package lifecycle

import (
	"context"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// ProcessRenewals charges every active subscription whose period has ended.
// A paid renewal starts the next period at the old period end; a declined
// one moves the subscription to past_due and schedules the first retry.
// Subscriptions flagged CancelAtPeriodEnd are canceled without a charge,
// and so are flagged trials and past_due subscriptions.
func (e *Engine) ProcessRenewals(ctx context.Context) (Result, error) {
	return e.run(ctx, OperationRenewals, true, e.store.FindSubscriptionsNeedingRenewal, e.renew)
}

func (e *Engine) renew(ctx context.Context, b *batch, sub *subscription.Subscription) Detail {
	if sub.CancelAtPeriodEnd {
		return e.cancelAtPeriodEnd(ctx, b, sub, subscription.StatusActive, sub.CurrentPeriodEnd)
	}
	if err := eligible(sub, subscription.StatusActive, subscription.StatusActive); err != nil {
		return failed(sub.ID, err)
	}

	plan, err := b.plan(sub)
	if err != nil {
		return failed(sub.ID, err)
	}

	var pm *PaymentMethod
	if !plan.IsFree() {
		pm, err = e.resolvePaymentMethod(ctx, sub)
		if err != nil {
			return failed(sub.ID, err)
		}
		if pm == nil {
			e.emit(ctx, sub, EventRenewalFailed, paymentData(plan, PaymentResult{Error: ErrNoPaymentMethod.Error()}, map[string]any{
				"reason": "no_payment_method",
			}))
			return failed(sub.ID, ErrNoPaymentMethod)
		}
	}

	res, err := e.charge(ctx, sub, plan, pm, PaymentRenewal, sub.CurrentPeriodEnd, 0)
	if err != nil {
		return failed(sub.ID, err)
	}
	if !res.Success {
		return e.enterPastDue(ctx, b, sub, plan, EventRenewalFailed, res)
	}

	start := sub.CurrentPeriodEnd
	anchorDay := sub.AnchorDay(start)
	end := plan.NextPeriodEnd(start, anchorDay)
	updated, err := e.transition(ctx, sub, subscription.StatusActive, activeFields(start, end, anchorDay))
	if err != nil {
		return failed(sub.ID, e.chargedButNotSaved(ctx, sub, res, err))
	}

	e.emit(ctx, updated, EventRenewed, paymentData(plan, res, map[string]any{
		"period_start": start,
		"period_end":   end,
	}))
	return succeeded(sub.ID)
}

// cancelAtPeriodEnd cancels a subscription the customer asked to end,
// without charging. periodEnd is the end of the last period they had.
func (e *Engine) cancelAtPeriodEnd(ctx context.Context, b *batch, sub *subscription.Subscription, from subscription.SubscriptionStatus, periodEnd time.Time) Detail {
	if err := eligible(sub, subscription.StatusCanceled, from); err != nil {
		return failed(sub.ID, err)
	}

	now := b.now
	updated, err := e.transition(ctx, sub, subscription.StatusCanceled, UpdateFields{
		CanceledAt:       &now,
		ClearNextRetryAt: true,
	})
	if err != nil {
		return failed(sub.ID, err)
	}

	e.emit(ctx, updated, EventCanceledAtPeriodEnd, map[string]any{
		"period_end":  periodEnd,
		"prior_status": string(from),
	})
	return succeeded(sub.ID)
}
