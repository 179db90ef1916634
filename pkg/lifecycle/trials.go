package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

var errMissingTrialEnd = errors.New("lifecycle: trialing subscription has no trial end")

// ProcessTrialConversions charges trialing subscriptions whose trial ended
// at least TrialConversionDays ago. A paid conversion starts the first period
// at the trial end. When the customer has no payment method the configured
// TrialPolicy decides what happens. A trial flagged CancelAtPeriodEnd is
// canceled without a charge.
func (e *Engine) ProcessTrialConversions(ctx context.Context) (Result, error) {
	find := func(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
		return e.store.FindTrialsNeedingConversion(ctx, addDays(now, -e.cfg.TrialConversionDays))
	}
	return e.run(ctx, OperationTrialConversions, true, find, e.convertTrial)
}

func (e *Engine) convertTrial(ctx context.Context, b *batch, sub *subscription.Subscription) Detail {
	if err := eligible(sub, subscription.StatusActive, subscription.StatusTrialing); err != nil {
		return failed(sub.ID, err)
	}
	if sub.TrialEnd == nil {
		return failed(sub.ID, errMissingTrialEnd)
	}
	if sub.CancelAtPeriodEnd {
		return e.cancelAtPeriodEnd(ctx, b, sub, subscription.StatusTrialing, *sub.TrialEnd)
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
			return e.trialWithoutPaymentMethod(ctx, b, sub, plan)
		}
	}

	anchor := *sub.TrialEnd
	res, err := e.charge(ctx, sub, plan, pm, PaymentTrialConversion, anchor, 0)
	if err != nil {
		return failed(sub.ID, err)
	}
	if !res.Success {
		return e.enterPastDue(ctx, b, sub, plan, EventTrialConversionFailed, res)
	}

	anchorDay := sub.AnchorDay(anchor)
	end := plan.NextPeriodEnd(anchor, anchorDay)
	updated, err := e.transition(ctx, sub, subscription.StatusActive, activeFields(anchor, end, anchorDay))
	if err != nil {
		return failed(sub.ID, e.chargedButNotSaved(ctx, sub, res, err))
	}

	e.emit(ctx, updated, EventTrialConverted, paymentData(plan, res, map[string]any{
		"trial_end":    anchor,
		"period_start": anchor,
		"period_end":   end,
	}))
	return succeeded(sub.ID)
}

func (e *Engine) trialWithoutPaymentMethod(ctx context.Context, b *batch, sub *subscription.Subscription, plan subscription.Plan) Detail {
	var (
		to     subscription.SubscriptionStatus
		fields UpdateFields
		action string
	)
	switch e.cfg.TrialMissingPaymentMethod {
	case TrialPause:
		to, action = subscription.StatusPaused, "paused"
	case TrialCancel:
		now := b.now
		to, action = subscription.StatusCanceled, "canceled"
		fields.CanceledAt = &now
	default:
		e.emit(ctx, sub, EventTrialConversionFailed, paymentData(plan, PaymentResult{Error: ErrNoPaymentMethod.Error()}, map[string]any{
			"reason": "no_payment_method",
		}))
		return failed(sub.ID, ErrNoPaymentMethod)
	}

	updated, err := e.transition(ctx, sub, to, fields)
	if err != nil {
		return failed(sub.ID, err)
	}
	e.emit(ctx, updated, EventTrialEndedWithoutPaymentMethod, map[string]any{
		"action":    action,
		"plan_id":   plan.ID,
		"trial_end": *sub.TrialEnd,
	})
	return succeeded(sub.ID)
}
