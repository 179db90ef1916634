package lifecycle

import (
	"context"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/resilience"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// ProcessRetries re-charges past_due subscriptions whose next retry is due.
// Retry n runs RetryIntervals[n-1] days after the first failed charge. A paid
// retry reactivates the subscription; after the last declined retry no new
// retry is scheduled and the subscription waits out the grace period.
// A past_due subscription flagged CancelAtPeriodEnd is canceled instead of
// charged again.
func (e *Engine) ProcessRetries(ctx context.Context) (Result, error) {
	return e.run(ctx, OperationRetries, true, e.store.FindPastDueNeedingRetry, e.retry)
}

func (e *Engine) retry(ctx context.Context, b *batch, sub *subscription.Subscription) Detail {
	if sub.CancelAtPeriodEnd {
		return e.cancelAtPeriodEnd(ctx, b, sub, subscription.StatusPastDue, sub.CurrentPeriodEnd)
	}
	if err := eligible(sub, subscription.StatusActive, subscription.StatusPastDue); err != nil {
		return failed(sub.ID, err)
	}
	if sub.PastDueSince == nil {
		return failed(sub.ID, ErrMissingRetryAnchor)
	}

	state := resilience.RetryState{
		Attempt:     sub.RetryCount,
		MaxAttempts: len(e.cfg.RetryIntervals),
		StartTime:   *sub.PastDueSince,
	}
	attempt := state.Attempt + 1

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
			return e.retryDeclined(ctx, sub, plan, state, PaymentResult{Error: ErrNoPaymentMethod.Error()})
		}
	}

	res, err := e.charge(ctx, sub, plan, pm, PaymentRetry, *sub.PastDueSince, attempt)
	if err != nil {
		return failed(sub.ID, err)
	}
	if !res.Success {
		return e.retryDeclined(ctx, sub, plan, state, res)
	}

	start := sub.CurrentPeriodEnd
	if start.IsZero() {
		start = b.now
	}
	anchorDay := sub.AnchorDay(start)
	end := plan.NextPeriodEnd(start, anchorDay)
	updated, err := e.transition(ctx, sub, subscription.StatusActive, activeFields(start, end, anchorDay))
	if err != nil {
		return failed(sub.ID, e.chargedButNotSaved(ctx, sub, res, err))
	}

	e.emit(ctx, updated, EventRetrySucceeded, paymentData(plan, res, map[string]any{
		"attempt":      attempt,
		"period_start": start,
		"period_end":   end,
	}))
	return succeeded(sub.ID)
}

// retryDeclined records a failed attempt and schedules the next one, if any is left.
func (e *Engine) retryDeclined(ctx context.Context, sub *subscription.Subscription, plan subscription.Plan, state resilience.RetryState, res PaymentResult) Detail {
	cause := declineError(res)
	state = resilience.AdvanceRetryState(state, resilience.RetryConfig{}, cause)

	count := state.Attempt
	f := UpdateFields{RetryCount: &count}
	var next time.Time
	if state.Exhausted {
		f.ClearNextRetryAt = true
	} else {
		next = addDays(*sub.PastDueSince, e.cfg.RetryIntervals[state.Attempt])
		f.NextRetryAt = &next
	}

	updated, err := e.transition(ctx, sub, subscription.StatusPastDue, f)
	if err != nil {
		return failed(sub.ID, err)
	}

	e.emit(ctx, updated, EventRetryFailed, paymentData(plan, res, map[string]any{
		"attempt": count,
	}))
	if state.Exhausted {
		e.emitGracePeriod(ctx, updated)
	} else {
		e.emit(ctx, updated, EventRetryScheduled, map[string]any{
			"attempt":       count + 1,
			"next_retry_at": next,
		})
	}
	return failed(sub.ID, cause)
}
