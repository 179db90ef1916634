package lifecycle

import (
	"context"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// ProcessCancellations ends subscriptions that stayed past_due longer than
// the grace period with no retry left. In CancellationImmediate mode they
// pass through unpaid to canceled in one run; in CancellationDeferred mode
// they stop at unpaid and are canceled by a later run.
func (e *Engine) ProcessCancellations(ctx context.Context) (Result, error) {
	find := func(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
		return e.store.FindPastDueExceedingGracePeriod(ctx, addDays(now, -e.cfg.GracePeriodDays))
	}
	return e.run(ctx, OperationCancellations, false, find, e.cancelForNonpayment)
}

func (e *Engine) cancelForNonpayment(ctx context.Context, b *batch, sub *subscription.Subscription) Detail {
	if err := eligible(sub, subscription.StatusCanceled, subscription.StatusPastDue, subscription.StatusUnpaid); err != nil {
		return failed(sub.ID, err)
	}

	current := sub
	if current.Status == subscription.StatusPastDue {
		updated, err := e.transition(ctx, current, subscription.StatusUnpaid, UpdateFields{ClearNextRetryAt: true})
		if err != nil {
			return failed(sub.ID, err)
		}
		current = updated

		if e.cfg.CancellationMode == CancellationDeferred {
			e.emit(ctx, current, EventMarkedUnpaid, dunningData(current))
			return succeeded(sub.ID)
		}
	}

	now := b.now
	updated, err := e.transition(ctx, current, subscription.StatusCanceled, UpdateFields{CanceledAt: &now})
	if err != nil {
		return failed(sub.ID, err)
	}
	e.emit(ctx, updated, EventCanceledNonpayment, dunningData(updated))
	return succeeded(sub.ID)
}

func dunningData(sub *subscription.Subscription) map[string]any {
	data := map[string]any{
		"plan_id":     sub.PlanID,
		"retry_count": sub.RetryCount,
	}
	if sub.PastDueSince != nil {
		data["past_due_since"] = *sub.PastDueSince
	}
	return data
}
