package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Engine drives subscriptions through renewals, trial conversions, payment
// retries and cancellations. It holds no subscription state between calls;
// every operation re-reads eligible rows from the Store.
type Engine struct {
	cfg      Config
	store    Store
	payments PaymentProcessor
	methods  PaymentMethodResolver
	plans    subscription.PlansListSource
	handlers []EventHandler
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
	newID    func() string

	emitMu sync.Mutex
}

// New creates an Engine.
// Panics if store, payments or plans is nil; returns an error for an invalid Config.
func New(cfg Config, store Store, payments PaymentProcessor, plans subscription.PlansListSource, opts ...Option) (*Engine, error) {
	if store == nil {
		panic("lifecycle: Store is required")
	}
	if payments == nil {
		panic("lifecycle: PaymentProcessor is required")
	}
	if plans == nil {
		panic("lifecycle: PlansListSource is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.RetryIntervals = slices.Clone(cfg.RetryIntervals)
	cfg.Concurrency = max(cfg.Concurrency, 1)

	e := &Engine{
		cfg:      cfg,
		store:    store,
		payments: payments,
		plans:    plans,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logger.Component("lifecycle"))

	return e, nil
}

// ProcessAll runs renewals, trial conversions, retries and cancellations in
// that order. A failed scan does not stop the following operations; scan
// errors are joined into the returned error. Per-subscription failures are
// only reported in the results.
func (e *Engine) ProcessAll(ctx context.Context) (AllResults, error) {
	start := time.Now()
	var (
		all  AllResults
		errs []error
	)

	steps := []struct {
		dst *Result
		fn  func(context.Context) (Result, error)
	}{
		{&all.Renewals, e.ProcessRenewals},
		{&all.TrialConversions, e.ProcessTrialConversions},
		{&all.Retries, e.ProcessRetries},
		{&all.Cancellations, e.ProcessCancellations},
	}
	for _, step := range steps {
		if ctx.Err() != nil {
			break
		}
		res, err := step.fn(ctx)
		*step.dst = res
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := ctx.Err(); err != nil && !slices.ContainsFunc(errs, func(e error) bool { return errors.Is(e, err) }) {
		errs = append(errs, err)
	}

	e.logger.InfoContext(ctx, "lifecycle run finished",
		slog.Int("failed", all.Failed()),
		logger.Duration(time.Since(start)),
		logger.Errors(errs...),
	)
	return all, errors.Join(errs...)
}

// batch is the per-operation snapshot shared by all subscriptions of one scan.
type batch struct {
	op    Operation
	now   time.Time
	plans map[string]subscription.Plan
}

func (b *batch) plan(sub *subscription.Subscription) (subscription.Plan, error) {
	plan, ok := b.plans[sub.PlanID]
	if !ok {
		return subscription.Plan{}, fmt.Errorf("%w: %q", subscription.ErrPlanNotFound, sub.PlanID)
	}
	if plan.Interval == subscription.BillingIntervalNone {
		return subscription.Plan{}, fmt.Errorf("%w: %q", ErrPlanNotRenewable, plan.ID)
	}
	return plan, nil
}

type (
	findFunc    func(ctx context.Context, now time.Time) ([]*subscription.Subscription, error)
	processFunc func(ctx context.Context, b *batch, sub *subscription.Subscription) Detail
)

func (e *Engine) run(ctx context.Context, op Operation, needPlans bool, find findFunc, process processFunc) (Result, error) {
	start := time.Now()
	res := Result{Operation: op, Details: []Detail{}}
	b := &batch{op: op, now: e.now()}
	log := e.logger.With(logger.Operation(string(op)))

	if needPlans {
		plans, err := subscription.LoadPlans(ctx, e.plans)
		if err != nil {
			log.ErrorContext(ctx, "failed to load plans", logger.Error(err))
			return res, fmt.Errorf("%s: %w", op, err)
		}
		b.plans = plans
	}

	subs, err := find(ctx, b.now)
	if err != nil {
		log.ErrorContext(ctx, "failed to scan subscriptions", logger.Error(err))
		return res, fmt.Errorf("%s: scan subscriptions: %w", op, err)
	}
	subs = uniqueByID(subs)

	details := make([]Detail, len(subs))
	done := make([]bool, len(subs))

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			details[i] = e.processOne(ctx, log, b, sub, process)
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()

	for i := range subs {
		if done[i] {
			res.add(details[i])
		}
	}

	elapsed := time.Since(start)
	e.metrics.observeOperation(res, elapsed, e.now())
	log.InfoContext(ctx, "lifecycle operation finished",
		logger.Counts(res.Processed, res.Succeeded, res.Failed),
		logger.Duration(elapsed),
	)

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

func (e *Engine) processOne(ctx context.Context, log *slog.Logger, b *batch, sub *subscription.Subscription, process processFunc) (d Detail) {
	defer func() {
		if r := recover(); r != nil {
			d = failed(sub.ID, fmt.Errorf("panic while processing subscription: %v", r))
			log.ErrorContext(ctx, "subscription processing panicked",
				logger.SubscriptionID(sub.ID),
				slog.Any("panic", r),
			)
		}
	}()

	d = process(ctx, b, sub.Clone())
	if d.Success {
		log.DebugContext(ctx, "subscription processed", logger.SubscriptionID(sub.ID))
	} else {
		log.WarnContext(ctx, "subscription processing failed",
			logger.SubscriptionID(sub.ID),
			logger.CustomerID(sub.CustomerID),
			logger.Error(d.Err),
		)
	}
	return d
}

func uniqueByID(subs []*subscription.Subscription) []*subscription.Subscription {
	seen := make(map[string]struct{}, len(subs))
	out := make([]*subscription.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		if _, dup := seen[sub.ID]; dup {
			continue
		}
		seen[sub.ID] = struct{}{}
		out = append(out, sub)
	}
	return out
}

// eligible rejects rows whose stored status no longer matches the scan.
// A target the table forbids yields an *InvalidTransitionError, any other
// mismatch ErrStaleSubscription.
func eligible(sub *subscription.Subscription, target subscription.SubscriptionStatus, expected ...subscription.SubscriptionStatus) error {
	if err := subscription.AssertValidTransition(sub.Status, target, sub.ID); err != nil {
		return err
	}
	if !slices.Contains(expected, sub.Status) {
		return fmt.Errorf("%w: subscription %s is %s", ErrStaleSubscription, sub.ID, sub.Status)
	}
	return nil
}

// transition validates and persists a status change, guarded by the status the row was read with.
func (e *Engine) transition(ctx context.Context, sub *subscription.Subscription, to subscription.SubscriptionStatus, f UpdateFields) (*subscription.Subscription, error) {
	if err := subscription.AssertValidTransition(sub.Status, to, sub.ID); err != nil {
		return nil, err
	}

	f.ExpectedStatus = sub.Status
	f.UpdatedAt = e.now()
	updated, err := e.store.UpdateSubscriptionStatus(ctx, sub.ID, to, f)
	if err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}
	if updated == nil {
		updated = sub.Clone()
		ApplyUpdate(updated, to, f)
	}

	if sub.Status != to {
		e.logger.InfoContext(ctx, "subscription status changed",
			logger.SubscriptionID(sub.ID),
			logger.Transition(sub.Status, to),
		)
	}
	return updated, nil
}

func (e *Engine) emit(ctx context.Context, sub *subscription.Subscription, t EventType, data map[string]any) {
	event := Event{
		ID:             e.newID(),
		Type:           t,
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		OccurredAt:     e.now(),
		Data:           data,
	}
	e.metrics.observeEvent(t)

	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	for _, h := range e.handlers {
		e.callHandler(ctx, h, event)
	}
}

func (e *Engine) callHandler(ctx context.Context, h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "event handler panicked",
				logger.EventType(string(event.Type)),
				logger.SubscriptionID(event.SubscriptionID),
				slog.Any("panic", r),
			)
		}
	}()

	if err := h(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "event handler failed",
			logger.EventType(string(event.Type)),
			logger.SubscriptionID(event.SubscriptionID),
			logger.Error(err),
		)
	}
}

// resolvePaymentMethod asks the resolver first and falls back to the
// subscription's own default payment method. Nil means none is available.
func (e *Engine) resolvePaymentMethod(ctx context.Context, sub *subscription.Subscription) (*PaymentMethod, error) {
	if e.methods != nil {
		pm, err := e.methods.DefaultPaymentMethod(ctx, sub.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("resolve payment method: %w", err)
		}
		if pm != nil {
			return pm, nil
		}
	}
	if sub.DefaultPaymentMethodID != "" {
		return &PaymentMethod{
			ID:                      sub.DefaultPaymentMethodID,
			ProviderPaymentMethodID: sub.DefaultPaymentMethodID,
		}, nil
	}
	return nil, nil
}

// charge bills one period of plan. Free plans succeed without calling the processor.
func (e *Engine) charge(ctx context.Context, sub *subscription.Subscription, plan subscription.Plan, pm *PaymentMethod, kind PaymentType, anchor time.Time, attempt int) (PaymentResult, error) {
	if plan.IsFree() {
		return PaymentResult{Success: true}, nil
	}

	input := PaymentInput{
		Amount:             plan.Price.Amount,
		Currency:           plan.Price.Currency,
		PaymentMethodID:    pm.ProviderPaymentMethodID,
		ProviderCustomerID: pm.ProviderCustomerID,
		IdempotencyKey:     IdempotencyKey(sub.ID, kind, anchor, attempt),
		Metadata: PaymentMetadata{
			SubscriptionID: sub.ID,
			CustomerID:     sub.CustomerID,
			PlanID:         plan.ID,
			Type:           kind,
		},
	}

	res, err := e.payments.ProcessPayment(ctx, input)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("process %s payment: %w", kind, err)
	}
	return res, nil
}

// enterPastDue moves a subscription whose charge was declined to past_due
// and schedules the first retry.
func (e *Engine) enterPastDue(ctx context.Context, b *batch, sub *subscription.Subscription, plan subscription.Plan, failedEvent EventType, res PaymentResult) Detail {
	now := b.now
	zero := 0
	f := UpdateFields{PastDueSince: &now, RetryCount: &zero}

	var next *time.Time
	if len(e.cfg.RetryIntervals) > 0 {
		t := addDays(now, e.cfg.RetryIntervals[0])
		next = &t
		f.NextRetryAt = next
	} else {
		f.ClearNextRetryAt = true
	}

	cause := declineError(res)
	updated, err := e.transition(ctx, sub, subscription.StatusPastDue, f)
	if err != nil {
		return failed(sub.ID, errors.Join(cause, err))
	}

	e.emit(ctx, updated, failedEvent, paymentData(plan, res, nil))
	if next != nil {
		e.emit(ctx, updated, EventRetryScheduled, map[string]any{
			"attempt":       1,
			"next_retry_at": *next,
		})
	} else {
		e.emitGracePeriod(ctx, updated)
	}
	return failed(sub.ID, cause)
}

// chargedButNotSaved reports a successful charge whose state change could not
// be written. The next run repeats the charge with the same idempotency key.
func (e *Engine) chargedButNotSaved(ctx context.Context, sub *subscription.Subscription, res PaymentResult, err error) error {
	e.logger.ErrorContext(ctx, "payment captured but subscription update failed",
		logger.SubscriptionID(sub.ID),
		logger.PaymentID(res.PaymentID),
		logger.Error(err),
	)
	return fmt.Errorf("payment %s captured: %w", res.PaymentID, err)
}

func (e *Engine) emitGracePeriod(ctx context.Context, sub *subscription.Subscription) {
	data := map[string]any{"retry_count": sub.RetryCount}
	if sub.PastDueSince != nil {
		data["past_due_since"] = *sub.PastDueSince
		data["grace_period_ends_at"] = addDays(*sub.PastDueSince, e.cfg.GracePeriodDays)
	}
	e.emit(ctx, sub, EventEnteredGracePeriod, data)
}

func declineError(res PaymentResult) error {
	reason := res.Error
	if reason == "" {
		reason = "no reason given"
	}
	if res.DeclineCode != "" {
		return fmt.Errorf("%w (%s): %s", ErrPaymentDeclined, res.DeclineCode, reason)
	}
	return fmt.Errorf("%w: %s", ErrPaymentDeclined, reason)
}

func paymentData(plan subscription.Plan, res PaymentResult, extra map[string]any) map[string]any {
	data := map[string]any{
		"plan_id":  plan.ID,
		"amount":   plan.Price.Amount,
		"currency": plan.Price.Currency,
	}
	if res.PaymentID != "" {
		data["payment_id"] = res.PaymentID
	}
	if !res.Success {
		data["error"] = res.Error
		if res.DeclineCode != "" {
			data["decline_code"] = res.DeclineCode
		}
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// activeFields resets dunning bookkeeping and starts a new period.
func activeFields(start, end time.Time, anchorDay int) UpdateFields {
	zero := 0
	return UpdateFields{
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		BillingAnchorDay:   &anchorDay,
		ClearPastDueSince:  true,
		RetryCount:         &zero,
		ClearNextRetryAt:   true,
	}
}

func addDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}
