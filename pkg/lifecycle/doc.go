// Package lifecycle implements the subscription lifecycle engine: renewals,
// trial conversions, payment retries and cancellations for nonpayment.
//
// An Engine reads eligible subscriptions from a Store, charges them through a
// PaymentProcessor and persists each status change before emitting the
// matching Event. Every write is checked against the transition table in
// package subscription and guarded by the status the row was read with, so a
// concurrent change surfaces as ErrStaleSubscription instead of being
// overwritten.
//
//	engine, err := lifecycle.New(cfg, store, processor, plans,
//	    lifecycle.WithLogger(log),
//	    lifecycle.WithEventHandler(lifecycle.LogHandler(log)),
//	)
//	if err != nil {
//	    return err
//	}
//	results, err := engine.ProcessAll(ctx)
//
// Dunning works in day offsets from the first failed charge. With the default
// RetryIntervals of 1,3,5 a declined renewal is retried one, three and five
// days later. When the last retry is declined the subscription stays past_due
// until GracePeriodDays have passed since that first failure, after which
// ProcessCancellations marks it unpaid and cancels it (CancellationImmediate)
// or leaves the cancel to a later run (CancellationDeferred).
//
// Failures of a single subscription never abort a batch; they are reported in
// Result.Details. Only scan failures and context cancellation are returned as
// errors.
//
// Runner drives ProcessAll on a Schedule and can be guarded by a Locker so
// that only one process runs a pass at a time. MemoryStore is an in-process
// Store for tests and development; pgstore and mongostore provide durable ones.
package lifecycle
