// Package resilience provides the fault-handling primitives used around calls
// to payment providers and other unreliable dependencies: circuit breaker,
// retry with exponential backoff, bulkhead, timeouts and health aggregation.
//
// Each primitive has a pure form that takes a state snapshot and returns a new
// one, which makes the policies trivial to test and to persist:
//
//	cfg := resilience.CircuitConfig{FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: time.Minute}
//	s := resilience.NewCircuitBreakerState(now)
//	if resilience.AllowsRequest(s, cfg, now) {
//	    s = resilience.RecordFailure(s, cfg, now)
//	}
//
// and a small concurrent wrapper (CircuitBreaker, Bulkhead, Do, WithTimeout)
// holding the latest snapshot for in-process use:
//
//	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitConfig())
//	err := breaker.Execute(ctx, func(ctx context.Context) error {
//	    return resilience.WithTimeout(ctx, 10*time.Second, charge)
//	})
//	if errors.Is(err, resilience.ErrCircuitOpen) {
//	    // fail fast, provider is degraded
//	}
//
// Rejections from the pure functions are plain values (bool, Admission). The
// wrappers turn them into the sentinel errors ErrCircuitOpen, ErrBulkheadFull,
// ErrTimeout and ErrRetriesExhausted.
//
// A timeout is always reported as a failure. The call may still have taken
// effect on the remote side, so retried calls must carry an idempotency key.
package resilience
