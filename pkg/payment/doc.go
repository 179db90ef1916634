// Package payment implements lifecycle.PaymentProcessor for Stripe and Paddle
// and decodes their webhooks into subscription.WebhookEvent values.
//
// Stripe charges are off-session PaymentIntents confirmed immediately:
//
//	proc, err := payment.NewStripe(payment.StripeConfig{SecretKey: key})
//	res, err := proc.ProcessPayment(ctx, input)
//
// Paddle charges are automatically collected transactions; Paddle reports
// the final outcome through transaction webhooks.
//
// Any processor can be wrapped with Guarded to add a rate limit, a bulkhead,
// a circuit breaker, a call timeout and retries of transport errors:
//
//	guarded := payment.NewGuarded(proc,
//	    payment.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.DefaultCircuitConfig())),
//	    payment.WithCallTimeout(15*time.Second),
//	    payment.WithRetry(resilience.DefaultRetryConfig()),
//	)
package payment
