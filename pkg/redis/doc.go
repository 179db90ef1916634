// Package redis connects to Redis with go-redis and provides a distributed
// lock for the lifecycle runner.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	runner := lifecycle.NewRunner(engine, schedule,
//		lifecycle.WithLocker(redis.NewLocker(client, "billing:"), "lifecycle", 10*time.Minute),
//	)
//
// The lock is a single-node SET NX PX with a token-checked release. It keeps
// two workers from running the same batch at once; the engine's
// compare-and-set writes remain the correctness guarantee.
//
// Healthcheck returns a resilience.CheckFunc for health endpoints.
package redis
