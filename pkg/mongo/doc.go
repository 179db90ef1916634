// Package mongo connects to MongoDB with the official v2 driver.
//
// New retries the initial connection with exponential backoff and verifies it
// with a ping. NewWithDatabase returns the configured database handle, which
// mongostore uses for the subscriptions collection:
//
//	db, err := mongo.NewWithDatabase(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	store := mongostore.New(db)
//
// Healthcheck returns a resilience.CheckFunc for health endpoints.
package mongo
