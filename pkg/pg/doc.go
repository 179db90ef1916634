// Package pg connects to PostgreSQL with pgx/v5 and applies goose migrations.
//
// Connect opens a *pgxpool.Pool, retrying with exponential backoff until the
// database answers a ping. Migrate runs migrations from any fs.FS, which lets
// storage packages ship their schema with go:embed:
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations, "migrations", cfg, log); err != nil {
//		return err
//	}
//
// Healthcheck returns a resilience.CheckFunc for the worker health endpoint.
// IsNotFoundError and IsDuplicateKeyError classify driver errors.
package pg
