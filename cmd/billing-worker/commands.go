package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// ErrRunHadFailures is returned by once --strict when any subscription failed.
var ErrRunHadFailures = errors.New("lifecycle run had failed subscriptions")

// withContainer loads settings, builds a container, runs fn and shuts the container down.
func withContainer(ctx context.Context, loadOpts []config.Option, fn func(*container) error) (err error) {
	s, err := loadSettings(loadOpts...)
	if err != nil {
		return err
	}
	c, err := newContainer(s, loadOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Shutdown(context.WithoutCancel(ctx)); cerr != nil {
			c.logger.ErrorContext(ctx, "shutdown failed", logger.Error(cerr))
			err = errors.Join(err, cerr)
		}
	}()
	return fn(c)
}

// runWorker runs scheduled passes and the ops server until ctx is canceled.
func runWorker(ctx context.Context, loadOpts []config.Option) error {
	return withContainer(ctx, loadOpts, func(c *container) error {
		engine, err := c.engine(ctx)
		if err != nil {
			return err
		}
		runner, err := c.runner(ctx, engine)
		if err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := runner.Start(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			return c.opsServer().Run(ctx, c.opsRouter())
		})
		return g.Wait()
	})
}

// runOnce performs one locked pass and writes the results to out.
func runOnce(ctx context.Context, loadOpts []config.Option, out io.Writer, asJSON, strict bool) error {
	return withContainer(ctx, loadOpts, func(c *container) error {
		engine, err := c.engine(ctx)
		if err != nil {
			return err
		}
		runner, err := c.runner(ctx, engine)
		if err != nil {
			return err
		}

		res, err := runner.RunOnce(ctx)
		if errors.Is(err, lifecycle.ErrRunInProgress) {
			fmt.Fprintln(out, "skipped: another run holds the lock")
			return nil
		}
		if werr := writeResults(out, res, asJSON); werr != nil {
			return errors.Join(err, werr)
		}
		if err != nil {
			return err
		}
		if strict && res.Failed() > 0 {
			return fmt.Errorf("%w: %d", ErrRunHadFailures, res.Failed())
		}
		return nil
	})
}

func writeResults(out io.Writer, res lifecycle.AllResults, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	for _, r := range res.Results() {
		if _, err := fmt.Fprintf(out, "%-18s processed=%d succeeded=%d failed=%d\n",
			r.Operation, r.Processed, r.Succeeded, r.Failed); err != nil {
			return err
		}
		for _, d := range r.Details {
			if d.Success {
				continue
			}
			if _, err := fmt.Fprintf(out, "  %s: %s\n", d.SubscriptionID, d.Error); err != nil {
				return err
			}
		}
	}
	return nil
}

// runMigrations prepares the selected store.
func runMigrations(ctx context.Context, loadOpts []config.Option) error {
	return withContainer(ctx, loadOpts, func(c *container) error {
		if err := c.migrate(ctx); err != nil {
			return fmt.Errorf("migrate %s store: %w", c.settings.Worker.Store, err)
		}
		c.logger.InfoContext(ctx, "migrations applied")
		return nil
	})
}

// serveHealth connects every configured backend and serves the ops endpoints
// without processing subscriptions.
func serveHealth(ctx context.Context, loadOpts []config.Option) error {
	return withContainer(ctx, loadOpts, func(c *container) error {
		engine, err := c.engine(ctx)
		if err != nil {
			return err
		}
		// Builds the runner only to connect the lock backend for readiness.
		if _, err := c.runner(ctx, engine); err != nil {
			return err
		}
		return c.opsServer().Run(ctx, c.opsRouter())
	})
}
