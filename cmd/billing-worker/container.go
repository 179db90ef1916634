package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	mongokit "github.com/dmitrymomot/billingkit/pkg/mongo"
	searchkit "github.com/dmitrymomot/billingkit/pkg/opensearch"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	rediskit "github.com/dmitrymomot/billingkit/pkg/redis"
	"github.com/dmitrymomot/billingkit/pkg/resilience"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// container owns every long-lived dependency of one command invocation.
// Backends are connected on first use and closed by Shutdown in reverse order.
type container struct {
	settings settings
	loadOpts []config.Option

	logger   *slog.Logger
	registry *prometheus.Registry
	checks   map[string]resilience.CheckFunc
	closers  []func(context.Context) error

	pool   *pgxpool.Pool
	mongo  *mongo.Database
	redis  *goredis.Client
	search *opensearch.Client
}

// newContainer builds the logger and the metrics registry. loadOpts are passed
// to every backend config load.
func newContainer(s settings, loadOpts ...config.Option) (*container, error) {
	logOpts, err := s.Logger.Options()
	if err != nil {
		return nil, fmt.Errorf("logger config: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &container{
		settings: s,
		loadOpts: loadOpts,
		logger:   logger.New(logOpts...).With(logger.Component("billing-worker")),
		registry: reg,
		checks:   make(map[string]resilience.CheckFunc),
	}, nil
}

// Shutdown closes connected backends, newest first.
func (c *container) Shutdown(ctx context.Context) error {
	var errs []error
	for _, closeFn := range slices.Backward(c.closers) {
		errs = append(errs, closeFn(ctx))
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *container) postgres(ctx context.Context) (*pgxpool.Pool, pg.Config, error) {
	var cfg pg.Config
	if err := config.Load(&cfg, c.loadOpts...); err != nil {
		return nil, cfg, fmt.Errorf("postgres config: %w", err)
	}
	if c.pool != nil {
		return c.pool, cfg, nil
	}
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return nil, cfg, err
	}
	c.pool = pool
	c.checks["postgres"] = pg.Healthcheck(pool)
	c.closers = append(c.closers, func(context.Context) error {
		pool.Close()
		return nil
	})
	return pool, cfg, nil
}

func (c *container) mongoDatabase(ctx context.Context) (*mongo.Database, error) {
	if c.mongo != nil {
		return c.mongo, nil
	}
	var cfg mongokit.Config
	if err := config.Load(&cfg, c.loadOpts...); err != nil {
		return nil, fmt.Errorf("mongo config: %w", err)
	}
	db, err := mongokit.NewWithDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.mongo = db
	c.checks["mongo"] = mongokit.Healthcheck(db.Client())
	c.closers = append(c.closers, db.Client().Disconnect)
	return db, nil
}

func (c *container) redisClient(ctx context.Context) (*goredis.Client, error) {
	if c.redis != nil {
		return c.redis, nil
	}
	var cfg rediskit.Config
	if err := config.Load(&cfg, c.loadOpts...); err != nil {
		return nil, fmt.Errorf("redis config: %w", err)
	}
	client, err := rediskit.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.redis = client
	c.checks["redis"] = rediskit.Healthcheck(client)
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })
	return client, nil
}

func (c *container) openSearch(ctx context.Context) (*opensearch.Client, searchkit.Config, error) {
	var cfg searchkit.Config
	if err := config.Load(&cfg, c.loadOpts...); err != nil {
		return nil, cfg, fmt.Errorf("opensearch config: %w", err)
	}
	if c.search != nil {
		return c.search, cfg, nil
	}
	client, err := searchkit.New(ctx, cfg)
	if err != nil {
		return nil, cfg, err
	}
	c.search = client
	c.checks["opensearch"] = searchkit.Healthcheck(client)
	return client, cfg, nil
}

// plans loads the catalog once at startup so a broken file fails fast.
func (c *container) plans(ctx context.Context) (subscription.PlansListSource, error) {
	src := subscription.NewYAMLSource(c.settings.Worker.PlansFile)
	plans, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load plans from %s: %w", c.settings.Worker.PlansFile, err)
	}
	c.logger.InfoContext(ctx, "plans loaded", slog.Int("count", len(plans)))
	return src, nil
}

// engine assembles the lifecycle engine from the selected store, provider and sinks.
func (c *container) engine(ctx context.Context) (*lifecycle.Engine, error) {
	store, err := c.store(ctx)
	if err != nil {
		return nil, err
	}
	processor, err := c.processor()
	if err != nil {
		return nil, err
	}
	plans, err := c.plans(ctx)
	if err != nil {
		return nil, err
	}
	handlers, err := c.eventHandlers(ctx)
	if err != nil {
		return nil, err
	}

	return lifecycle.New(c.settings.Lifecycle, store, processor, plans,
		lifecycle.WithLogger(c.logger),
		lifecycle.WithMetrics(lifecycle.NewMetrics(c.registry, c.settings.Worker.MetricsNamespace)),
		lifecycle.WithEventHandler(handlers...),
	)
}

// runner wraps the engine with the configured schedule and, when enabled, the Redis lock.
func (c *container) runner(ctx context.Context, engine *lifecycle.Engine) (*lifecycle.Runner, error) {
	schedule, err := lifecycle.ParseSchedule(c.settings.Worker.Schedule)
	if err != nil {
		return nil, err
	}

	opts := []lifecycle.RunnerOption{
		lifecycle.WithRunnerLogger(c.logger),
		lifecycle.WithResultHook(c.logRunResult),
	}
	if c.settings.Worker.UseLock {
		client, err := c.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		locker := rediskit.NewLocker(client, "billing:lock:")
		opts = append(opts, lifecycle.WithLocker(locker, c.settings.Worker.LockKey, c.settings.Worker.LockTTL))
	}
	return lifecycle.NewRunner(engine, schedule, opts...), nil
}

func (c *container) logRunResult(res lifecycle.AllResults, err error) {
	attrs := make([]any, 0, len(res.Results())+1)
	for _, r := range res.Results() {
		attrs = append(attrs, slog.Group(string(r.Operation),
			slog.Int("processed", r.Processed),
			slog.Int("succeeded", r.Succeeded),
			slog.Int("failed", r.Failed),
		))
	}
	if err != nil {
		attrs = append(attrs, logger.Error(err))
		c.logger.Error("lifecycle run finished with errors", attrs...)
		return
	}
	c.logger.Info("lifecycle run finished", attrs...)
}
