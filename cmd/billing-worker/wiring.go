package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/email"
	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/lifecycle/eventsink"
	"github.com/dmitrymomot/billingkit/pkg/lifecycle/mongostore"
	"github.com/dmitrymomot/billingkit/pkg/lifecycle/pgstore"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/payment"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/resilience"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

func (c *container) store(ctx context.Context) (lifecycle.Store, error) {
	switch c.settings.Worker.Store {
	case storePostgres:
		pool, _, err := c.postgres(ctx)
		if err != nil {
			return nil, err
		}
		return pgstore.New(pool), nil

	case storeMongo:
		db, err := c.mongoDatabase(ctx)
		if err != nil {
			return nil, err
		}
		return mongostore.New(db), nil

	default:
		subs, err := loadSeed(c.settings.Worker.MemorySeedFile)
		if err != nil {
			return nil, err
		}
		c.logger.WarnContext(ctx, "using in-memory subscription store, state is lost on exit",
			slog.Int("seeded", len(subs)))
		return lifecycle.NewMemoryStore(subs...), nil
	}
}

// loadSeed reads a JSON array of subscriptions. An empty path seeds nothing.
func loadSeed(path string) ([]*subscription.Subscription, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var subs []*subscription.Subscription
	if err := json.Unmarshal(raw, &subs); err != nil {
		return nil, fmt.Errorf("decode seed file %s: %w", path, err)
	}
	return subs, nil
}

// processor returns the payment provider behind the resilience guard.
func (c *container) processor() (lifecycle.PaymentProcessor, error) {
	s := c.settings
	log := c.logger.With(logger.Component("payment"))

	guard := []payment.GuardOption{
		payment.WithRateLimit(s.Worker.PaymentRateLimit, s.Worker.PaymentRateBurst),
		payment.WithBulkhead(resilience.NewBulkhead(s.Bulkhead)),
		payment.WithCircuitBreaker(resilience.NewCircuitBreaker(s.Circuit,
			resilience.WithStateChangeHook(func(from, to resilience.CircuitState) {
				log.Warn("payment circuit changed state",
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			}),
		)),
		payment.WithCallTimeout(s.Worker.PaymentCallTimeout),
		payment.WithGuardLogger(log),
	}

	switch s.Worker.Provider {
	case providerStripe:
		var cfg payment.StripeConfig
		if err := config.Load(&cfg, c.loadOpts...); err != nil {
			return nil, fmt.Errorf("stripe config: %w", err)
		}
		stripe, err := payment.NewStripe(cfg, payment.WithStripeLogger(log))
		if err != nil {
			return nil, err
		}
		// Stripe honours Idempotency-Key, so transport errors may be retried.
		return payment.NewGuarded(stripe, append(guard, payment.WithRetry(s.Retry))...), nil

	case providerPaddle:
		var cfg payment.PaddleConfig
		if err := config.Load(&cfg, c.loadOpts...); err != nil {
			return nil, fmt.Errorf("paddle config: %w", err)
		}
		paddle, err := payment.NewPaddle(cfg, payment.WithPaddleLogger(log))
		if err != nil {
			return nil, err
		}
		return payment.NewGuarded(paddle, guard...), nil

	default:
		return payment.NewGuarded(dryRunProcessor(log), guard...), nil
	}
}

// dryRunProcessor approves every charge and logs it.
func dryRunProcessor(log *slog.Logger) lifecycle.PaymentProcessor {
	return lifecycle.PaymentProcessorFunc(func(ctx context.Context, in lifecycle.PaymentInput) (lifecycle.PaymentResult, error) {
		log.InfoContext(ctx, "dry-run charge approved",
			logger.SubscriptionID(in.Metadata.SubscriptionID),
			logger.CustomerID(in.Metadata.CustomerID),
			slog.Int64("amount", in.Amount),
			slog.String("currency", in.Currency),
			slog.String("type", string(in.Metadata.Type)),
		)
		return lifecycle.PaymentResult{Success: true, PaymentID: "dry_" + in.IdempotencyKey}, nil
	})
}

func (c *container) eventHandlers(ctx context.Context) ([]lifecycle.EventHandler, error) {
	w := c.settings.Worker
	var handlers []lifecycle.EventHandler

	if w.hasSink(sinkLog) {
		handlers = append(handlers, lifecycle.LogHandler(c.logger.With(logger.Component("events"))))
	}

	if w.hasSink(sinkRedis) {
		client, err := c.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		stream := eventsink.NewRedisStream(client,
			eventsink.WithStream(w.EventStream),
			eventsink.WithMaxLen(w.EventStreamLen),
		)
		handlers = append(handlers, stream.Handle)
	}

	if w.hasSink(sinkOpenSearch) {
		client, cfg, err := c.openSearch(ctx)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, eventsink.NewOpenSearchIndexer(client, cfg.EventIndex).Handle)
	}

	if w.hasSink(sinkEmail) {
		sender, err := c.mailSender()
		if err != nil {
			return nil, err
		}
		recipients, err := loadRecipients(w.RecipientsFile)
		if err != nil {
			return nil, err
		}
		mailer := eventsink.NewDunningMailer(sender, recipients,
			eventsink.WithDunningLogger(c.logger.With(logger.Component("dunning"))))
		handlers = append(handlers, mailer.Handle)
	}

	if w.hasSink(sinkWebhook) {
		log := c.logger.With(logger.Component("webhook"))
		hook, err := eventsink.NewWebhook(w.WebhookURL,
			eventsink.WithWebhookSecret(w.WebhookSecret),
			eventsink.WithWebhookTimeout(w.WebhookTimeout),
			eventsink.WithWebhookCircuitBreaker(resilience.NewCircuitBreaker(c.settings.Circuit)),
			eventsink.WithWebhookLogger(log),
		)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, hook.Handle)
	}

	return handlers, nil
}

func (c *container) mailSender() (email.Sender, error) {
	var cfg email.Config
	if err := config.Load(&cfg, c.loadOpts...); err != nil {
		return nil, fmt.Errorf("email config: %w", err)
	}
	if c.settings.Worker.Mailer == mailerPostmark {
		sender, err := email.NewPostmarkSender(cfg)
		if err != nil {
			return nil, err
		}
		return sender, nil
	}
	return email.NewDevSender(cfg.DevDir), nil
}

// migrate prepares the selected store's schema.
func (c *container) migrate(ctx context.Context) error {
	switch c.settings.Worker.Store {
	case storePostgres:
		pool, cfg, err := c.postgres(ctx)
		if err != nil {
			return err
		}
		return pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg, c.logger)

	case storeMongo:
		db, err := c.mongoDatabase(ctx)
		if err != nil {
			return err
		}
		return mongostore.New(db).EnsureIndexes(ctx)

	default:
		c.logger.InfoContext(ctx, "in-memory store needs no migrations")
		return nil
	}
}
