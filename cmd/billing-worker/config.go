package main

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/resilience"
)

// Store backends.
const (
	storeMemory   = "memory"
	storePostgres = "postgres"
	storeMongo    = "mongo"
)

// Payment providers. dry-run approves every charge without calling anyone.
const (
	providerStripe = "stripe"
	providerPaddle = "paddle"
	providerDryRun = "dry-run"
)

// Event sinks.
const (
	sinkLog        = "log"
	sinkRedis      = "redis"
	sinkOpenSearch = "opensearch"
	sinkEmail      = "email"
	sinkWebhook    = "webhook"
)

// Mail transports used by the email sink.
const (
	mailerPostmark = "postmark"
	mailerDev      = "dev"
)

// workerConfig selects the backends the worker is assembled from.
// Backend-specific settings live in each package's own Config.
type workerConfig struct {
	Store          string        `env:"BILLING_STORE" envDefault:"memory"`
	MemorySeedFile string        `env:"BILLING_MEMORY_SEED_FILE"`
	Provider       string        `env:"BILLING_PAYMENT_PROVIDER" envDefault:"dry-run"`
	PlansFile      string        `env:"BILLING_PLANS_FILE" envDefault:"plans.yaml"`
	EventSinks     []string      `env:"BILLING_EVENT_SINKS" envDefault:"log" envSeparator:","`
	EventStream    string        `env:"BILLING_EVENT_STREAM" envDefault:"billing:lifecycle:events"`
	EventStreamLen int64         `env:"BILLING_EVENT_STREAM_MAXLEN" envDefault:"100000"`
	Mailer         string        `env:"BILLING_MAILER" envDefault:"dev"`
	RecipientsFile string        `env:"BILLING_RECIPIENTS_FILE" envDefault:"recipients.yaml"`
	WebhookURL     string        `env:"BILLING_WEBHOOK_URL"`
	WebhookSecret  string        `env:"BILLING_WEBHOOK_SECRET"`
	WebhookTimeout time.Duration `env:"BILLING_WEBHOOK_TIMEOUT" envDefault:"8s"`

	Schedule string        `env:"BILLING_SCHEDULE" envDefault:"every 15m"`
	UseLock  bool          `env:"BILLING_LOCK_ENABLED" envDefault:"false"`
	LockKey  string        `env:"BILLING_LOCK_KEY" envDefault:"lifecycle:process-all"`
	LockTTL  time.Duration `env:"BILLING_LOCK_TTL" envDefault:"10m"`

	MetricsNamespace string `env:"BILLING_METRICS_NAMESPACE" envDefault:"billing"`

	// Outbound guard around the payment provider.
	PaymentRateLimit   float64       `env:"BILLING_PAYMENT_RATE_LIMIT" envDefault:"20"`
	PaymentRateBurst   int           `env:"BILLING_PAYMENT_RATE_BURST" envDefault:"5"`
	PaymentCallTimeout time.Duration `env:"BILLING_PAYMENT_CALL_TIMEOUT" envDefault:"30s"`
}

// settings is everything the worker reads from the environment.
type settings struct {
	Worker    workerConfig
	Lifecycle lifecycle.Config
	Logger    logger.Config
	HTTP      httpserver.Config

	Circuit  resilience.CircuitConfig
	Bulkhead resilience.BulkheadConfig
	Retry    resilience.RetryConfig
}

// loadSettings reads the shared settings; config.Load validates each part.
// Backend configs are loaded on demand so that PG_CONN_URL, for one, is only
// required when the postgres store is selected.
func loadSettings(opts ...config.Option) (settings, error) {
	var s settings
	err := errors.Join(
		config.Load(&s.Worker, opts...),
		config.Load(&s.Lifecycle, opts...),
		config.Load(&s.Logger, opts...),
		config.Load(&s.HTTP, opts...),
		config.Load(&s.Circuit, prefixed(opts, "BILLING_PAYMENT_CIRCUIT_")...),
		config.Load(&s.Bulkhead, prefixed(opts, "BILLING_PAYMENT_BULKHEAD_")...),
		config.Load(&s.Retry, prefixed(opts, "BILLING_PAYMENT_RETRY_")...),
	)
	if err != nil {
		return settings{}, fmt.Errorf("load config: %w", err)
	}
	return s, nil
}

func prefixed(opts []config.Option, prefix string) []config.Option {
	return append(slices.Clone(opts), config.WithPrefix(prefix))
}

// Validate is called by config.Load.
func (c workerConfig) Validate() error {
	var errs []error
	if !slices.Contains([]string{storeMemory, storePostgres, storeMongo}, c.Store) {
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if !slices.Contains([]string{providerStripe, providerPaddle, providerDryRun}, c.Provider) {
		errs = append(errs, fmt.Errorf("unknown payment provider %q", c.Provider))
	}
	for _, sink := range c.EventSinks {
		if !slices.Contains([]string{sinkLog, sinkRedis, sinkOpenSearch, sinkEmail, sinkWebhook}, sink) {
			errs = append(errs, fmt.Errorf("unknown event sink %q", sink))
		}
	}
	if c.hasSink(sinkEmail) && !slices.Contains([]string{mailerPostmark, mailerDev}, c.Mailer) {
		errs = append(errs, fmt.Errorf("unknown mailer %q", c.Mailer))
	}
	if c.hasSink(sinkWebhook) && c.WebhookURL == "" {
		errs = append(errs, errors.New("webhook sink requires BILLING_WEBHOOK_URL"))
	}
	if c.hasSink(sinkWebhook) && c.WebhookTimeout <= 0 {
		errs = append(errs, errors.New("webhook timeout must be positive"))
	}
	if c.UseLock && c.LockTTL <= 0 {
		errs = append(errs, errors.New("lock ttl must be positive"))
	}
	return errors.Join(errs...)
}

func (c workerConfig) hasSink(name string) bool {
	return slices.Contains(c.EventSinks, name)
}

// needsRedis reports whether any selected feature talks to Redis.
func (c workerConfig) needsRedis() bool {
	return c.UseLock || c.hasSink(sinkRedis)
}
