package lifecycle_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

var t0 = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func proMonthly() subscription.Plan {
	return subscription.Plan{
		ID:       "price_pro_monthly",
		Name:     "Pro",
		Price:    subscription.Money{Amount: 2900, Currency: "USD"},
		Interval: subscription.BillingIntervalMonthly,
	}
}

func freeMonthly() subscription.Plan {
	return subscription.Plan{
		ID:       "free",
		Name:     "Free",
		Interval: subscription.BillingIntervalMonthly,
	}
}

func lifetime() subscription.Plan {
	return subscription.Plan{
		ID:       "lifetime",
		Name:     "Lifetime",
		Interval: subscription.BillingIntervalNone,
	}
}

func plans() subscription.PlansListSource {
	return subscription.NewInMemSource(proMonthly(), freeMonthly(), lifetime())
}

func ptr[T any](v T) *T { return &v }

// activeSub returns an active subscription whose period ended an hour before t0.
func activeSub(id string) *subscription.Subscription {
	end := t0.Add(-time.Hour)
	return &subscription.Subscription{
		ID:                     id,
		CustomerID:             "cus_" + id,
		PlanID:                 proMonthly().ID,
		Status:                 subscription.StatusActive,
		CurrentPeriodStart:     end.AddDate(0, -1, 0),
		CurrentPeriodEnd:       end,
		DefaultPaymentMethodID: "pm_" + id,
		CreatedAt:              end.AddDate(0, -1, 0),
	}
}

// trialSub returns a trialing subscription whose trial ended an hour before t0.
func trialSub(id string) *subscription.Subscription {
	end := t0.Add(-time.Hour)
	return &subscription.Subscription{
		ID:                     id,
		CustomerID:             "cus_" + id,
		PlanID:                 proMonthly().ID,
		Status:                 subscription.StatusTrialing,
		CurrentPeriodStart:     end.AddDate(0, 0, -14),
		CurrentPeriodEnd:       end,
		TrialEnd:               ptr(end),
		DefaultPaymentMethodID: "pm_" + id,
		CreatedAt:              end.AddDate(0, 0, -14),
	}
}

func declined() lifecycle.PaymentResult {
	return lifecycle.PaymentResult{Error: "card declined", DeclineCode: "insufficient_funds"}
}

// fakeProcessor succeeds unless a scripted result or error is queued.
type fakeProcessor struct {
	mu      sync.Mutex
	calls   []lifecycle.PaymentInput
	results []lifecycle.PaymentResult
	err     error
	always  *lifecycle.PaymentResult
}

func (p *fakeProcessor) ProcessPayment(_ context.Context, in lifecycle.PaymentInput) (lifecycle.PaymentResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, in)
	if p.err != nil {
		return lifecycle.PaymentResult{}, p.err
	}
	if len(p.results) > 0 {
		res := p.results[0]
		p.results = p.results[1:]
		return res, nil
	}
	if p.always != nil {
		return *p.always, nil
	}
	return lifecycle.PaymentResult{Success: true, PaymentID: fmt.Sprintf("pi_%d", len(p.calls))}, nil
}

func (p *fakeProcessor) Calls() []lifecycle.PaymentInput {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]lifecycle.PaymentInput(nil), p.calls...)
}

type recorder struct {
	mu     sync.Mutex
	events []lifecycle.Event
}

func (r *recorder) handle(_ context.Context, e lifecycle.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Types() []lifecycle.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]lifecycle.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) Events() []lifecycle.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lifecycle.Event(nil), r.events...)
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	engine *lifecycle.Engine
	store  *lifecycle.MemoryStore
	proc   *fakeProcessor
	events *recorder
	clock  *clock
}

func newHarness(t *testing.T, cfg lifecycle.Config, subs ...*subscription.Subscription) *harness {
	t.Helper()
	return buildHarness(t, cfg, lifecycle.NewMemoryStore(subs...), nil)
}

// buildHarness wires an engine over store, or over mem when store is nil.
// mem backs the harness lookups either way.
func buildHarness(t *testing.T, cfg lifecycle.Config, mem *lifecycle.MemoryStore, store lifecycle.Store, opts ...lifecycle.Option) *harness {
	t.Helper()

	h := &harness{
		store:  mem,
		proc:   &fakeProcessor{},
		events: &recorder{},
		clock:  &clock{now: t0},
	}
	if store == nil {
		store = h.store
	}

	seq := 0
	var mu sync.Mutex
	opts = append([]lifecycle.Option{
		lifecycle.WithLogger(logger.Discard()),
		lifecycle.WithClock(h.clock.Now),
		lifecycle.WithEventHandler(h.events.handle),
		lifecycle.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("evt_%d", seq)
		}),
	}, opts...)

	engine, err := lifecycle.New(cfg, store, h.proc, plans(), opts...)
	require.NoError(t, err)
	h.engine = engine
	return h
}

func (h *harness) get(t *testing.T, id string) *subscription.Subscription {
	t.Helper()
	sub, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return sub
}
