package lifecycle_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := lifecycle.NewMetrics(reg, "billing")

	declinedSub := activeSub("sub_declined")
	mem := lifecycle.NewMemoryStore(activeSub("sub_ok"), declinedSub)
	h := buildHarness(t, lifecycle.DefaultConfig(), mem, nil, lifecycle.WithMetrics(metrics))
	// Scan order is by period end, then ID.
	h.proc.results = []lifecycle.PaymentResult{declined()}

	_, err := h.engine.ProcessRenewals(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Subscriptions.WithLabelValues("renewals", "succeeded")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Subscriptions.WithLabelValues("renewals", "failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Events.WithLabelValues(string(lifecycle.EventRenewed))), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Events.WithLabelValues(string(lifecycle.EventRenewalFailed))), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Events.WithLabelValues(string(lifecycle.EventRetryScheduled))), 0)
	assert.InDelta(t, float64(t0.Unix()), testutil.ToFloat64(metrics.LastRun.WithLabelValues("renewals")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.Duration))
}
