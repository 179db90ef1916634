package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/resilience"
)

func TestAggregateHealth(t *testing.T) {
	t.Parallel()

	t.Run("all healthy", func(t *testing.T) {
		t.Parallel()
		agg := resilience.AggregateHealth([]resilience.ComponentHealth{
			{Name: "postgres", Healthy: true, ResponseTime: 10 * time.Millisecond},
			{Name: "redis", Healthy: true, ResponseTime: 20 * time.Millisecond},
		})
		assert.Equal(t, resilience.HealthHealthy, agg.Status)
		assert.Equal(t, 15*time.Millisecond, agg.AverageResponseTime)
		assert.Empty(t, agg.Unhealthy)
	})

	t.Run("degraded", func(t *testing.T) {
		t.Parallel()
		agg := resilience.AggregateHealth([]resilience.ComponentHealth{
			{Name: "postgres", Healthy: true, ResponseTime: 10 * time.Millisecond},
			{Name: "stripe", Healthy: false, ResponseTime: 50 * time.Millisecond},
			{Name: "redis", Healthy: true, ResponseTime: 30 * time.Millisecond},
		})
		assert.Equal(t, resilience.HealthDegraded, agg.Status)
		assert.Equal(t, 30*time.Millisecond, agg.AverageResponseTime)
		assert.Equal(t, []string{"stripe"}, agg.Unhealthy)
		assert.Contains(t, agg.Message, "stripe")
	})

	t.Run("down", func(t *testing.T) {
		t.Parallel()
		agg := resilience.AggregateHealth([]resilience.ComponentHealth{
			{Name: "postgres"},
			{Name: "redis"},
		})
		assert.Equal(t, resilience.HealthDown, agg.Status)
		assert.Contains(t, agg.Message, "postgres")
		assert.Contains(t, agg.Message, "redis")
	})

	t.Run("empty is healthy", func(t *testing.T) {
		t.Parallel()
		agg := resilience.AggregateHealth(nil)
		assert.Equal(t, resilience.HealthHealthy, agg.Status)
		assert.Equal(t, time.Duration(0), agg.AverageResponseTime)
	})
}

func TestRunChecks(t *testing.T) {
	t.Parallel()

	agg := resilience.RunChecks(context.Background(), map[string]resilience.CheckFunc{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
		"mongo":    func(context.Context) error { panic("driver bug") },
	})

	require.Len(t, agg.Components, 3)
	assert.Equal(t, "mongo", agg.Components[0].Name)
	assert.Equal(t, "postgres", agg.Components[1].Name)
	assert.Equal(t, "redis", agg.Components[2].Name)

	assert.Equal(t, resilience.HealthDegraded, agg.Status)
	assert.Equal(t, []string{"mongo", "postgres"}, agg.Unhealthy)
	assert.Equal(t, "connection refused", agg.Components[1].Message)
	assert.Contains(t, agg.Components[0].Message, "driver bug")
	assert.True(t, agg.Components[2].Healthy)
}
