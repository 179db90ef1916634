package resilience

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus is the aggregate state of a set of components.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// ComponentHealth is the result of one named check.
type ComponentHealth struct {
	Name         string        `json:"name"`
	Healthy      bool          `json:"healthy"`
	ResponseTime time.Duration `json:"response_time"`
	Message      string        `json:"message,omitempty"`
}

// AggregatedHealth combines component results.
type AggregatedHealth struct {
	Status              HealthStatus      `json:"status"`
	Message             string            `json:"message"`
	AverageResponseTime time.Duration     `json:"average_response_time"`
	Unhealthy           []string          `json:"unhealthy,omitempty"`
	Components          []ComponentHealth `json:"components"`
}

// AggregateHealth is healthy when every component is healthy, degraded when
// some are, and down when none are. An empty component list is healthy.
func AggregateHealth(components []ComponentHealth) AggregatedHealth {
	agg := AggregatedHealth{
		Status:     HealthHealthy,
		Message:    "all components healthy",
		Components: slices.Clone(components),
	}
	if len(components) == 0 {
		agg.Message = "no components registered"
		return agg
	}

	var total time.Duration
	for _, c := range components {
		total += c.ResponseTime
		if !c.Healthy {
			agg.Unhealthy = append(agg.Unhealthy, c.Name)
		}
	}
	agg.AverageResponseTime = total / time.Duration(len(components))

	switch len(agg.Unhealthy) {
	case 0:
	case len(components):
		agg.Status = HealthDown
		agg.Message = "all components unhealthy: " + strings.Join(agg.Unhealthy, ", ")
	default:
		agg.Status = HealthDegraded
		agg.Message = "unhealthy components: " + strings.Join(agg.Unhealthy, ", ")
	}
	return agg
}

// CheckFunc reports a component's health. Nil means healthy.
type CheckFunc func(ctx context.Context) error

// RunChecks runs all checks concurrently and aggregates their results, ordered by name.
// A panicking check counts as unhealthy.
func RunChecks(ctx context.Context, checks map[string]CheckFunc) AggregatedHealth {
	var (
		mu      sync.Mutex
		results = make([]ComponentHealth, 0, len(checks))
		g       errgroup.Group
	)

	for name, check := range checks {
		g.Go(func() error {
			res := runCheck(ctx, name, check)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(results, func(a, b ComponentHealth) int {
		return strings.Compare(a.Name, b.Name)
	})
	return AggregateHealth(results)
}

func runCheck(ctx context.Context, name string, check CheckFunc) (res ComponentHealth) {
	start := time.Now()
	res.Name = name
	defer func() {
		if r := recover(); r != nil {
			res.Healthy = false
			res.Message = fmt.Sprintf("check panicked: %v", r)
		}
		res.ResponseTime = time.Since(start)
	}()

	if err := check(ctx); err != nil {
		res.Message = err.Error()
		return res
	}
	res.Healthy = true
	return res
}
