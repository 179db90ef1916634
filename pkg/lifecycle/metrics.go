package lifecycle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes engine activity as Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Events        *prometheus.CounterVec
	Subscriptions *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	LastRun       *prometheus.GaugeVec
}

// NewMetrics creates and registers the engine metrics under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "events_total",
			Help:      "Total number of lifecycle events emitted",
		}, []string{"type"}),
		Subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "subscriptions_processed_total",
			Help:      "Total number of subscriptions processed per operation and outcome",
		}, []string{"operation", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "operation_duration_seconds",
			Help:      "Duration of lifecycle batch operations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		LastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed operation",
		}, []string{"operation"}),
	}

	reg.MustRegister(m.Events, m.Subscriptions, m.Duration, m.LastRun)
	return m
}

func (m *Metrics) observeEvent(t EventType) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) observeOperation(res Result, elapsed time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	op := string(res.Operation)
	m.Subscriptions.WithLabelValues(op, "succeeded").Add(float64(res.Succeeded))
	m.Subscriptions.WithLabelValues(op, "failed").Add(float64(res.Failed))
	m.Duration.WithLabelValues(op).Observe(elapsed.Seconds())
	m.LastRun.WithLabelValues(op).Set(float64(finished.Unix()))
}
