package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/resilience"
)

// LivenessHandler always answers 200 with body "ALIVE".
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ALIVE"))
	}
}

// ReadinessHandler runs checks concurrently with resilience.RunChecks and
// writes the aggregated report as JSON. Only a healthy aggregate answers 200;
// degraded and down answer 503.
func ReadinessHandler(checks map[string]resilience.CheckFunc, log *slog.Logger) http.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		report := resilience.RunChecks(r.Context(), checks)

		status := http.StatusOK
		if report.Status != resilience.HealthHealthy {
			status = http.StatusServiceUnavailable
			log.WarnContext(r.Context(), "readiness check failed",
				slog.String("status", string(report.Status)),
				slog.Any("unhealthy", report.Unhealthy),
			)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.ErrorContext(r.Context(), "write readiness report", logger.Error(err))
		}
	}
}
