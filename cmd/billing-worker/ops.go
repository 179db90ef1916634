package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/billingkit/pkg/httpserver"
)

// opsRouter exposes liveness, readiness over every connected backend, and metrics.
func (c *container) opsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/livez", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(c.checks, c.logger))
	r.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry}))

	return r
}

func (c *container) opsServer() *httpserver.Server {
	return httpserver.NewFromConfig(c.settings.HTTP, httpserver.WithLogger(c.logger))
}
