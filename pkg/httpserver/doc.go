// Package httpserver runs the small operational HTTP server of the billing
// worker: liveness, readiness and whatever else the caller mounts (metrics).
//
// The server stops when the context passed to Run is canceled, so signal
// handling stays with the caller:
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	r := chi.NewRouter()
//	r.Get("/livez", httpserver.LivenessHandler())
//	r.Get("/readyz", httpserver.ReadinessHandler(checks, log))
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, r); err != nil {
//		return err
//	}
//
// ReadinessHandler aggregates resilience.CheckFunc results: every component
// healthy answers 200, anything else answers 503 with the JSON report.
package httpserver
