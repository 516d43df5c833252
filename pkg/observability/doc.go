// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry setup, health checks and graceful shutdown for the API.
//
// Logging:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("feed", uri).WithError(err).Error("role lookup failed")
//
// Request handlers should use observability.FromContext(r.Context()) so that
// request_id and did are attached automatically.
//
// Metrics are registered against an explicit prometheus.Registry and served
// from the health port together with /health/live and /health/ready.
package observability
