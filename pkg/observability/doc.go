// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	observability.FromContext(r.Context(), logger).WithField("company_id", id).Info("membership resolved")
//
// FromContext attaches the request ID, the authenticated user ID and the
// active trace/span IDs when present.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordGuard("require_role", observability.OutcomeDenied, "insufficient_role")
//	observability.RegisterMetricsEndpoint(router, registry)
//
// Every recorder accepts a nil *Metrics, so guards can be built without one.
//
// # Tracing
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "tenantgate",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// Readiness fails when Postgres is unreachable; a Redis outage only reports
// degraded since rate limiting fails open.
package observability
