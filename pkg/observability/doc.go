// Package observability provides structured logging, Prometheus metrics,
// health checks, and graceful shutdown for the provisioning service.
//
// # Structured Logging
//
// Create a logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("slug", slug).Info("tenant provisioned")
//
// Loggers travel on the context together with the correlation id and the
// requesting administrator:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	observability.FromContext(ctx).Info("stage complete")
//
// # Prometheus Metrics
//
// Initialize a registry and the metric set:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ProvisionAttemptsTotal.WithLabelValues("completed").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, provider)
//	status := checker.Check(ctx)
//
// The database is a hard dependency; redis and the identity provider only
// degrade readiness when unreachable.
package observability
