// Package observability provides OpenTelemetry tracing and metrics for the
// resolution core.
//
// Tracing:
//
//	ctx, span := observability.StartResolverSpan(ctx, "sqlresolver.users", "user_id")
//	defer observability.EndSpan(span, observability.OutcomeOK, nil)
//
// Metrics:
//
//	metrics, err := observability.NewMetrics(observability.Meter("idresolver"))
//	metrics.CacheHit(ctx, observability.CacheUserLookup, spec)
//
// Setup installs OTLP/HTTP exporters when telemetry.endpoint is configured;
// otherwise the global no-op providers are used.
package observability
