package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/idresolver/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Attribute keys shared by the resolution instruments.
const (
	AttrCache        = "cache"
	AttrResolverSpec = "resolver_spec"
	AttrCapability   = "capability"
	AttrOutcome      = "outcome"
)

// Cache kinds.
const (
	CacheUserLookup = "user_lookup"
	CacheMembership = "resolver_lookup"
)

// Backend call outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Metrics holds the instruments of the resolution core.
type Metrics struct {
	cacheHits          metric.Int64Counter
	cacheMisses        metric.Int64Counter
	cacheNegative      metric.Int64Counter
	cacheRepairs       metric.Int64Counter
	backendCalls       metric.Int64Counter
	backendDuration    metric.Float64Histogram
	backendUnavailable metric.Int64Counter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.cacheHits, "idresolver.cache.hits", "Cache lookups answered without a backend call"},
		{&m.cacheMisses, "idresolver.cache.misses", "Cache lookups that required a backend call"},
		{&m.cacheNegative, "idresolver.cache.negative", "Cached not-found results served"},
		{&m.cacheRepairs, "idresolver.cache.repairs", "Forward/reverse inconsistencies repaired"},
		{&m.backendCalls, "idresolver.backend.calls", "Resolver backend capability calls"},
		{&m.backendUnavailable, "idresolver.backend.unavailable", "Resolver backend calls that found the backend unavailable"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}

	m.backendDuration, err = meter.Float64Histogram("idresolver.backend.duration",
		metric.WithDescription("Duration of resolver backend calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating idresolver.backend.duration histogram: %w", err)
	}
	return &m, nil
}

// NopMetrics returns instruments backed by a no-op meter.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

func cacheAttrs(cache, spec string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String(AttrCache, cache),
		attribute.String(AttrResolverSpec, spec),
	)
}

// CacheHit records a cache answer without a backend call.
func (m *Metrics) CacheHit(ctx context.Context, cache, spec string) {
	m.cacheHits.Add(ctx, 1, cacheAttrs(cache, spec))
}

// CacheMiss records a cache miss.
func (m *Metrics) CacheMiss(ctx context.Context, cache, spec string) {
	m.cacheMisses.Add(ctx, 1, cacheAttrs(cache, spec))
}

// CacheNegative records a served negative entry.
func (m *Metrics) CacheNegative(ctx context.Context, cache, spec string) {
	m.cacheNegative.Add(ctx, 1, cacheAttrs(cache, spec))
}

// CacheRepair records a consistency repair sweep.
func (m *Metrics) CacheRepair(ctx context.Context, spec string) {
	m.cacheRepairs.Add(ctx, 1, cacheAttrs(CacheUserLookup, spec))
}

// BackendCall records one capability call and its outcome.
func (m *Metrics) BackendCall(ctx context.Context, spec, capability, outcome string, d time.Duration) {
	m.backendCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrResolverSpec, spec),
		attribute.String(AttrCapability, capability),
		attribute.String(AttrOutcome, outcome),
	))
	m.backendDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String(AttrResolverSpec, spec),
		attribute.String(AttrCapability, capability),
	))
	if outcome == OutcomeUnavailable {
		m.backendUnavailable.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrResolverSpec, spec)))
	}
}
