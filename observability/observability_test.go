package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultTracerConfig(t *testing.T) {
	cfg := DefaultTracerConfig("test-service")
	if cfg.ServiceName != "test-service" {
		t.Errorf("expected ServiceName 'test-service', got %s", cfg.ServiceName)
	}
	if cfg.Endpoint != "localhost:4318" {
		t.Errorf("expected Endpoint 'localhost:4318', got %s", cfg.Endpoint)
	}
	if cfg.SampleRate != 1.0 || !cfg.Insecure {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestDefaultMeterConfig(t *testing.T) {
	cfg := DefaultMeterConfig("test-service")
	if cfg.Interval != 15*time.Second {
		t.Errorf("expected Interval 15s, got %v", cfg.Interval)
	}
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	return sums
}

func TestMetricsRecording(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.CacheHit(ctx, CacheUserLookup, "memory.a")
	m.CacheHit(ctx, CacheMembership, "memory.a")
	m.CacheMiss(ctx, CacheUserLookup, "memory.a")
	m.CacheNegative(ctx, CacheUserLookup, "memory.a")
	m.CacheRepair(ctx, "memory.a")
	m.BackendCall(ctx, "memory.a", "user_id", OutcomeOK, time.Millisecond)
	m.BackendCall(ctx, "memory.b", "user_id", OutcomeUnavailable, time.Millisecond)

	sums := collect(t, reader)
	want := map[string]int64{
		"idresolver.cache.hits":          2,
		"idresolver.cache.misses":        1,
		"idresolver.cache.negative":      1,
		"idresolver.cache.repairs":       1,
		"idresolver.backend.calls":       2,
		"idresolver.backend.unavailable": 1,
	}
	for name, v := range want {
		if sums[name] != v {
			t.Errorf("%s = %d, want %d", name, sums[name], v)
		}
	}
}

func TestNopMetrics(t *testing.T) {
	m := NopMetrics()
	m.CacheHit(context.Background(), CacheUserLookup, "x.y")
	m.BackendCall(context.Background(), "x.y", "list_users", OutcomeError, 0)
}

func TestResolverSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	_, s := tp.Tracer("test").Start(context.Background(), SpanResolver+"user_id")
	EndSpan(s, OutcomeUnavailable, errors.New("down"))
	_, s2 := tp.Tracer("test").Start(context.Background(), SpanResolver+"user_id")
	EndSpan(s2, OutcomeNotFound, errors.New("no such user"))

	ended := rec.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("expected error status for unavailable, got %v", ended[0].Status())
	}
	if ended[1].Status().Code == codes.Error {
		t.Error("not found must not mark the span as error")
	}
	found := false
	for _, a := range ended[0].Attributes() {
		if a.Key == attribute.Key(AttrOutcome) && a.Value.AsString() == OutcomeUnavailable {
			found = true
		}
	}
	if !found {
		t.Error("expected outcome attribute")
	}
}

func TestStartResolverSpan_GlobalNoop(t *testing.T) {
	ctx, span := StartResolverSpan(context.Background(), "memory.a", "check_pass")
	if ctx == nil || span == nil {
		t.Fatal("expected span from global provider")
	}
	EndSpan(span, OutcomeOK, nil)
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{}, "idresolver", "dev")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestSamplerFor(t *testing.T) {
	if samplerFor(1).Description() != sdktrace.AlwaysSample().Description() {
		t.Error("expected always sample")
	}
	if samplerFor(0).Description() != sdktrace.NeverSample().Description() {
		t.Error("expected never sample")
	}
}
