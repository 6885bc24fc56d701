package resolver

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kbukum/idresolver/errors"
	"github.com/kbukum/idresolver/observability"
	"github.com/kbukum/idresolver/resilience"
	"github.com/kbukum/idresolver/resolverspec"
)

type fakeBackend struct {
	Unsupported
	users  map[string]string
	down   atomic.Bool
	delay  time.Duration
	calls  atomic.Int32
	closed atomic.Bool
}

func (f *fakeBackend) UserID(ctx context.Context, login string) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.down.Load() {
		return "", Unavailable(fmt.Errorf("dial: refused"))
	}
	id, ok := f.users[login]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (f *fakeBackend) UserInfo(_ context.Context, id string) (Profile, error) {
	for login, uid := range f.users {
		if uid == id {
			return Profile{KeyUsername: login, KeyUserID: id}, nil
		}
	}
	return nil, ErrNotFound
}

// ListUsers behaves like a database cursor: every Next fails once the
// context it was opened with is done.
func (f *fakeBackend) ListUsers(ctx context.Context, _ map[string]string) (Iterator, error) {
	var items []Profile
	for login, id := range f.users {
		items = append(items, Profile{KeyUsername: login, KeyUserID: id})
	}
	return &cursor{ctx: ctx, rest: NewSliceIterator(items)}, nil
}

type cursor struct {
	ctx  context.Context
	rest *SliceIterator
}

func (c *cursor) Next(ctx context.Context) (Profile, bool, error) {
	if err := c.ctx.Err(); err != nil {
		return nil, false, err
	}
	return c.rest.Next(ctx)
}

func (c *cursor) Close() error { return c.rest.Close() }

func (f *fakeBackend) Close() error {
	f.closed.Store(true)
	return nil
}

func newTestGateway(t *testing.T, cfg Config, backends map[string]*fakeBackend) *Gateway {
	t.Helper()
	reg := NewRegistry()
	var defs []Definition
	for spec, b := range backends {
		b := b
		reg.RegisterFactory(spec, func(context.Context, Definition) (Backend, error) { return b, nil })
		defs = append(defs, Definition{Spec: spec, Class: spec})
	}
	g := NewGateway(reg, cfg)
	if _, err := g.Load(context.Background(), defs); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return g
}

func TestGatewayErrorMapping(t *testing.T) {
	b := &fakeBackend{users: map[string]string{"alice": "1"}}
	g := newTestGateway(t, Config{}, map[string]*fakeBackend{"fake.one": b})
	spec := resolverspec.MustParse("fake.one")
	ctx := context.Background()

	if id, err := g.UserID(ctx, spec, "alice"); err != nil || id != "1" {
		t.Fatalf("UserID = %q, %v", id, err)
	}
	if _, err := g.UserID(ctx, spec, "bob"); !errors.IsUserNotFound(err) {
		t.Errorf("expected USER_NOT_FOUND, got %v", err)
	}
	if _, err := g.CheckPass(ctx, spec, "1", "pw"); !errors.IsNotImplemented(err) {
		t.Errorf("expected NOT_IMPLEMENTED, got %v", err)
	}
	b.down.Store(true)
	if _, err := g.UserID(ctx, spec, "alice"); !errors.IsResolverUnavailable(err) {
		t.Errorf("expected RESOLVER_UNAVAILABLE, got %v", err)
	}
	if _, err := g.UserID(ctx, resolverspec.MustParse("fake.missing"), "alice"); !errors.IsResolverUnavailable(err) {
		t.Errorf("unknown spec should be unavailable, got %v", err)
	}
}

func TestGatewayCircuitOpens(t *testing.T) {
	b := &fakeBackend{users: map[string]string{"alice": "1"}}
	g := newTestGateway(t, Config{MaxFailures: 2, OpenTimeout: time.Hour}, map[string]*fakeBackend{"fake.one": b})
	spec := resolverspec.MustParse("fake.one")
	ctx := context.Background()

	// Not-found answers never trip the circuit.
	for i := 0; i < 5; i++ {
		_, _ = g.UserID(ctx, spec, "nobody")
	}
	if len(g.OpenCircuits()) != 0 {
		t.Fatal("not-found must not open the circuit")
	}

	b.down.Store(true)
	_, _ = g.UserID(ctx, spec, "alice")
	_, _ = g.UserID(ctx, spec, "alice")
	before := b.calls.Load()
	_, err := g.UserID(ctx, spec, "alice")
	if !errors.IsResolverUnavailable(err) || !stderrors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("expected unavailable from open circuit, got %v", err)
	}
	if b.calls.Load() != before {
		t.Error("open circuit must not contact the backend")
	}
	if open := g.OpenCircuits(); len(open) != 1 || open[0] != "fake.one" {
		t.Errorf("expected fake.one open, got %v", open)
	}
}

func TestGatewayCallTimeout(t *testing.T) {
	b := &fakeBackend{users: map[string]string{"alice": "1"}, delay: time.Second}
	g := newTestGateway(t, Config{CallTimeout: 20 * time.Millisecond}, map[string]*fakeBackend{"fake.slow": b})
	_, err := g.UserID(context.Background(), resolverspec.MustParse("fake.slow"), "alice")
	if !errors.IsResolverUnavailable(err) {
		t.Errorf("expected timeout to map to unavailable, got %v", err)
	}
}

func TestGatewayCallerCancellation(t *testing.T) {
	b := &fakeBackend{users: map[string]string{"alice": "1"}, delay: time.Second}
	g := newTestGateway(t, Config{}, map[string]*fakeBackend{"fake.slow": b})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := g.UserID(ctx, resolverspec.MustParse("fake.slow"), "alice")
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestGatewayListingOutlivesOpen(t *testing.T) {
	b := &fakeBackend{users: map[string]string{"alice": "1", "bob": "2"}}
	g := newTestGateway(t, Config{CallTimeout: 20 * time.Millisecond}, map[string]*fakeBackend{"fake.list": b})
	ctx := context.Background()

	it, err := g.ListUsers(ctx, resolverspec.MustParse("fake.list"), nil)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(40 * time.Millisecond)
	got, err := Collect(ctx, it)
	if err != nil || len(got) != 2 {
		t.Fatalf("Collect = %d profiles, %v; want 2", len(got), err)
	}

	it, err = g.ListUsers(ctx, resolverspec.MustParse("fake.list"), nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = it.Close()
	if _, _, err := it.Next(ctx); !stderrors.Is(err, context.Canceled) {
		t.Errorf("expected a closed listing to be cancelled, got %v", err)
	}
}

func TestGatewayLoadFailureIsUnavailable(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFactory("broken", func(context.Context, Definition) (Backend, error) {
		return nil, fmt.Errorf("bad params")
	})
	g := NewGateway(reg, Config{})
	changed, err := g.Load(context.Background(), []Definition{
		{Spec: "broken.x", Class: "broken"},
		{Spec: "nofactory.y"},
	})
	if err != nil {
		t.Fatalf("construction failures must not fail Load: %v", err)
	}
	if len(changed) != 2 {
		t.Errorf("expected 2 changed specs, got %v", changed)
	}
	if _, err := g.UserID(context.Background(), resolverspec.MustParse("broken.x"), "a"); !errors.IsResolverUnavailable(err) {
		t.Errorf("expected unavailable, got %v", err)
	}
	if len(g.OpenCircuits()) != 2 {
		t.Errorf("failed backends should be reported, got %v", g.OpenCircuits())
	}
}

func TestGatewayLoadInvalidDefinition(t *testing.T) {
	g := NewGateway(NewRegistry(), Config{})
	if _, err := g.Load(context.Background(), []Definition{{Spec: "nodot"}}); err == nil {
		t.Error("expected validation error for malformed spec")
	}
}

func TestGatewayReloadKeepsUnchanged(t *testing.T) {
	var built atomic.Int32
	reg := NewRegistry()
	reg.RegisterFactory("fake", func(context.Context, Definition) (Backend, error) {
		built.Add(1)
		return &fakeBackend{users: map[string]string{}}, nil
	})
	g := NewGateway(reg, Config{})
	ctx := context.Background()
	defs := []Definition{{Spec: "fake.a"}, {Spec: "fake.b"}}
	if _, err := g.Load(ctx, defs); err != nil {
		t.Fatal(err)
	}

	changed, err := g.Load(ctx, []Definition{{Spec: "fake.a"}, {Spec: "fake.c"}})
	if err != nil {
		t.Fatal(err)
	}
	if built.Load() != 3 {
		t.Errorf("expected only fake.c to be built again, got %d constructions", built.Load())
	}
	want := []string{"fake.b", "fake.c"}
	if len(changed) != len(want) || changed[0].String() != want[0] || changed[1].String() != want[1] {
		t.Errorf("changed = %v, want %v", changed, want)
	}
	if specs := g.Specs(); len(specs) != 2 || specs[1].String() != "fake.c" {
		t.Errorf("unexpected specs %v", specs)
	}
}

func TestGatewayReloadWaitsForInFlightCalls(t *testing.T) {
	old := &fakeBackend{users: map[string]string{"alice": "1"}, delay: 50 * time.Millisecond}
	reg := NewRegistry()
	reg.RegisterFactory("fake", func(_ context.Context, def Definition) (Backend, error) {
		if def.Params["v"] == 2 {
			return &fakeBackend{users: map[string]string{"alice": "1"}}, nil
		}
		return old, nil
	})
	g := NewGateway(reg, Config{})
	ctx := context.Background()
	if _, err := g.Load(ctx, []Definition{{Spec: "fake.slow"}}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := g.UserID(ctx, resolverspec.MustParse("fake.slow"), "alice")
		done <- err
	}()
	for old.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	if _, err := g.Load(ctx, []Definition{{Spec: "fake.slow", Params: map[string]any{"v": 2}}}); err != nil {
		t.Fatal(err)
	}
	if old.closed.Load() {
		t.Fatal("replaced backend closed while a call was still running")
	}
	if err := <-done; err != nil {
		t.Errorf("in-flight call failed across reload: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !old.closed.Load() {
		if time.Now().After(deadline) {
			t.Fatal("replaced backend was never closed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestGatewayClose(t *testing.T) {
	b := &fakeBackend{users: map[string]string{}}
	g := newTestGateway(t, Config{}, map[string]*fakeBackend{"fake.one": b})
	_ = g.Close()
	if !b.closed.Load() {
		t.Error("expected backend to be closed")
	}
}

func TestGatewayMetrics(t *testing.T) {
	reader := metric.NewManualReader()
	m, err := observability.NewMetrics(metric.NewMeterProvider(metric.WithReader(reader)).Meter("test"))
	if err != nil {
		t.Fatal(err)
	}
	b := &fakeBackend{users: map[string]string{"alice": "1"}}
	reg := NewRegistry()
	reg.RegisterFactory("fake", func(context.Context, Definition) (Backend, error) { return b, nil })
	g := NewGateway(reg, Config{}, WithMetrics(m))
	if _, err := g.Load(context.Background(), []Definition{{Spec: "fake.one"}}); err != nil {
		t.Fatal(err)
	}
	spec := resolverspec.MustParse("fake.one")
	_, _ = g.UserID(context.Background(), spec, "alice")
	_, _ = g.UserID(context.Background(), spec, "bob")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var calls int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "idresolver.backend.calls" {
				continue
			}
			for _, dp := range md.Data.(metricdata.Sum[int64]).DataPoints {
				calls += dp.Value
			}
		}
	}
	if calls != 2 {
		t.Errorf("expected 2 recorded backend calls, got %d", calls)
	}
}

func TestMatchFilter(t *testing.T) {
	p := Profile{KeyUsername: "alice", "email": "alice@corp.org"}
	tests := []struct {
		name   string
		filter map[string]string
		want   bool
	}{
		{"empty", nil, true},
		{"star", map[string]string{KeyUsername: "*"}, true},
		{"prefix", map[string]string{KeyUsername: "al*"}, true},
		{"case insensitive", map[string]string{"email": "*@CORP.ORG"}, true},
		{"mismatch", map[string]string{KeyUsername: "bob"}, false},
		{"missing key", map[string]string{"phone": "1*"}, false},
		{"meta chars quoted", map[string]string{"email": "alice@corp?org"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchFilter(p, tt.filter); got != tt.want {
				t.Errorf("MatchFilter(%v) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestRegistryLookupFallsBackToShortClass(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFactory("IdResolver", func(context.Context, Definition) (Backend, error) { return &fakeBackend{}, nil })
	if _, name, ok := reg.Lookup(Definition{Spec: "useridresolver.SQLIdResolver.IdResolver.mysql"}); !ok || name != "IdResolver" {
		t.Errorf("expected short class lookup, got %q %v", name, ok)
	}
	if got := reg.List(); len(got) != 1 {
		t.Errorf("unexpected list %v", got)
	}
}
