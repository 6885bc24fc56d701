package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/kbukum/idresolver/component"
	"github.com/kbukum/idresolver/logger"
)

// newTestClient creates a redis.Client backed by miniredis for testing.
func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(func() { mini.Close() })

	log := logger.Nop()
	cfg := Config{
		Enabled: true,
		Addr:    mini.Addr(),
	}
	cfg.ApplyDefaults()

	client, err := New(cfg, log)
	if err != nil {
		t.Fatalf("failed to create redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, mini
}

// --- TypedStore tests ---

func TestTypedStore_SaveAndLoad(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewTypedStore[testState](client, "test")
	ctx := context.Background()

	state := testState{Count: 5, Tags: []string{"a", "b"}}
	if err := store.Save(ctx, "k1", &state, 0); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx, "k1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected non-nil result")
	}
	if got.Count != 5 || len(got.Tags) != 2 {
		t.Fatalf("expected Count=5, Tags=2, got %+v", got)
	}
}

func TestTypedStore_LoadMissing(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewTypedStore[testState](client, "test")

	got, err := store.Load(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing key, got %+v", got)
	}
}

func TestTypedStore_Delete(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewTypedStore[testState](client, "test")
	ctx := context.Background()

	state := testState{Count: 1}
	store.Save(ctx, "k1", &state, 0)

	if err := store.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := store.Load(ctx, "k1")
	if err != nil {
		t.Fatalf("Load after delete failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after delete, got %+v", got)
	}
}

func TestTypedStore_TTL(t *testing.T) {
	client, mini := newTestClient(t)
	store := NewTypedStore[testState](client, "test")
	ctx := context.Background()

	state := testState{Count: 1}
	if err := store.Save(ctx, "k1", &state, 2*time.Second); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Should be present
	got, err := store.Load(ctx, "k1")
	if err != nil || got == nil {
		t.Fatalf("expected value before TTL, got %v, err %v", got, err)
	}

	// Fast-forward time in miniredis
	mini.FastForward(3 * time.Second)

	got, err = store.Load(ctx, "k1")
	if err != nil {
		t.Fatalf("Load after TTL failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after TTL expiration, got %+v", got)
	}
}

func TestTypedStore_KeyPrefix(t *testing.T) {
	client, mini := newTestClient(t)
	store := NewTypedStore[testState](client, "myprefix")
	ctx := context.Background()

	state := testState{Count: 42}
	store.Save(ctx, "k1", &state, 0)

	// Verify the key in Redis uses the prefix
	raw, err := mini.Get("myprefix:k1")
	if err != nil {
		t.Fatalf("expected prefixed key in Redis, err: %v", err)
	}
	if raw == "" {
		t.Fatal("expected non-empty value at prefixed key")
	}
}

func TestTypedStore_NoPrefix(t *testing.T) {
	client, mini := newTestClient(t)
	store := NewTypedStore[testState](client, "")
	ctx := context.Background()

	state := testState{Count: 1}
	store.Save(ctx, "bare-key", &state, 0)

	raw, err := mini.Get("bare-key")
	if err != nil {
		t.Fatalf("expected bare key in Redis, err: %v", err)
	}
	if raw == "" {
		t.Fatal("expected non-empty value at bare key")
	}
}

func TestTypedStore_Overwrite(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewTypedStore[testState](client, "test")
	ctx := context.Background()

	s1 := testState{Count: 1}
	s2 := testState{Count: 2}
	store.Save(ctx, "k1", &s1, 0)
	store.Save(ctx, "k1", &s2, 0)

	got, _ := store.Load(ctx, "k1")
	if got == nil || got.Count != 2 {
		t.Fatalf("expected Count=2, got %+v", got)
	}
}

// --- Client tests ---

func TestClient_GetMissing(t *testing.T) {
	client, _ := newTestClient(t)
	v, ok, err := client.Get(context.Background(), "missing")
	if err != nil || ok || v != "" {
		t.Fatalf("expected clean miss, got %q %v %v", v, ok, err)
	}
}

func TestClient_DeletePrefix(t *testing.T) {
	client, mini := newTestClient(t)
	ctx := context.Background()
	for _, k := range []string{"user_lookup::a.b::login:x", "user_lookup::a.b::id:1", "user_lookup::a.c::login:x", "other"} {
		if err := client.Set(ctx, k, "v", 0); err != nil {
			t.Fatal(err)
		}
	}

	n, err := client.DeletePrefix(ctx, "user_lookup::a.b::")
	if err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 keys removed, got %d", n)
	}
	if !mini.Exists("user_lookup::a.c::login:x") || !mini.Exists("other") {
		t.Error("keys outside the prefix must survive")
	}
}

func TestClient_DeletePrefixEscapesGlob(t *testing.T) {
	client, mini := newTestClient(t)
	ctx := context.Background()
	_ = client.Set(ctx, "p*q:1", "v", 0)
	_ = client.Set(ctx, "pxq:1", "v", 0)

	if _, err := client.DeletePrefix(ctx, "p*q:"); err != nil {
		t.Fatal(err)
	}
	if !mini.Exists("pxq:1") {
		t.Error("glob characters in the prefix must match literally")
	}
	if mini.Exists("p*q:1") {
		t.Error("expected literal prefix key to be removed")
	}
}

func TestTypedStore_DeleteManyAndPrefix(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewTypedStore[testState](client, "ns")
	ctx := context.Background()
	for _, k := range []string{"a:1", "a:2", "b:1"} {
		_ = store.Save(ctx, k, &testState{Count: 1}, 0)
	}
	if err := store.Delete(ctx, "a:1", "b:1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.Load(ctx, "a:1"); got != nil {
		t.Error("expected a:1 deleted")
	}
	if err := store.DeletePrefix(ctx, "a:"); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.Load(ctx, "a:2"); got != nil {
		t.Error("expected a:2 deleted by prefix")
	}
}

// --- Component tests ---

func TestComponent_Lifecycle(t *testing.T) {
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mini.Close()

	comp := NewComponent(Config{Enabled: true, Addr: mini.Addr()}, logger.Nop())
	ctx := context.Background()
	if h := comp.Health(ctx); h.Status != component.StatusUnhealthy {
		t.Errorf("expected unhealthy before start, got %s", h.Status)
	}
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h := comp.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("expected healthy, got %s", h.Status)
	}
	mini.Close()
	if h := comp.Health(ctx); h.Status != component.StatusDegraded {
		t.Errorf("expected degraded after losing redis, got %s", h.Status)
	}
	if err := comp.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestComponent_StartDisabled(t *testing.T) {
	if err := NewComponent(Config{}, logger.Nop()).Start(context.Background()); err == nil {
		t.Error("expected error starting a disabled redis component")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Enabled: true}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Error("expected missing addr error")
	}
	if cfg.KeyPrefix != "idresolver" {
		t.Errorf("unexpected key prefix default %q", cfg.KeyPrefix)
	}
}

// --- test type ---

type testState struct {
	Count int      `json:"count"`
	Tags  []string `json:"tags,omitempty"`
}
