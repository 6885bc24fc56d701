package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/kbukum/idresolver/password"
	"github.com/kbukum/idresolver/resolver"
)

func TestDirectoryLookups(t *testing.T) {
	d := New(User{Login: "alice", ID: "1", Password: "secret", Attributes: map[string]any{"email": "a@x.org"}})
	ctx := context.Background()

	id, err := d.UserID(ctx, "alice")
	if err != nil || id != "1" {
		t.Fatalf("UserID = %q, %v", id, err)
	}
	if _, err := d.UserID(ctx, "nobody"); !errors.Is(err, resolver.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	p, err := d.UserInfo(ctx, "1")
	if err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	if p.Login() != "alice" || p.UserID() != "1" || p["email"] != "a@x.org" {
		t.Errorf("unexpected profile %v", p)
	}
	if got := d.Calls(resolver.CapUserID); got != 2 {
		t.Errorf("expected 2 user_id calls, got %d", got)
	}
}

func TestDirectoryCheckPass(t *testing.T) {
	hash, err := password.NewBcryptHasher(password.WithCost(4)).Hash("hashed-secret")
	if err != nil {
		t.Fatal(err)
	}
	d := New(
		User{Login: "plain", ID: "1", Password: "secret"},
		User{Login: "hashed", ID: "2", Password: hash},
		User{Login: "nopass", ID: "3"},
	)
	ctx := context.Background()

	tests := []struct {
		id, pw string
		want   bool
	}{
		{"1", "secret", true},
		{"1", "wrong", false},
		{"2", "hashed-secret", true},
		{"2", "secret", false},
		{"3", "", false},
		{"missing", "secret", false},
	}
	for _, tt := range tests {
		ok, err := d.CheckPass(ctx, tt.id, tt.pw)
		if err != nil {
			t.Fatalf("CheckPass(%s): %v", tt.id, err)
		}
		if ok != tt.want {
			t.Errorf("CheckPass(%s, %s) = %v, want %v", tt.id, tt.pw, ok, tt.want)
		}
	}
}

func TestDirectoryUnavailable(t *testing.T) {
	d := New(User{Login: "alice", ID: "1"})
	d.SetAvailable(false)
	if _, err := d.UserID(context.Background(), "alice"); !errors.Is(err, resolver.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	d.SetAvailable(true)
	if _, err := d.UserID(context.Background(), "alice"); err != nil {
		t.Errorf("expected recovery, got %v", err)
	}
}

func TestDirectoryRenameAndRemove(t *testing.T) {
	d := New()
	id := d.Add(User{Login: "bob"})
	if id == "" {
		t.Fatal("expected generated id")
	}
	if !d.Rename(id, "robert") {
		t.Fatal("rename failed")
	}
	ctx := context.Background()
	if _, err := d.UserID(ctx, "bob"); !errors.Is(err, resolver.ErrNotFound) {
		t.Errorf("old login should be gone, got %v", err)
	}
	if got, _ := d.UserID(ctx, "robert"); got != id {
		t.Errorf("expected %s for new login, got %s", id, got)
	}
	d.Remove("robert")
	if _, err := d.UserInfo(ctx, id); !errors.Is(err, resolver.ErrNotFound) {
		t.Errorf("expected removal, got %v", err)
	}
}

func TestDirectoryListUsers(t *testing.T) {
	d := New(
		User{Login: "carol", ID: "3"},
		User{Login: "alice", ID: "1", Attributes: map[string]any{"email": "alice@corp"}},
		User{Login: "albert", ID: "2"},
	)
	ctx := context.Background()

	it, err := d.ListUsers(ctx, map[string]string{resolver.KeyUsername: "al*"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := resolver.Collect(ctx, it)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Login() != "albert" || got[1].Login() != "alice" {
		t.Errorf("unexpected listing %v", got)
	}

	it, _ = d.ListUsers(ctx, map[string]string{"email": "*@CORP"})
	got, _ = resolver.Collect(ctx, it)
	if len(got) != 1 || got[0].Login() != "alice" {
		t.Errorf("expected case-insensitive attribute match, got %v", got)
	}
}

func TestFactory(t *testing.T) {
	b, err := Factory(context.Background(), resolver.Definition{
		Spec: "memory.corp",
		Params: map[string]any{
			"users": []any{
				map[string]any{"login": "alice", "id": "1", "attributes": map[string]any{"surname": "Liddell"}},
			},
			"no_check_pass": true,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	d := b.(*Directory)
	if id, _ := d.UserID(context.Background(), "alice"); id != "1" {
		t.Errorf("expected seeded user, got %q", id)
	}
	if _, err := d.CheckPass(context.Background(), "1", "x"); !errors.Is(err, resolver.ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}

	if _, err := Factory(context.Background(), resolver.Definition{Spec: "memory.bad", Params: map[string]any{"users": "nope"}}); err == nil {
		t.Error("expected decode error")
	}
}
