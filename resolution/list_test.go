package resolution

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/kbukum/idresolver/audit"
	"github.com/kbukum/idresolver/identity"
	"github.com/kbukum/idresolver/realm"
	"github.com/kbukum/idresolver/resolver"
	"github.com/kbukum/idresolver/resolver/memory"
)

func newListingFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixture(t, fixtureConfig{
		realms: map[string]realm.Definition{
			"corp": {Resolvers: []string{"memory.r1", "memory.r2", "memory.r3"}},
		},
		defaultRealm: "corp",
		dirs: map[string]*memory.Directory{
			"memory.r1": memory.New(
				memory.User{Login: "alice", ID: "a"},
				memory.User{Login: "bob", ID: "b"},
			),
			"memory.r2": offline(memory.User{Login: "dave", ID: "d"}),
			"memory.r3": memory.New(memory.User{Login: "carol", ID: "c"}),
		},
	})
}

func logins(ps []resolver.Profile) string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Login()
	}
	return strings.Join(out, ",")
}

func TestListUsers(t *testing.T) {
	f := newListingFixture(t)
	rec := audit.NewRecord()

	got, err := f.engine.ListUsers(context.Background(), rec,
		map[string]string{resolver.KeyUsername: "*", FilterRealm: "corp", FilterResolverConf: ""},
		identity.New("", "corp", ""))
	if err != nil {
		t.Fatal(err)
	}
	if logins(got) != "alice,bob,carol" {
		t.Errorf("listed %s", logins(got))
	}
	if got[2][resolver.KeyResolverSpec] != "memory.r3" {
		t.Errorf("missing resolver tag: %v", got[2])
	}
	if !strings.Contains(rec.Detail(), "memory.r2") {
		t.Errorf("expected audit note for memory.r2, got %q", rec.Detail())
	}
}

func TestListUsersWarmsLookupCache(t *testing.T) {
	f := newListingFixture(t)
	ctx := context.Background()
	if _, err := f.engine.ListUsers(ctx, nil, nil, nil); err != nil {
		t.Fatal(err)
	}

	r1 := f.dirs["memory.r1"]
	u := identity.New("alice", "corp", "")
	if err := f.engine.BindUser(ctx, nil, u); err != nil {
		t.Fatal(err)
	}
	if !u.Resolved() {
		t.Fatal("alice must be bound")
	}
	if got := r1.Calls(resolver.CapUserID) + r1.Calls(resolver.CapUserInfo); got != 0 {
		t.Errorf("listing must warm both directions, backend asked %d times", got)
	}
}

func TestIterate(t *testing.T) {
	tests := []struct {
		name   string
		filter map[string]string
		scope  *identity.User
		stopAt int
		want   string
	}{
		{"filter", map[string]string{resolver.KeyUsername: "a*"}, nil, 0, "alice"},
		{"resolver override", nil, identity.New("", "", "R3"), 0, "carol"},
		{"stop early", nil, identity.New("", "corp", ""), 1, "alice"},
		{"unknown realm", nil, identity.New("", "nope", ""), 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newListingFixture(t)
			var got []resolver.Profile
			err := f.engine.Iterate(context.Background(), nil, tt.filter, tt.scope, func(p resolver.Profile) error {
				got = append(got, p)
				if tt.stopAt > 0 && len(got) == tt.stopAt {
					return ErrStop
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if logins(got) != tt.want {
				t.Errorf("listed %q, want %q", logins(got), tt.want)
			}
		})
	}
}

func TestIterateCallbackError(t *testing.T) {
	f := newListingFixture(t)
	boom := stderrors.New("boom")
	err := f.engine.Iterate(context.Background(), nil, nil, nil, func(resolver.Profile) error { return boom })
	if !stderrors.Is(err, boom) {
		t.Errorf("expected callback error, got %v", err)
	}
}

func TestSearchFields(t *testing.T) {
	f := newListingFixture(t)
	got, err := f.engine.SearchFields(context.Background(), identity.New("", "corp", ""))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected fields of the two reachable resolvers, got %v", got)
	}
	if got["memory.r1"][resolver.KeyUsername] != "text" {
		t.Errorf("unexpected schema %v", got["memory.r1"])
	}
	if _, ok := got["memory.r2"]; ok {
		t.Error("unreachable resolver must be left out")
	}
}
