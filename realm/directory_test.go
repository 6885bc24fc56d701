package realm

import (
	"context"
	"testing"

	"github.com/kbukum/idresolver/errors"
	"github.com/kbukum/idresolver/identity"
	"github.com/kbukum/idresolver/resolverspec"
)

func specs(ss ...string) []resolverspec.Spec {
	out := make([]resolverspec.Spec, len(ss))
	for i, s := range ss {
		out[i] = resolverspec.MustParse(s)
	}
	return out
}

func newDirectory(t *testing.T, realms map[string]Definition, defaultName string) *Directory {
	t.Helper()
	d := NewDirectory(NewStaticStore(realms, defaultName), nil)
	if err := d.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return d
}

func equalSpecs(a, b []resolverspec.Spec) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResolversFor(t *testing.T) {
	d := newDirectory(t, map[string]Definition{
		"a":    {Resolvers: []string{"ldap.r1"}},
		"b":    {Resolvers: []string{"sql.r2"}, Default: true},
		"ab":   {Resolvers: []string{"sql.r3", "ldap.r1"}},
		"Corp": {Resolvers: []string{"sql.Users", "ldap.r1"}},
	}, "")

	tests := []struct {
		name  string
		realm string
		conf  string
		want  []resolverspec.Spec
	}{
		{"exact realm", "a", "", specs("ldap.r1")},
		{"case insensitive realm", "CORP", "", specs("sql.Users", "ldap.r1")},
		{"prefix wildcard union", "a*", "", specs("ldap.r1", "sql.r3")},
		{"all realms", "*", "", specs("ldap.r1", "sql.r3", "sql.r2", "sql.Users")},
		{"unknown realm", "nope", "", nil},
		{"unknown prefix", "z*", "", nil},
		{"default realm", "", "", specs("sql.r2")},
		{"override", "a", "users", specs("sql.Users")},
		{"unknown override", "", "missing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.ResolversFor(identity.New("bob", tt.realm, tt.conf))
			if !equalSpecs(got, tt.want) {
				t.Errorf("ResolversFor(%q, %q) = %v, want %v", tt.realm, tt.conf, got, tt.want)
			}
		})
	}
}

func TestWildcardUnionOrder(t *testing.T) {
	d := newDirectory(t, map[string]Definition{
		"a":  {Resolvers: []string{"x.r1"}},
		"b":  {Resolvers: []string{"x.r2"}},
		"ab": {Resolvers: []string{"x.r3"}},
	}, "a")
	got := d.ResolversFor(identity.New("", "a*", ""))
	if !equalSpecs(got, specs("x.r1", "x.r3")) {
		t.Errorf("a* = %v, want [x.r1 x.r3]", got)
	}
}

func TestFindByConfigNameFirstMatchWins(t *testing.T) {
	d := newDirectory(t, map[string]Definition{
		"zeta":  {Resolvers: []string{"ldap.people"}},
		"alpha": {Resolvers: []string{"sql.People"}},
	}, "")
	spec, ok := d.FindByConfigName("PEOPLE")
	if !ok || spec.String() != "sql.People" {
		t.Errorf("expected the first realm by name to win, got %v %v", spec, ok)
	}
}

func TestDefaults(t *testing.T) {
	d := newDirectory(t, map[string]Definition{
		"corp": {Resolvers: []string{"sql.users"}},
		"test": {Resolvers: []string{"sql.test"}, Default: true},
	}, "Corp")
	if d.DefaultName() != "corp" {
		t.Errorf("explicit default must win over the flag, got %q", d.DefaultName())
	}
	r, ok := d.Default()
	if !ok || !r.Default || r.Name != "corp" {
		t.Errorf("unexpected default realm %+v", r)
	}
	if test, _ := d.Realm("TEST"); test.Default {
		t.Error("only one realm may be default")
	}
	if names := d.Names(); len(names) != 2 || names[0] != "corp" {
		t.Errorf("unexpected names %v", names)
	}

	missing := newDirectory(t, map[string]Definition{"corp": {}}, "gone")
	if _, ok := missing.Default(); ok {
		t.Error("undefined default realm must not be reported")
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		realms map[string]Definition
		check  func(error) bool
	}{
		{"bad name", map[string]Definition{"a/b": {}}, func(err error) bool {
			return errors.HasCode(err, errors.ErrCodeInvalidRealmName)
		}},
		{"bad spec", map[string]Definition{"corp": {Resolvers: []string{"nodot"}}}, func(err error) bool { return err != nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDirectory(NewStaticStore(tt.realms, ""), nil)
			if err := d.Load(context.Background()); !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestUserRealms(t *testing.T) {
	d := newDirectory(t, map[string]Definition{
		"a": {Resolvers: []string{"sql.users"}},
		"b": {Resolvers: []string{"ldap.users", "sql.other"}},
		"c": {Resolvers: []string{"sql.other"}},
	}, "c")

	tests := []struct {
		name        string
		realm, conf string
		want        []string
	}{
		{"default", "", "", []string{"c"}},
		{"named", "B", "", []string{"b"}},
		{"by resolver", "", "users", []string{"a", "b"}},
		{"by resolver ignoring case", "", "USERS", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.UserRealms(identity.New("bob", tt.realm, tt.conf))
			if len(got) != len(tt.want) {
				t.Fatalf("UserRealms = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("UserRealms = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

type mutableStore struct {
	realms map[string]Definition
}

func (m *mutableStore) Realms(context.Context) (map[string]Definition, error) { return m.realms, nil }
func (m *mutableStore) DefaultRealm(context.Context) (string, error)          { return "", nil }

func TestInvalidateReloadsAndNotifies(t *testing.T) {
	store := &mutableStore{realms: map[string]Definition{"corp": {Resolvers: []string{"sql.a"}}}}
	d := NewDirectory(store, nil)
	ctx := context.Background()
	if err := d.Load(ctx); err != nil {
		t.Fatal(err)
	}

	var notified []string
	d.OnInvalidate(func(realm string) { notified = append(notified, realm) })

	store.realms = map[string]Definition{"corp": {Resolvers: []string{"sql.a", "sql.b"}}}
	if err := d.Invalidate(ctx, "Corp"); err != nil {
		t.Fatal(err)
	}
	if r, _ := d.Realm("corp"); len(r.Resolvers) != 2 {
		t.Errorf("expected reloaded realm, got %+v", r)
	}
	if len(notified) != 1 || notified[0] != "corp" {
		t.Errorf("expected notification for corp, got %v", notified)
	}
}

func TestRealmIsCopied(t *testing.T) {
	d := newDirectory(t, map[string]Definition{"corp": {Resolvers: []string{"sql.a"}}}, "corp")
	r, _ := d.Realm("corp")
	r.Resolvers[0] = resolverspec.MustParse("evil.x")
	if again, _ := d.Realm("corp"); again.Resolvers[0].String() != "sql.a" {
		t.Error("callers must not mutate the snapshot")
	}
}
