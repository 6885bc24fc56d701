package sqlstore

import (
	"context"
	"testing"

	"github.com/kbukum/idresolver/database"
	"github.com/kbukum/idresolver/errors"
	"github.com/kbukum/idresolver/identity"
	"github.com/kbukum/idresolver/logger"
	"github.com/kbukum/idresolver/realm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Enabled: true, DSN: "file::memory:", LogLevel: "silent"}, logger.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := New(db, logger.Nop())
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestSetRealmFirstBecomesDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetRealm(ctx, "My Corp", []string{"sql.users", " ldap.people "}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRealm(ctx, "test", []string{"sql.test"}); err != nil {
		t.Fatal(err)
	}

	def, err := s.DefaultRealm(ctx)
	if err != nil || def != "my-corp" {
		t.Fatalf("DefaultRealm = %q, %v", def, err)
	}
	realms, err := s.Realms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	corp, ok := realms["my-corp"]
	if !ok || !corp.Default || len(corp.Resolvers) != 2 || corp.Resolvers[1] != "ldap.people" {
		t.Errorf("unexpected realm %+v", corp)
	}
	if realms["test"].Default {
		t.Error("second realm must not become default")
	}
}

func TestSetRealmReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.SetRealm(ctx, "corp", []string{"sql.a"})
	if err := s.SetRealm(ctx, "corp", []string{"sql.a", "sql.b"}); err != nil {
		t.Fatal(err)
	}
	realms, _ := s.Realms(ctx)
	if got := realms["corp"].Resolvers; len(got) != 2 {
		t.Errorf("expected replaced resolver list, got %v", got)
	}
}

func TestSetRealmValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SetRealm(ctx, "bad/name", []string{"sql.a"}); !errors.HasCode(err, errors.ErrCodeInvalidRealmName) {
		t.Errorf("expected INVALID_REALM_NAME, got %v", err)
	}
	if err := s.SetRealm(ctx, "corp", []string{"nodot"}); !errors.HasCode(err, errors.ErrCodeMalformedSpec) {
		t.Errorf("expected MALFORMED_SPEC, got %v", err)
	}
}

func TestDeleteRealmClearsDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.SetRealm(ctx, "corp", []string{"sql.a"})
	_ = s.SetRealm(ctx, "test", []string{"sql.b"})
	if err := s.DeleteRealm(ctx, "CORP"); err != nil {
		t.Fatal(err)
	}
	realms, _ := s.Realms(ctx)
	if _, ok := realms["corp"]; ok || len(realms) != 1 {
		t.Errorf("expected corp to be gone, got %v", realms)
	}
	if def, _ := s.DefaultRealm(ctx); def != "" {
		t.Errorf("expected default to be cleared, got %q", def)
	}
	if err := s.SetDefaultRealm(ctx, "Test"); err != nil {
		t.Fatal(err)
	}
	if def, _ := s.DefaultRealm(ctx); def != "test" {
		t.Errorf("SetDefaultRealm: got %q", def)
	}
}

func TestDirectoryOverSQLStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.SetRealm(ctx, "a", []string{"x.r1"})
	_ = s.SetRealm(ctx, "b", []string{"x.r2"})
	_ = s.SetRealm(ctx, "ab", []string{"x.r3"})

	d := realm.NewDirectory(s, logger.Nop())
	if err := d.Load(ctx); err != nil {
		t.Fatal(err)
	}
	got := d.ResolversFor(identity.New("", "a*", ""))
	if len(got) != 2 || got[0].String() != "x.r1" || got[1].String() != "x.r3" {
		t.Errorf("a* = %v", got)
	}
	if d.DefaultName() != "a" {
		t.Errorf("expected first realm as default, got %q", d.DefaultName())
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "linotp.user_lookup_cache.enabled", "False")
	_ = s.Set(ctx, "linotp.splitAtSign", "false")

	settings, err := s.Settings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if settings.Bool("linotp.user_lookup_cache.enabled", true) {
		t.Error("expected stored flag to be read")
	}
	if settings.Bool("splitAtSign", true) {
		t.Error("expected short key lookup")
	}
}

func TestLikePrefixEscapes(t *testing.T) {
	if got := likePrefix("a_b%"); got != `a\_b\%%` {
		t.Errorf("likePrefix = %q", got)
	}
}
