package resolverspec

import (
	"testing"

	"github.com/kbukum/idresolver/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in        string
		wantClass string
		wantName  string
	}{
		{"sqlresolver.users", "sqlresolver", "users"},
		{"useridresolver.LDAPIdResolver.IdResolver.corp", "useridresolver.LDAPIdResolver.IdResolver", "corp"},
		{".name", "", "name"},
		{"class.", "class", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Class != tt.wantClass || got.Name != tt.wantName {
				t.Errorf("Parse(%q) = %+v", tt.in, got)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse("nodelimiter")
	if !errors.HasCode(err, errors.ErrCodeMalformedSpec) {
		t.Fatalf("expected MALFORMED_SPEC, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"a.b", "memory.main", "x.y.z.conf", "cls.", ".cfg"} {
		spec, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if got := Format(spec.Class, spec.Name); got != s {
			t.Errorf("Format(Parse(%q)) = %q", s, got)
		}
		if spec.String() != s {
			t.Errorf("String() = %q, want %q", spec.String(), s)
		}
	}
}

func TestSpecAccessors(t *testing.T) {
	s := MustParse("useridresolver.SQLIdResolver.IdResolver.Users")
	if s.ConfigName() != "Users" {
		t.Errorf("ConfigName = %q", s.ConfigName())
	}
	if !s.MatchesConfig("users") {
		t.Error("expected case-insensitive config match")
	}
	if s.ShortClass() != "IdResolver" {
		t.Errorf("ShortClass = %q", s.ShortClass())
	}
	if !(Spec{}).IsZero() || (Spec{}).String() != "" {
		t.Error("expected zero spec to be empty")
	}
}

func TestMustParse_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustParse("bad")
}

func TestParseAll(t *testing.T) {
	specs, err := ParseAll([]string{" a.b ", "", "c.d"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 2 || specs[0].String() != "a.b" || specs[1].String() != "c.d" {
		t.Errorf("unexpected specs: %v", specs)
	}
	if _, err := ParseAll([]string{"a.b", "bad"}); err == nil {
		t.Error("expected error for malformed entry")
	}
}
