// Package resolverspec parses and formats resolver specifications.
//
// A resolver specification identifies one configured resolver instance as
// "<class>.<config>", for example "useridresolver.LDAPIdResolver.IdResolver.corp".
// The class may itself contain dots; the config name is whatever follows the
// last one.
package resolverspec

import (
	"strings"

	"github.com/kbukum/idresolver/errors"
)

// Delimiter separates the backend class from the configuration name.
const Delimiter = "."

// Spec is an immutable resolver identifier.
type Spec struct {
	Class string
	Name  string
}

// Parse splits s on its last delimiter.
func Parse(s string) (Spec, error) {
	i := strings.LastIndex(s, Delimiter)
	if i < 0 {
		return Spec{}, errors.MalformedSpec(s)
	}
	return Spec{Class: s[:i], Name: s[i+len(Delimiter):]}, nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(s string) Spec {
	spec, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return spec
}

// Format joins class and config name.
func Format(class, name string) string {
	return class + Delimiter + name
}

// String returns the serialized form. Two specs are equal iff their
// serialized forms are equal.
func (s Spec) String() string {
	if s.IsZero() {
		return ""
	}
	return Format(s.Class, s.Name)
}

// IsZero reports whether s is the zero Spec.
func (s Spec) IsZero() bool {
	return s.Class == "" && s.Name == ""
}

// ConfigName returns the configuration name, used for resolver overrides.
func (s Spec) ConfigName() string {
	return s.Name
}

// MatchesConfig compares the configuration name case-insensitively.
func (s Spec) MatchesConfig(name string) bool {
	return strings.EqualFold(s.Name, name)
}

// ShortClass returns the last dotted segment of the class, the part that
// identifies a backend type in registries ("useridresolver.SQLIdResolver.IdResolver" -> "IdResolver").
func (s Spec) ShortClass() string {
	if i := strings.LastIndex(s.Class, Delimiter); i >= 0 {
		return s.Class[i+len(Delimiter):]
	}
	return s.Class
}

// ParseAll parses a list of serialized specs, trimming whitespace and
// skipping empty entries.
func ParseAll(raw []string) ([]Spec, error) {
	out := make([]Spec, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		spec, err := Parse(r)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}
