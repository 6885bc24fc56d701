package realm

import (
	"context"
	"sort"
	"strings"

	"github.com/kbukum/idresolver/errors"
	"github.com/kbukum/idresolver/validation"
)

// Definition is a realm as the configuration store holds it.
type Definition struct {
	Resolvers []string `yaml:"resolvers" mapstructure:"resolvers" validate:"dive,resolverspec"`
	Default   bool     `yaml:"default" mapstructure:"default"`
}

// Store is the configuration store the directory snapshots.
type Store interface {
	Realms(ctx context.Context) (map[string]Definition, error)
	// DefaultRealm names the default realm, or "" when the store keeps
	// the default as a flag on the realm itself.
	DefaultRealm(ctx context.Context) (string, error)
}

// NormalizeName lowercases name and replaces blanks so it can serve as a
// realm key.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// ValidateName rejects names outside the realm character set.
func ValidateName(name string) error {
	if name == "" || !validation.RealmNamePattern.MatchString(name) {
		return errors.InvalidRealmName(name, validation.RealmNamePattern.String())
	}
	return nil
}

// StaticStore serves realms from configuration.
type StaticStore struct {
	realms      map[string]Definition
	defaultName string
}

var _ Store = (*StaticStore)(nil)

// NewStaticStore copies realms. defaultName may be empty when a realm
// carries the default flag.
func NewStaticStore(realms map[string]Definition, defaultName string) *StaticStore {
	s := &StaticStore{realms: make(map[string]Definition, len(realms)), defaultName: NormalizeName(defaultName)}
	for name, def := range realms {
		s.realms[NormalizeName(name)] = Definition{
			Resolvers: append([]string(nil), def.Resolvers...),
			Default:   def.Default,
		}
	}
	return s
}

func (s *StaticStore) Realms(context.Context) (map[string]Definition, error) {
	out := make(map[string]Definition, len(s.realms))
	for name, def := range s.realms {
		out[name] = def
	}
	return out, nil
}

func (s *StaticStore) DefaultRealm(context.Context) (string, error) {
	return s.defaultName, nil
}

func sortedNames(realms map[string]Definition) []string {
	names := make([]string, 0, len(realms))
	for name := range realms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
