package realm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kbukum/idresolver/identity"
	"github.com/kbukum/idresolver/logger"
	"github.com/kbukum/idresolver/resolverspec"
	"github.com/kbukum/idresolver/validation"
)

// Wildcard matches every realm. A name ending in Wildcard matches every
// realm starting with the rest of the name.
const Wildcard = "*"

// Realm is a named, ordered group of resolvers. Resolver order is the
// lookup and tie-break order.
type Realm struct {
	Name      string
	Resolvers []resolverspec.Spec
	Default   bool
}

func (r Realm) clone() Realm {
	r.Resolvers = append([]resolverspec.Spec(nil), r.Resolvers...)
	return r
}

// Directory is a read-only snapshot of the configured realms. Realms are
// kept sorted by name, which is the iteration order of every lookup that
// walks all realms.
type Directory struct {
	store Store
	log   *logger.Logger

	mu          sync.RWMutex
	realms      []Realm
	byName      map[string]int
	defaultName string

	subMu       sync.Mutex
	subscribers []func(realm string)
}

// NewDirectory creates an empty directory over store. Call Load before use.
func NewDirectory(store Store, log *logger.Logger) *Directory {
	if log == nil {
		log = logger.Nop()
	}
	return &Directory{
		store:  store,
		log:    log.WithComponent("realm"),
		byName: make(map[string]int),
	}
}

// Load replaces the snapshot with the store's current realms. A realm with
// an invalid name or resolver spec fails the whole load and keeps the
// previous snapshot.
func (d *Directory) Load(ctx context.Context) error {
	defs, err := d.store.Realms(ctx)
	if err != nil {
		return fmt.Errorf("load realms: %w", err)
	}
	defaultName, err := d.store.DefaultRealm(ctx)
	if err != nil {
		return fmt.Errorf("load default realm: %w", err)
	}
	defaultName = NormalizeName(defaultName)

	normalized := make(map[string]Definition, len(defs))
	for name, def := range defs {
		normalized[NormalizeName(name)] = def
	}

	realms := make([]Realm, 0, len(normalized))
	byName := make(map[string]int, len(normalized))
	for _, name := range sortedNames(normalized) {
		def := normalized[name]
		if err := ValidateName(name); err != nil {
			return err
		}
		if err := validation.Validate(def); err != nil {
			return fmt.Errorf("realm %s: %w", name, err)
		}
		specs, err := resolverspec.ParseAll(def.Resolvers)
		if err != nil {
			return fmt.Errorf("realm %s: %w", name, err)
		}
		if defaultName == "" && def.Default {
			defaultName = name
		}
		byName[name] = len(realms)
		realms = append(realms, Realm{Name: name, Resolvers: specs})
	}
	if i, ok := byName[defaultName]; ok {
		realms[i].Default = true
	} else if defaultName != "" {
		d.log.Warn("Default realm is not defined", logger.Fields(logger.FieldRealm, defaultName))
		defaultName = ""
	}

	d.mu.Lock()
	d.realms, d.byName, d.defaultName = realms, byName, defaultName
	d.mu.Unlock()

	d.log.Debug("Realms loaded", logger.Fields("count", len(realms), "default", defaultName))
	return nil
}

// Invalidate reloads the directory and notifies subscribers that realm
// changed.
func (d *Directory) Invalidate(ctx context.Context, realm string) error {
	if err := d.Load(ctx); err != nil {
		return err
	}
	realm = NormalizeName(realm)
	d.subMu.Lock()
	subs := append([]func(string){}, d.subscribers...)
	d.subMu.Unlock()
	for _, fn := range subs {
		fn(realm)
	}
	return nil
}

// OnInvalidate registers fn to run after every Invalidate.
func (d *Directory) OnInvalidate(fn func(realm string)) {
	d.subMu.Lock()
	d.subscribers = append(d.subscribers, fn)
	d.subMu.Unlock()
}

// Realm returns the realm called name, case-insensitively.
func (d *Directory) Realm(name string) (Realm, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.byName[NormalizeName(name)]
	if !ok {
		return Realm{}, false
	}
	return d.realms[i].clone(), true
}

// Default returns the default realm.
func (d *Directory) Default() (Realm, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i, ok := d.byName[d.defaultName]; ok {
		return d.realms[i].clone(), true
	}
	return Realm{}, false
}

// DefaultName returns the default realm name or "".
func (d *Directory) DefaultName() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.defaultName
}

// Names returns the realm names in directory order.
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.realms))
	for i, r := range d.realms {
		out[i] = r.Name
	}
	return out
}

// All returns every realm in directory order.
func (d *Directory) All() []Realm {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Realm, len(d.realms))
	for i, r := range d.realms {
		out[i] = r.clone()
	}
	return out
}

// FindByConfigName returns the first resolver, in directory order, whose
// configuration name equals name case-insensitively. Configuration names
// are assumed to be unique across realms; when they are not, the first
// realm by name wins.
func (d *Directory) FindByConfigName(name string) (resolverspec.Spec, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.realms {
		for _, spec := range r.Resolvers {
			if spec.MatchesConfig(name) {
				return spec, true
			}
		}
	}
	return resolverspec.Spec{}, false
}

// ResolversFor returns the ordered resolver set of u. The login is ignored.
//
// A resolver configuration override selects that single resolver. A realm
// selects its resolvers. A realm that is exactly "*" selects the union of
// all realms and "x*" the union of the realms starting with "x", duplicates
// removed in order of first appearance. Without realm and override the
// default realm is used.
func (d *Directory) ResolversFor(u *identity.User) []resolverspec.Spec {
	if u.ResolverConfigID != "" {
		if spec, ok := d.FindByConfigName(u.ResolverConfigID); ok {
			return []resolverspec.Spec{spec}
		}
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if u.Realm == "" {
		if i, ok := d.byName[d.defaultName]; ok {
			return append([]resolverspec.Spec(nil), d.realms[i].Resolvers...)
		}
		return nil
	}

	name := NormalizeName(u.Realm)
	if i, ok := d.byName[name]; ok {
		return append([]resolverspec.Spec(nil), d.realms[i].Resolvers...)
	}
	if !strings.HasSuffix(name, Wildcard) {
		return nil
	}

	prefix := strings.TrimSuffix(name, Wildcard)
	seen := make(map[resolverspec.Spec]bool)
	var out []resolverspec.Spec
	for _, r := range d.realms {
		if !strings.HasPrefix(r.Name, prefix) {
			continue
		}
		for _, spec := range r.Resolvers {
			if !seen[spec] {
				seen[spec] = true
				out = append(out, spec)
			}
		}
	}
	return out
}

// UserRealms returns the realms u belongs to: the default realm when
// neither realm nor override is set, the named realm, or every realm that
// contains the override resolver.
func (d *Directory) UserRealms(u *identity.User) []string {
	switch {
	case u.Realm == "" && u.ResolverConfigID == "":
		if name := d.DefaultName(); name != "" {
			return []string{name}
		}
		return nil
	case u.Realm != "":
		return []string{NormalizeName(u.Realm)}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for _, r := range d.realms {
		for _, spec := range r.Resolvers {
			if spec.MatchesConfig(u.ResolverConfigID) {
				out = append(out, r.Name)
				break
			}
		}
	}
	return out
}
