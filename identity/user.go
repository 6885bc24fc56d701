// Package identity holds the transient representation of a user reference
// while it is being resolved.
package identity

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/kbukum/idresolver/resolverspec"
)

// Existence is the tri-state outcome of binding discovery.
type Existence int8

const (
	ExistenceUnknown Existence = iota
	ExistenceTrue
	ExistenceFalse
)

func (e Existence) String() string {
	switch e {
	case ExistenceTrue:
		return "true"
	case ExistenceFalse:
		return "false"
	default:
		return "unknown"
	}
}

// Binding pairs a user with its id inside one resolver.
type Binding struct {
	Spec resolverspec.Spec
	ID   string
	// Class is the backend's own class identifier.
	Class string
}

// User is a logical user reference. Bindings keep discovery order, which is
// the realm's resolver order.
type User struct {
	Login            string
	Realm            string
	ResolverConfigID string

	mu        sync.RWMutex
	bindings  []Binding
	profiles  map[string]map[string]any
	existence Existence
}

// New returns an unresolved user reference.
func New(login, realm, resolverConfigID string) *User {
	return &User{
		Login:            login,
		Realm:            realm,
		ResolverConfigID: resolverConfigID,
		profiles:         make(map[string]map[string]any),
	}
}

// Bind records a binding, replacing an earlier one for the same spec.
func (u *User) Bind(b Binding) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := range u.bindings {
		if u.bindings[i].Spec == b.Spec {
			u.bindings[i] = b
			u.existence = ExistenceTrue
			return
		}
	}
	u.bindings = append(u.bindings, b)
	u.existence = ExistenceTrue
}

// Bindings returns a copy of the bindings in discovery order.
func (u *User) Bindings() []Binding {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return slices.Clone(u.bindings)
}

// Binding returns the binding for spec.
func (u *User) Binding(spec resolverspec.Spec) (Binding, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, b := range u.bindings {
		if b.Spec == spec {
			return b, true
		}
	}
	return Binding{}, false
}

// IDs returns the distinct ids across bindings, first appearance first.
func (u *User) IDs() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	var ids []string
	for _, b := range u.bindings {
		if !slices.Contains(ids, b.ID) {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

// Resolved reports whether at least one binding exists.
func (u *User) Resolved() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.bindings) > 0
}

// SetExistence records the outcome of a full discovery scan.
func (u *User) SetExistence(e Existence) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.existence = e
}

// Existence returns the current existence state.
func (u *User) Existence() Existence {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.existence
}

// Reset drops bindings and profiles so discovery can run again.
func (u *User) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.bindings = nil
	u.profiles = make(map[string]map[string]any)
	u.existence = ExistenceUnknown
}

// SetProfile stores a copy of the profile fetched from spec.
func (u *User) SetProfile(spec resolverspec.Spec, profile map[string]any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.profiles == nil {
		u.profiles = make(map[string]map[string]any)
	}
	cp := make(map[string]any, len(profile))
	for k, v := range profile {
		cp[k] = v
	}
	u.profiles[spec.String()] = cp
}

// Profile returns the profile stored for spec.
func (u *User) Profile(spec resolverspec.Spec) (map[string]any, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	p, ok := u.profiles[spec.String()]
	return p, ok
}

// IsEmpty reports whether neither login nor realm is set.
func (u *User) IsEmpty() bool {
	return u == nil || (u.Login == "" && u.Realm == "")
}

// String renders the reference as <login.config@realm>.
func (u *User) String() string {
	if u.IsEmpty() {
		return "None"
	}
	return fmt.Sprintf("<%s.%s@%s>", u.Login, u.ResolverConfigID, u.Realm)
}

// PerConfig splits a user bound in several resolvers into one user per
// binding. A user with at most one binding is returned unchanged.
func (u *User) PerConfig() []*User {
	bindings := u.Bindings()
	if len(bindings) <= 1 {
		return []*User{u}
	}
	out := make([]*User, 0, len(bindings))
	for _, b := range bindings {
		n := New(u.Login, u.Realm, b.Spec.ConfigName())
		n.Bind(b)
		if p, ok := u.Profile(b.Spec); ok {
			n.SetProfile(b.Spec, p)
		}
		out = append(out, n)
	}
	return out
}

// Equal compares two user references. When both are resolved they must share
// a resolver binding with the same id; otherwise their logins must match.
// A set realm must match the other's realm; without a realm the resolver
// configuration override must match.
func Equal(a, b *User) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Resolved() && b.Resolved() {
		if !shareID(a, b) {
			return false
		}
	} else if a.Login != b.Login {
		return false
	}
	if a.Realm != "" {
		return strings.EqualFold(a.Realm, b.Realm)
	}
	return a.ResolverConfigID == "" || strings.EqualFold(a.ResolverConfigID, b.ResolverConfigID)
}

func shareID(a, b *User) bool {
	for _, ab := range a.Bindings() {
		if bb, ok := b.Binding(ab.Spec); ok && bb.ID == ab.ID {
			return true
		}
	}
	return false
}
