// Package memory provides an in-process resolver backend. It serves tests,
// development setups and the CLI demo configuration.
package memory

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"

	"github.com/kbukum/idresolver/password"
	"github.com/kbukum/idresolver/resolver"
)

// Class is the registry identifier of this backend.
const Class = "memory"

// User is one directory entry.
type User struct {
	Login      string         `yaml:"login" mapstructure:"login"`
	ID         string         `yaml:"id" mapstructure:"id"`
	Password   string         `yaml:"password" mapstructure:"password"`
	Attributes map[string]any `yaml:"attributes" mapstructure:"attributes"`
}

// Params is the decoded form of a memory resolver definition's params.
type Params struct {
	Users []User `mapstructure:"users"`
	// NoCheckPass makes CheckPass report ErrNotImplemented.
	NoCheckPass bool `mapstructure:"no_check_pass"`
	// Unavailable starts the backend in the unreachable state.
	Unavailable bool `mapstructure:"unavailable"`
}

var searchFields = map[string]string{
	resolver.KeyUsername: "text",
	resolver.KeyUserID:   "text",
	"givenname":          "text",
	"surname":            "text",
	"email":              "text",
}

// Directory is a mutable in-memory user directory.
type Directory struct {
	mu      sync.RWMutex
	byLogin map[string]*User
	byID    map[string]*User

	noCheckPass bool
	unavailable atomic.Bool
	calls       map[string]*atomic.Int64
}

// New creates a directory holding users.
func New(users ...User) *Directory {
	d := &Directory{
		byLogin: make(map[string]*User),
		byID:    make(map[string]*User),
		calls:   make(map[string]*atomic.Int64),
	}
	for _, capability := range []string{
		resolver.CapUserID, resolver.CapUserInfo, resolver.CapCheckPass,
		resolver.CapSearchFields, resolver.CapListUsers,
	} {
		d.calls[capability] = new(atomic.Int64)
	}
	for _, u := range users {
		d.Add(u)
	}
	return d
}

// Factory builds a Directory from a resolver definition.
func Factory(_ context.Context, def resolver.Definition) (resolver.Backend, error) {
	var p Params
	if err := mapstructure.Decode(def.Params, &p); err != nil {
		return nil, fmt.Errorf("memory resolver %s: decode params: %w", def.Spec, err)
	}
	d := New(p.Users...)
	d.noCheckPass = p.NoCheckPass
	d.unavailable.Store(p.Unavailable)
	return d, nil
}

// Register adds this backend to r.
func Register(r *resolver.Registry) {
	r.RegisterFactory(Class, Factory)
}

// ResolverClass implements resolver.ClassIdentifier.
func (d *Directory) ResolverClass() string { return Class }

// Add inserts or replaces a user and returns its id, generating one when
// the user has none.
func (d *Directory) Add(u User) string {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.byID[u.ID]; ok {
		delete(d.byLogin, prev.Login)
	}
	d.byLogin[u.Login] = &u
	d.byID[u.ID] = &u
	return u.ID
}

// Rename changes the login of the user with id.
func (d *Directory) Rename(id, login string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return false
	}
	delete(d.byLogin, u.Login)
	u.Login = login
	d.byLogin[login] = u
	return true
}

// Remove deletes the user with login.
func (d *Directory) Remove(login string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.byLogin[login]; ok {
		delete(d.byID, u.ID)
		delete(d.byLogin, login)
	}
}

// SetAvailable toggles whether the directory answers calls.
func (d *Directory) SetAvailable(ok bool) { d.unavailable.Store(!ok) }

// Calls returns how often capability was invoked.
func (d *Directory) Calls(capability string) int64 {
	if c, ok := d.calls[capability]; ok {
		return c.Load()
	}
	return 0
}

func (d *Directory) enter(ctx context.Context, capability string) error {
	d.calls[capability].Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.unavailable.Load() {
		return resolver.Unavailable(fmt.Errorf("memory directory offline"))
	}
	return nil
}

func (d *Directory) UserID(ctx context.Context, login string) (string, error) {
	if err := d.enter(ctx, resolver.CapUserID); err != nil {
		return "", err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byLogin[login]
	if !ok {
		return "", resolver.ErrNotFound
	}
	return u.ID, nil
}

func (d *Directory) UserInfo(ctx context.Context, id string) (resolver.Profile, error) {
	if err := d.enter(ctx, resolver.CapUserInfo); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, resolver.ErrNotFound
	}
	return profileOf(u), nil
}

func (d *Directory) CheckPass(ctx context.Context, id, pw string) (bool, error) {
	if err := d.enter(ctx, resolver.CapCheckPass); err != nil {
		return false, err
	}
	if d.noCheckPass {
		return false, resolver.ErrNotImplemented
	}
	d.mu.RLock()
	u, ok := d.byID[id]
	d.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if password.IsHash(u.Password) {
		return password.Verify(pw, u.Password)
	}
	return u.Password != "" && subtle.ConstantTimeCompare([]byte(u.Password), []byte(pw)) == 1, nil
}

func (d *Directory) SearchFields(ctx context.Context) (map[string]string, error) {
	if err := d.enter(ctx, resolver.CapSearchFields); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(searchFields))
	for k, v := range searchFields {
		out[k] = v
	}
	return out, nil
}

// ListUsers returns matching users ordered by login.
func (d *Directory) ListUsers(ctx context.Context, filter map[string]string) (resolver.Iterator, error) {
	if err := d.enter(ctx, resolver.CapListUsers); err != nil {
		return nil, err
	}
	d.mu.RLock()
	var out []resolver.Profile
	for _, u := range d.byLogin {
		if p := profileOf(u); resolver.MatchFilter(p, filter) {
			out = append(out, p)
		}
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Login() < out[j].Login() })
	return resolver.NewSliceIterator(out), nil
}

func profileOf(u *User) resolver.Profile {
	p := make(resolver.Profile, len(u.Attributes)+2)
	for k, v := range u.Attributes {
		p[k] = v
	}
	p[resolver.KeyUsername] = u.Login
	p[resolver.KeyUserID] = u.ID
	return p
}
