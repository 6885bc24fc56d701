package resolver

import (
	"context"
	stderrors "errors"
	"fmt"
	"maps"
	"regexp"
	"strings"
)

// Capability names, used for spans, metrics and NotImplemented errors.
const (
	CapUserID       = "user_id"
	CapUserInfo     = "user_info"
	CapCheckPass    = "check_pass"
	CapSearchFields = "search_fields"
	CapListUsers    = "list_users"
)

// Sentinel errors a Backend returns; the Gateway maps them to the
// resolution error taxonomy for the resolver it called.
var (
	ErrNotFound       = stderrors.New("user not found")
	ErrUnavailable    = stderrors.New("backend unavailable")
	ErrNotImplemented = stderrors.New("capability not implemented")
)

// Unavailable wraps cause so the Gateway reports the backend as unreachable.
func Unavailable(cause error) error {
	if cause == nil {
		return ErrUnavailable
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, cause)
}

// Profile keys every backend fills.
const (
	KeyUsername = "username"
	KeyUserID   = "userid"
	// KeyResolverSpec tags listing results with their source resolver.
	KeyResolverSpec = "resolver_spec"
)

// Profile is the attribute map a backend returns for one user.
type Profile map[string]any

// Login returns the username attribute.
func (p Profile) Login() string {
	if v, ok := p[KeyUsername]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// UserID returns the userid attribute as a string.
func (p Profile) UserID() string {
	if v, ok := p[KeyUserID]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// Clone returns a shallow copy.
func (p Profile) Clone() Profile {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// Backend is the capability contract of one configured identity directory.
// Implementations return ErrNotFound, ErrUnavailable (see Unavailable) or
// ErrNotImplemented; any other error is a generic backend failure.
type Backend interface {
	// UserID returns the unique id of login.
	UserID(ctx context.Context, login string) (string, error)
	// UserInfo returns the profile of the user with the given id.
	UserInfo(ctx context.Context, id string) (Profile, error)
	// CheckPass verifies password for the user with the given id.
	CheckPass(ctx context.Context, id, password string) (bool, error)
	// SearchFields returns the searchable attributes and their types.
	SearchFields(ctx context.Context) (map[string]string, error)
	// ListUsers streams the profiles matching filter. The iterator is finite
	// and not restartable.
	ListUsers(ctx context.Context, filter map[string]string) (Iterator, error)
}

// ClassIdentifier is implemented by backends that report their own class
// identifier for bindings.
type ClassIdentifier interface {
	ResolverClass() string
}

// Iterator provides pull-based access to a listing.
type Iterator interface {
	// Next returns the next profile. Returns (nil, false, nil) when exhausted.
	Next(ctx context.Context) (Profile, bool, error)
	// Close releases any resources held by the iterator.
	Close() error
}

// SliceIterator iterates over an in-memory result set.
type SliceIterator struct {
	items []Profile
	pos   int
}

// NewSliceIterator returns an iterator over items.
func NewSliceIterator(items []Profile) *SliceIterator {
	return &SliceIterator{items: items}
}

func (it *SliceIterator) Next(ctx context.Context) (Profile, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if it.pos >= len(it.items) {
		return nil, false, nil
	}
	p := it.items[it.pos]
	it.pos++
	return p, true, nil
}

func (it *SliceIterator) Close() error {
	it.items = nil
	return nil
}

// Collect drains it and closes it.
func Collect(ctx context.Context, it Iterator) ([]Profile, error) {
	defer it.Close()
	var out []Profile
	for {
		p, ok, err := it.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, p)
	}
}

// MatchFilter reports whether every filter entry matches the profile value
// of the same key. Values may contain '*' wildcards and compare
// case-insensitively. An empty filter or a lone "*" matches everything.
func MatchFilter(p Profile, filter map[string]string) bool {
	for key, pattern := range filter {
		if pattern == "" || pattern == "*" {
			continue
		}
		v, ok := p[key]
		if !ok || v == nil {
			return false
		}
		if !WildcardPattern(pattern).MatchString(fmt.Sprint(v)) {
			return false
		}
	}
	return true
}

// WildcardPattern compiles a '*' wildcard into an anchored, case-insensitive
// regular expression.
func WildcardPattern(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("(?i)^" + strings.Join(parts, ".*") + "$")
}

// Unsupported can be embedded by backends lacking the optional capabilities.
type Unsupported struct{}

func (Unsupported) CheckPass(context.Context, string, string) (bool, error) {
	return false, ErrNotImplemented
}

func (Unsupported) SearchFields(context.Context) (map[string]string, error) {
	return nil, ErrNotImplemented
}

func (Unsupported) ListUsers(context.Context, map[string]string) (Iterator, error) {
	return nil, ErrNotImplemented
}
