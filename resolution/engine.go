package resolution

import (
	"context"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/idresolver/audit"
	"github.com/kbukum/idresolver/cache"
	"github.com/kbukum/idresolver/config"
	"github.com/kbukum/idresolver/errors"
	"github.com/kbukum/idresolver/identity"
	"github.com/kbukum/idresolver/logger"
	"github.com/kbukum/idresolver/realm"
	"github.com/kbukum/idresolver/resolver"
	"github.com/kbukum/idresolver/resolverspec"
)

// SplitAtSignSetting enables splitting "user@realm" logins.
const SplitAtSignSetting = "splitAtSign"

// Gateway is the part of the resolver gateway the engine calls directly.
// Id and profile lookups go through the lookup cache instead.
type Gateway interface {
	Class(spec resolverspec.Spec) string
	CheckPass(ctx context.Context, spec resolverspec.Spec, id, password string) (bool, error)
	SearchFields(ctx context.Context, spec resolverspec.Spec) (map[string]string, error)
	ListUsers(ctx context.Context, spec resolverspec.Spec, filter map[string]string) (resolver.Iterator, error)
}

var _ Gateway = (*resolver.Gateway)(nil)

// Engine resolves user references against the configured realms.
type Engine struct {
	dir         *realm.Directory
	gw          Gateway
	lookup      *cache.Lookup
	members     *cache.Membership
	settings    config.Settings
	log         *logger.Logger
	concurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithLookupConcurrency lets binding discovery ask up to n resolvers of a
// realm at once. Results are still merged in realm order. n <= 1 asks them
// one after another.
func WithLookupConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

// NewEngine wires the engine. A nil membership cache disables membership
// caching; nil settings read as empty.
func NewEngine(dir *realm.Directory, gw Gateway, lookup *cache.Lookup, members *cache.Membership, settings config.Settings, opts ...Option) *Engine {
	e := &Engine{
		dir:         dir,
		gw:          gw,
		lookup:      lookup,
		members:     members,
		settings:    settings,
		log:         logger.Nop(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.members == nil {
		e.members = cache.NewMembership()
	}
	if e.settings == nil {
		e.settings = config.NewMapSettings(nil)
	}
	e.log = e.log.WithComponent("resolution")
	return e
}

// Directory returns the realm directory the engine reads.
func (e *Engine) Directory() *realm.Directory { return e.dir }

// hit is one resolver that knows the login.
type hit struct {
	spec    resolverspec.Spec
	id      string
	profile resolver.Profile
}

// scanResult is the outcome of asking a list of resolvers for one login.
type scanResult struct {
	hits        []hit
	unavailable []string
}

// BindUser discovers every binding of u in its resolver set. The scan is
// exhaustive and keeps realm order. Resolvers that cannot be reached are
// noted in sink and skipped; when none binds, u is marked as not existing
// and BindUser still returns nil. Only cancellation aborts the scan.
func (e *Engine) BindUser(ctx context.Context, sink audit.Sink, u *identity.User) error {
	sink = audit.OrDiscard(sink)
	u.Reset()

	specs := e.dir.ResolversFor(u)
	var res scanResult
	if name, ok := e.membershipRealm(u); ok {
		var own *scanResult
		m, err := e.members.Get(ctx, u.Login, name, func(ctx context.Context) (cache.Members, error) {
			r, err := e.scan(ctx, u.Login, specs)
			if err != nil {
				return cache.Members{}, err
			}
			own = &r
			return r.members(), nil
		})
		if err != nil {
			return err
		}
		if own != nil {
			res = *own
		} else {
			// Another caller computed the membership; the lookup cache
			// answers the member resolvers cheaply.
			cached, err := resolverspec.ParseAll(m.Specs)
			if err != nil {
				return err
			}
			if res, err = e.scan(ctx, u.Login, cached); err != nil {
				return err
			}
			res.unavailable = mergeNames(m.Unavailable, res.unavailable)
		}
	} else {
		var err error
		if res, err = e.scan(ctx, u.Login, specs); err != nil {
			return err
		}
	}

	for _, spec := range res.unavailable {
		audit.NoteUnavailable(sink, spec)
	}
	for _, h := range res.hits {
		u.Bind(identity.Binding{Spec: h.spec, ID: h.id, Class: e.gw.Class(h.spec)})
		if h.profile != nil {
			u.SetProfile(h.spec, h.profile)
		}
	}
	if len(res.hits) == 0 {
		u.SetExistence(identity.ExistenceFalse)
		e.log.Debug("No resolver knows the user", logger.Fields(
			logger.FieldLogin, u.Login, logger.FieldRealm, u.Realm, "resolvers", len(specs)))
	}
	return nil
}

// Exists reports whether u has at least one binding, discovering them when
// that was not done yet.
func (e *Engine) Exists(ctx context.Context, sink audit.Sink, u *identity.User) (bool, error) {
	if u.Existence() == identity.ExistenceUnknown {
		if err := e.BindUser(ctx, sink, u); err != nil {
			return false, err
		}
	}
	return u.Resolved(), nil
}

// UniqueID returns the single id u has across its bindings. It fails with
// NoSuchUser when there is no binding and with AmbiguousUser when the
// bindings disagree on the id.
func (e *Engine) UniqueID(ctx context.Context, sink audit.Sink, u *identity.User) (string, error) {
	if _, err := e.Exists(ctx, sink, u); err != nil {
		return "", err
	}
	ids := u.IDs()
	switch len(ids) {
	case 0:
		return "", errors.NoSuchUser(u.Login, e.realmOf(u))
	case 1:
		return ids[0], nil
	default:
		e.log.Warn("Login maps to several user ids", logger.Fields(
			logger.FieldLogin, u.Login, logger.FieldRealm, e.realmOf(u), "ids", ids))
		return "", errors.AmbiguousUser(u.Login, e.realmOf(u), ids)
	}
}

// ResolveUser interprets the request parameters, binds the user and checks
// that it has one unique id.
func (e *Engine) ResolveUser(ctx context.Context, sink audit.Sink, login, realmName, resolverConf string) (*identity.User, error) {
	u := e.ParseUser(login, realmName, resolverConf)
	if err := e.BindUser(ctx, sink, u); err != nil {
		return nil, err
	}
	if !u.Resolved() && realmName == "" && resolverConf == "" && u.Login != login {
		// The split suffix named a realm that does not know the user; the
		// unsplit login may still exist in the default realm.
		alt := identity.New(login, e.dir.DefaultName(), "")
		if err := e.BindUser(ctx, sink, alt); err != nil {
			return nil, err
		}
		if alt.Resolved() {
			u = alt
		}
	}
	if _, err := e.UniqueID(ctx, sink, u); err != nil {
		return nil, err
	}
	return u, nil
}

// UserInfo returns the profile behind the unique id of u.
func (e *Engine) UserInfo(ctx context.Context, sink audit.Sink, u *identity.User) (resolver.Profile, error) {
	id, err := e.UniqueID(ctx, sink, u)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, b := range u.Bindings() {
		if b.ID != id {
			continue
		}
		if p, ok := u.Profile(b.Spec); ok {
			return resolver.Profile(p).Clone(), nil
		}
		r, err := e.lookup.ResolveByID(ctx, id, b.Spec)
		switch {
		case err == nil:
			u.SetProfile(b.Spec, r.Profile)
			return r.Profile.Clone(), nil
		case errors.IsResolverUnavailable(err):
			audit.NoteUnavailable(sink, b.Spec.String())
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.NoSuchUser(u.Login, e.realmOf(u))
	}
	return nil, lastErr
}

// InvalidateRealmCache reloads the realm directory and drops the cached
// memberships of realm.
func (e *Engine) InvalidateRealmCache(ctx context.Context, realmName string) error {
	if err := e.dir.Invalidate(ctx, realmName); err != nil {
		return err
	}
	return e.members.InvalidateRealm(ctx, realmName)
}

// InvalidateResolverCache drops every lookup entry of spec. Memberships of
// all realms are dropped too since any of them may list spec.
func (e *Engine) InvalidateResolverCache(ctx context.Context, spec string) error {
	parsed, err := resolverspec.Parse(spec)
	if err != nil {
		return err
	}
	if err := e.lookup.Invalidate(ctx, parsed); err != nil {
		return err
	}
	return e.members.InvalidateAll(ctx)
}

// membershipRealm returns the realm whose membership cache serves u. Only a
// plain or default realm without a resolver override is cached.
func (e *Engine) membershipRealm(u *identity.User) (string, bool) {
	if u.ResolverConfigID != "" || strings.Contains(u.Realm, realm.Wildcard) {
		return "", false
	}
	name := u.Realm
	if name == "" {
		name = e.dir.DefaultName()
	}
	return name, name != ""
}

func (e *Engine) realmOf(u *identity.User) string {
	if u.Realm != "" || u.ResolverConfigID != "" {
		return u.Realm
	}
	return e.dir.DefaultName()
}

// scan asks every spec for login and merges the answers in spec order.
func (e *Engine) scan(ctx context.Context, login string, specs []resolverspec.Spec) (scanResult, error) {
	outcomes := make([]outcome, len(specs))
	if e.concurrency <= 1 || len(specs) <= 1 {
		for i, spec := range specs {
			o, err := e.lookupOne(ctx, login, spec)
			if err != nil {
				return scanResult{}, err
			}
			outcomes[i] = o
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency)
		for i, spec := range specs {
			g.Go(func() error {
				o, err := e.lookupOne(gctx, login, spec)
				outcomes[i] = o
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return scanResult{}, err
		}
	}

	var res scanResult
	for i, o := range outcomes {
		switch {
		case o.found:
			res.hits = append(res.hits, hit{spec: specs[i], id: o.id, profile: o.profile})
		case o.unavailable:
			res.unavailable = append(res.unavailable, specs[i].String())
		}
	}
	return res, nil
}

type outcome struct {
	found       bool
	unavailable bool
	id          string
	profile     resolver.Profile
}

// lookupOne resolves login in one resolver. Backend failures become part of
// the outcome; only cancellation of ctx is returned as an error.
func (e *Engine) lookupOne(ctx context.Context, login string, spec resolverspec.Spec) (outcome, error) {
	r, err := e.lookup.ResolveConsistent(ctx, login, spec)
	if errors.IsCacheInconsistent(err) {
		r, err = e.lookup.ResolveConsistent(ctx, login, spec)
		if errors.IsCacheInconsistent(err) {
			// The backend keeps answering both directions differently. The
			// forward answer is what the login maps to right now.
			e.log.Warn("Lookup stayed inconsistent after repair", logger.Fields(
				logger.FieldLogin, login, logger.FieldResolverSpec, spec.String(), logger.FieldUserID, r.ID))
			err = nil
		}
	}
	switch {
	case err == nil:
		return outcome{found: true, id: r.ID, profile: r.Profile}, nil
	case errors.IsUserNotFound(err):
		return outcome{}, nil
	case ctx.Err() != nil:
		return outcome{}, ctx.Err()
	case errors.IsResolverUnavailable(err):
		e.log.Error("Unable to connect to resolver", logger.Fields(logger.FieldResolverSpec, spec.String()))
		return outcome{unavailable: true}, nil
	default:
		e.log.Error("Resolver lookup failed", logger.MergeWithError(logger.Fields(
			logger.FieldLogin, login, logger.FieldResolverSpec, spec.String()), err))
		return outcome{unavailable: true}, nil
	}
}

func (r scanResult) members() cache.Members {
	m := cache.Members{Unavailable: append([]string(nil), r.unavailable...)}
	for _, h := range r.hits {
		m.Specs = append(m.Specs, h.spec.String())
	}
	return m
}

func mergeNames(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
