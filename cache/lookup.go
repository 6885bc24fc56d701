package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kbukum/idresolver/config"
	"github.com/kbukum/idresolver/errors"
	"github.com/kbukum/idresolver/logger"
	"github.com/kbukum/idresolver/observability"
	"github.com/kbukum/idresolver/resolver"
	"github.com/kbukum/idresolver/resolverspec"
)

// DefaultFetchTimeout bounds a shared backend fetch once it has been
// detached from the caller that started it.
const DefaultFetchTimeout = 30 * time.Second

// Gateway is the part of the resolver gateway the lookup cache feeds from.
type Gateway interface {
	UserID(ctx context.Context, spec resolverspec.Spec, login string) (string, error)
	UserInfo(ctx context.Context, spec resolverspec.Spec, id string) (resolver.Profile, error)
}

// Result is a resolved (login, id) pair. Profile is set for answers that
// came from a profile lookup.
type Result struct {
	Login   string
	ID      string
	Profile resolver.Profile
}

// Lookup is the bidirectional login/id cache in front of the gateway.
// At most one backend fetch per key is in flight at any time.
type Lookup struct {
	gw           Gateway
	store        Store
	policy       Policy
	metrics      *observability.Metrics
	log          *logger.Logger
	fetchTimeout time.Duration
	group        singleflight.Group

	// gens counts invalidations per resolver spec. A fetch started under an
	// older generation never writes its result.
	genMu sync.RWMutex
	gens  map[string]uint64
}

// LookupOption configures a Lookup.
type LookupOption func(*Lookup)

// WithStore sets the entry store. The default is a MemoryStore.
func WithStore(s Store) LookupOption {
	return func(l *Lookup) { l.store = s }
}

// WithPolicy sets the per-resolver settings policy.
func WithPolicy(p Policy) LookupOption {
	return func(l *Lookup) { l.policy = p }
}

// WithMetrics records hits, misses and repairs.
func WithMetrics(m *observability.Metrics) LookupOption {
	return func(l *Lookup) { l.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) LookupOption {
	return func(l *Lookup) { l.log = log }
}

// WithFetchTimeout bounds shared fetches.
func WithFetchTimeout(d time.Duration) LookupOption {
	return func(l *Lookup) { l.fetchTimeout = d }
}

// NewLookup creates a lookup cache over gw. Without a policy every resolver
// is cached for config.DefaultExpiration.
func NewLookup(gw Gateway, opts ...LookupOption) *Lookup {
	l := &Lookup{
		gw:           gw,
		fetchTimeout: DefaultFetchTimeout,
		gens:         make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		l.store = NewMemoryStore()
	}
	if l.policy == nil {
		l.policy = Static(Settings{Enabled: true, Expiration: config.DefaultExpiration})
	}
	if l.metrics == nil {
		l.metrics = observability.NopMetrics()
	}
	if l.log == nil {
		l.log = logger.Nop()
	}
	l.log = l.log.WithComponent("cache")
	return l
}

func specPrefix(spec string) string { return observability.CacheUserLookup + "::" + spec + "::" }

func loginKey(spec, login string) string { return specPrefix(spec) + "login:" + login }

func idKey(spec, id string) string { return specPrefix(spec) + "id:" + id }

// ResolveByLogin answers the id of login in spec.
func (l *Lookup) ResolveByLogin(ctx context.Context, login string, spec resolverspec.Spec) (Result, error) {
	s := spec.String()
	fetch := func(ctx context.Context) (Entry, error) {
		id, err := l.gw.UserID(ctx, spec, login)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Login: login, ID: id}, nil
	}
	e, err := l.resolve(ctx, s, loginKey(s, login), fetch)
	if err != nil {
		return Result{}, err
	}
	if e.Negative {
		return Result{}, errors.UserNotFound(login, s)
	}
	return Result{Login: e.Login, ID: e.ID}, nil
}

// ResolveByID answers the login and profile of id in spec.
func (l *Lookup) ResolveByID(ctx context.Context, id string, spec resolverspec.Spec) (Result, error) {
	s := spec.String()
	fetch := func(ctx context.Context) (Entry, error) {
		p, err := l.gw.UserInfo(ctx, spec, id)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Login: p.Login(), ID: id, Profile: p}, nil
	}
	e, err := l.resolve(ctx, s, idKey(s, id), fetch)
	if err != nil {
		return Result{}, err
	}
	if e.Negative {
		return Result{}, errors.UserNotFound(id, s)
	}
	return Result{Login: e.Login, ID: e.ID, Profile: e.Profile}, nil
}

// ResolveConsistent resolves login and checks the answer against the
// reverse lookup of its id. When the reverse lookup reports a different
// login the three entries involved are dropped and a CacheInconsistent
// error is returned together with the forward answer, so the caller may
// retry or accept it. A missing reverse profile is not a disagreement.
func (l *Lookup) ResolveConsistent(ctx context.Context, login string, spec resolverspec.Spec) (Result, error) {
	fwd, err := l.ResolveByLogin(ctx, login, spec)
	if err != nil {
		return Result{}, err
	}
	rev, err := l.ResolveByID(ctx, fwd.ID, spec)
	switch {
	case errors.IsUserNotFound(err):
		// No reverse login to compare against.
		return fwd, nil
	case err != nil:
		return Result{}, err
	case rev.Login != "" && rev.Login != fwd.Login:
		l.repair(ctx, spec.String(), fwd.Login, fwd.ID, rev.Login)
		return fwd, errors.CacheInconsistent(spec.String(), fwd.ID)
	}
	fwd.Profile = rev.Profile
	return fwd, nil
}

// repair drops the forward entry of the old login, the reverse entry of id
// and the forward entry of the login the reverse lookup reported.
func (l *Lookup) repair(ctx context.Context, spec, oldLogin, id, newLogin string) {
	l.bump(spec)
	keys := []string{loginKey(spec, oldLogin), idKey(spec, id)}
	if newLogin != "" && newLogin != oldLogin {
		keys = append(keys, loginKey(spec, newLogin))
	}
	if err := l.store.Delete(ctx, keys...); err != nil {
		l.log.Error("Cache repair failed", logger.MergeWithError(logger.ResolverFields(spec, "repair"), err))
	}
	l.metrics.CacheRepair(ctx, spec)
	l.log.Warn("Login and id cache disagree, entries dropped", logger.Fields(
		logger.FieldResolverSpec, spec,
		logger.FieldLogin, oldLogin,
		logger.FieldUserID, id,
		"reverse_login", newLogin,
	))
}

// Warm stores both directions of a profile the backend already returned.
func (l *Lookup) Warm(ctx context.Context, spec resolverspec.Spec, p resolver.Profile) {
	s := spec.String()
	settings := l.policy(s)
	login, id := p.Login(), p.UserID()
	if !settings.Enabled || login == "" || id == "" {
		return
	}
	l.genMu.RLock()
	defer l.genMu.RUnlock()
	if err := l.store.Set(ctx, loginKey(s, login), Entry{Login: login, ID: id}, settings.Expiration); err != nil {
		l.log.Debug("Cache warm failed", logger.MergeWithError(logger.ResolverFields(s, "warm"), err))
		return
	}
	_ = l.store.Set(ctx, idKey(s, id), Entry{Login: login, ID: id, Profile: p.Clone()}, settings.Expiration)
}

// Invalidate drops every entry of spec.
func (l *Lookup) Invalidate(ctx context.Context, spec resolverspec.Spec) error {
	s := spec.String()
	l.bump(s)
	if err := l.store.DeletePrefix(ctx, specPrefix(s)); err != nil {
		return errors.Internal(err).WithDetail(logger.FieldResolverSpec, s)
	}
	l.log.Info("User lookup cache invalidated", logger.Fields(logger.FieldResolverSpec, s))
	return nil
}

// InvalidateKey drops the entries keyed by loginOrID in both directions.
func (l *Lookup) InvalidateKey(ctx context.Context, loginOrID string, spec resolverspec.Spec) error {
	s := spec.String()
	l.bump(s)
	if err := l.store.Delete(ctx, loginKey(s, loginOrID), idKey(s, loginOrID)); err != nil {
		return errors.Internal(err).WithDetail(logger.FieldResolverSpec, s)
	}
	return nil
}

func (l *Lookup) generation(spec string) uint64 {
	l.genMu.RLock()
	defer l.genMu.RUnlock()
	return l.gens[spec]
}

func (l *Lookup) bump(spec string) {
	l.genMu.Lock()
	l.gens[spec]++
	l.genMu.Unlock()
}

// resolve serves key from the store or runs fetch once for all concurrent
// callers. Negative answers are stored as negative entries; every other
// failure is returned without touching the store.
func (l *Lookup) resolve(ctx context.Context, spec, key string, fetch func(context.Context) (Entry, error)) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	settings := l.policy(spec)
	if !settings.Enabled {
		return direct(ctx, fetch)
	}

	e, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.log.Warn("Cache read failed, asking backend", logger.MergeWithError(logger.ResolverFields(spec, "get"), err))
	}
	if ok {
		if e.Negative {
			l.metrics.CacheNegative(ctx, observability.CacheUserLookup, spec)
		} else {
			l.metrics.CacheHit(ctx, observability.CacheUserLookup, spec)
		}
		return e, nil
	}
	l.metrics.CacheMiss(ctx, observability.CacheUserLookup, spec)

	gen := l.generation(spec)
	flight := key + "#" + strconv.FormatUint(gen, 10)
	ch := l.group.DoChan(flight, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.fetchTimeout)
		defer cancel()
		e, err := direct(fctx, fetch)
		if err != nil {
			return Entry{}, err
		}
		l.keep(fctx, spec, key, e, gen, settings.Expiration)
		return e, nil
	})

	select {
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Entry{}, r.Err
		}
		return r.Val.(Entry).clone(), nil
	}
}

// keep stores e unless spec was invalidated after gen was read.
func (l *Lookup) keep(ctx context.Context, spec, key string, e Entry, gen uint64, ttl time.Duration) {
	l.genMu.RLock()
	defer l.genMu.RUnlock()
	if l.gens[spec] != gen {
		l.log.Debug("Dropping result of invalidated fetch", logger.ResolverFields(spec, "store"))
		return
	}
	if err := l.store.Set(ctx, key, e, ttl); err != nil {
		l.log.Warn("Cache write failed", logger.MergeWithError(logger.ResolverFields(spec, "store"), err))
	}
}

// direct runs fetch and folds a gateway not-found into a negative entry.
func direct(ctx context.Context, fetch func(context.Context) (Entry, error)) (Entry, error) {
	e, err := fetch(ctx)
	if errors.IsUserNotFound(err) {
		return Entry{Negative: true}, nil
	}
	return e, err
}
