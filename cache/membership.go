package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kbukum/idresolver/errors"
	"github.com/kbukum/idresolver/logger"
	"github.com/kbukum/idresolver/observability"
)

// Members is the outcome of a realm membership scan: the resolver specs
// that contain a login and those that could not be asked.
type Members struct {
	Specs       []string
	Unavailable []string
}

// Complete reports whether every resolver answered.
func (m Members) Complete() bool { return len(m.Unavailable) == 0 }

// Membership memoizes which resolvers of a realm contain a login.
type Membership struct {
	store        Store
	policy       Policy
	metrics      *observability.Metrics
	log          *logger.Logger
	fetchTimeout time.Duration
	group        singleflight.Group

	// epoch counts InvalidateAll calls, gens the per-realm invalidations.
	genMu sync.RWMutex
	epoch uint64
	gens  map[string]uint64
}

// NewMembership creates a membership cache. It shares the option set of the
// lookup cache.
func NewMembership(opts ...LookupOption) *Membership {
	l := &Lookup{fetchTimeout: DefaultFetchTimeout}
	for _, opt := range opts {
		opt(l)
	}
	m := &Membership{
		store:        l.store,
		policy:       l.policy,
		metrics:      l.metrics,
		log:          l.log,
		fetchTimeout: l.fetchTimeout,
		gens:         make(map[string]uint64),
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.policy == nil {
		m.policy = Disabled
	}
	if m.metrics == nil {
		m.metrics = observability.NopMetrics()
	}
	if m.log == nil {
		m.log = logger.Nop()
	}
	m.log = m.log.WithComponent("cache")
	return m
}

func realmPrefix(realm string) string {
	return observability.CacheMembership + "::" + strings.ToLower(realm) + "::"
}

// Get returns the cached membership of login in realm or runs compute once
// for all concurrent callers. Incomplete results are returned but never
// stored.
func (m *Membership) Get(ctx context.Context, login, realm string, compute func(context.Context) (Members, error)) (Members, error) {
	realm = strings.ToLower(realm)
	settings := m.policy(realm)
	if !settings.Enabled {
		return compute(ctx)
	}

	key := realmPrefix(realm) + login
	e, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.log.Warn("Membership cache read failed", logger.MergeWithError(logger.Fields(logger.FieldRealm, realm), err))
	}
	if ok {
		m.metrics.CacheHit(ctx, observability.CacheMembership, realm)
		return Members{Specs: e.Specs}, nil
	}
	m.metrics.CacheMiss(ctx, observability.CacheMembership, realm)

	gen := m.generation(realm)
	ch := m.group.DoChan(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.fetchTimeout)
		defer cancel()
		res, err := compute(cctx)
		if err != nil {
			return Members{}, err
		}
		if res.Complete() {
			m.keep(cctx, realm, key, res, gen, settings.Expiration)
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		return Members{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Members{}, r.Err
		}
		res := r.Val.(Members)
		return Members{
			Specs:       append([]string(nil), res.Specs...),
			Unavailable: append([]string(nil), res.Unavailable...),
		}, nil
	}
}

func (m *Membership) keep(ctx context.Context, realm, key string, res Members, gen uint64, ttl time.Duration) {
	m.genMu.RLock()
	defer m.genMu.RUnlock()
	if m.epoch+m.gens[realm] != gen {
		return
	}
	if err := m.store.Set(ctx, key, Entry{Specs: res.Specs}, ttl); err != nil {
		m.log.Warn("Membership cache write failed", logger.MergeWithError(logger.Fields(logger.FieldRealm, realm), err))
	}
}

func (m *Membership) generation(realm string) uint64 {
	m.genMu.RLock()
	defer m.genMu.RUnlock()
	return m.epoch + m.gens[realm]
}

// InvalidateRealm drops every membership entry of realm.
func (m *Membership) InvalidateRealm(ctx context.Context, realm string) error {
	realm = strings.ToLower(realm)
	m.genMu.Lock()
	m.gens[realm]++
	m.genMu.Unlock()
	if err := m.store.DeletePrefix(ctx, realmPrefix(realm)); err != nil {
		return errors.Internal(err).WithDetail(logger.FieldRealm, realm)
	}
	m.log.Info("Resolver membership cache invalidated", logger.Fields(logger.FieldRealm, realm))
	return nil
}

// InvalidateAll drops the membership entries of every realm.
func (m *Membership) InvalidateAll(ctx context.Context) error {
	m.genMu.Lock()
	m.epoch++
	m.genMu.Unlock()
	if err := m.store.DeletePrefix(ctx, observability.CacheMembership+"::"); err != nil {
		return errors.Internal(err)
	}
	return nil
}
