package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kbukum/idresolver/cache"
	"github.com/kbukum/idresolver/component"
	"github.com/kbukum/idresolver/config"
	"github.com/kbukum/idresolver/database"
	"github.com/kbukum/idresolver/logger"
	"github.com/kbukum/idresolver/observability"
	"github.com/kbukum/idresolver/realm"
	"github.com/kbukum/idresolver/realm/sqlstore"
	"github.com/kbukum/idresolver/redis"
	"github.com/kbukum/idresolver/resolution"
	"github.com/kbukum/idresolver/resolver"
	"github.com/kbukum/idresolver/resolver/memory"
	"github.com/kbukum/idresolver/resolver/sqlresolver"
)

// Service wires the resolution core to its infrastructure and owns its
// lifecycle.
type Service struct {
	cfg   *Config
	log   *logger.Logger
	infra *component.Registry
	reg   *resolver.Registry
	file  config.Settings

	db      *database.Component
	rdb     *redis.Component
	metrics *observability.Metrics

	mu       sync.Mutex
	started  bool
	shutdown func(context.Context) error
	settings *liveSettings
	store    realm.Store
	sql      *sqlstore.Store
	gateway  *resolver.Gateway
	dir      *realm.Directory
	lookup   *cache.Lookup
	members  *cache.Membership
	engine   *resolution.Engine
}

var _ component.Component = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithSettings supplies the key based view of the configuration file, as
// returned by config.Load. Cache switches and login flags are read from it.
func WithSettings(settings config.Settings) Option {
	return func(s *Service) { s.file = settings }
}

// WithRegistry replaces the resolver registry. The memory and sql classes
// are registered on it as well.
func WithRegistry(reg *resolver.Registry) Option {
	return func(s *Service) { s.reg = reg }
}

// New validates cfg and prepares the service. Nothing is connected until
// Start.
func New(cfg *Config, opts ...Option) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.GetGlobalLogger()
	}
	s.log = s.log.WithComponent("service")
	if s.reg == nil {
		s.reg = resolver.NewRegistry()
	}
	if s.file == nil {
		s.file = config.NewMapSettings(nil)
	}
	memory.Register(s.reg)
	sqlresolver.Register(s.reg, s.log)

	s.infra = component.NewRegistry(s.log)
	if cfg.Database.Enabled {
		s.db = database.NewComponent(cfg.Database, s.log)
		if err := s.infra.Register(s.db); err != nil {
			return nil, err
		}
	}
	if cfg.Redis.Enabled {
		s.rdb = redis.NewComponent(cfg.Redis, s.log)
		if err := s.infra.Register(s.rdb); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start connects the infrastructure, loads realms and resolvers and builds
// the engine. A failure rolls back whatever was started.
func (s *Service) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	shutdown, err := observability.Setup(ctx, s.cfg.Telemetry, s.cfg.Name, s.cfg.Version)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	s.shutdown = shutdown
	s.metrics = s.newMetrics()

	if err := s.infra.StartAll(ctx); err != nil {
		_ = s.shutdown(ctx)
		return err
	}
	defer func() {
		if err != nil {
			s.teardown(ctx)
		}
	}()

	if err := s.openStore(ctx); err != nil {
		return err
	}
	s.settings = &liveSettings{}
	if err := s.refreshSettings(ctx); err != nil {
		return err
	}

	s.gateway = resolver.NewGateway(s.reg, s.cfg.Gateway,
		resolver.WithLogger(s.log), resolver.WithMetrics(s.metrics))
	if _, err := s.gateway.Load(ctx, s.cfg.Resolvers); err != nil {
		return err
	}

	s.dir = realm.NewDirectory(s.store, s.log)
	if err := s.dir.Load(ctx); err != nil {
		return err
	}

	lookupStore, memberStore, err := s.cacheStores()
	if err != nil {
		return err
	}
	s.lookup = cache.NewLookup(s.gateway,
		cache.WithStore(lookupStore),
		cache.WithPolicy(s.cfg.Cache.Policy(s.settings, cache.UserLookupSetting, s.log)),
		cache.WithMetrics(s.metrics),
		cache.WithLogger(s.log))
	s.members = cache.NewMembership(
		cache.WithStore(memberStore),
		cache.WithPolicy(cache.SettingsPolicy(s.settings, cache.ResolverLookupSetting, nil, s.log)),
		cache.WithMetrics(s.metrics),
		cache.WithLogger(s.log))
	s.dir.OnInvalidate(func(name string) {
		if err := s.members.InvalidateRealm(context.Background(), name); err != nil {
			s.log.Warn("Membership invalidation failed", logger.MergeWithError(logger.Fields(logger.FieldRealm, name), err))
		}
	})

	s.engine = resolution.NewEngine(s.dir, s.gateway, s.lookup, s.members, s.settings,
		resolution.WithLogger(s.log),
		resolution.WithLookupConcurrency(s.cfg.LookupConcurrency))
	s.started = true

	s.log.Info("Resolver service started", logger.Fields(
		"realms", len(s.dir.Names()),
		"resolvers", len(s.gateway.Specs()),
		"config_store", s.cfg.ConfigStore,
		logger.FieldCacheKind, s.cfg.Cache.Store,
	))
	return nil
}

func (s *Service) newMetrics() *observability.Metrics {
	m, err := observability.NewMetrics(observability.Meter(s.cfg.Name))
	if err != nil {
		s.log.Warn("Metrics disabled", logger.MergeWithError(nil, err))
		return observability.NopMetrics()
	}
	return m
}

// openStore selects the configuration store. An empty sql store is seeded
// from the static realm section.
func (s *Service) openStore(ctx context.Context) error {
	if s.cfg.ConfigStore != StoreSQL {
		s.store = realm.NewStaticStore(s.cfg.Realms, s.cfg.Login.DefaultRealm)
		return nil
	}
	st := sqlstore.New(s.db.DB(), s.log)
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	existing, err := st.Realms(ctx)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		names := make([]string, 0, len(s.cfg.Realms))
		for name := range s.cfg.Realms {
			names = append(names, name)
		}
		sort.Strings(names)
		def := s.cfg.Login.DefaultRealm
		for _, name := range names {
			if err := st.SetRealm(ctx, name, s.cfg.Realms[name].Resolvers); err != nil {
				return err
			}
			if def == "" && s.cfg.Realms[name].Default {
				def = name
			}
		}
		if def != "" {
			if err := st.SetDefaultRealm(ctx, def); err != nil {
				return err
			}
		}
		s.log.Info("Seeded configuration store", logger.Fields("realms", len(names)))
	}
	s.sql = st
	s.store = st
	return nil
}

func (s *Service) cacheStores() (lookup, members cache.Store, err error) {
	if s.cfg.Cache.Store != "redis" {
		return cache.NewMemoryStore(), cache.NewMemoryStore(), nil
	}
	client := s.rdb.Client()
	if client == nil {
		return nil, nil, fmt.Errorf("redis cache store: client not started")
	}
	st := cache.NewRedisStore(client)
	return st, st, nil
}

// refreshSettings rebuilds the layered settings: values of the sql store
// first, then the login section, then the configuration file.
func (s *Service) refreshSettings(ctx context.Context) error {
	layers := config.Chain{}
	if s.sql != nil {
		snap, err := s.sql.Settings(ctx)
		if err != nil {
			return err
		}
		layers = append(layers, snap)
	}
	layers = append(layers, s.cfg.loginSettings(), s.file)
	s.settings.swap(layers)
	return nil
}

// Reload rereads the configuration store and the resolver definitions and
// drops cached data that may have been derived from changed definitions.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return fmt.Errorf("service not started")
	}
	if err := s.refreshSettings(ctx); err != nil {
		return err
	}
	if err := s.dir.Load(ctx); err != nil {
		return err
	}
	changed, err := s.gateway.Load(ctx, s.cfg.Resolvers)
	if err != nil {
		return err
	}
	for _, spec := range changed {
		if err := s.lookup.Invalidate(ctx, spec); err != nil {
			s.log.Warn("Lookup invalidation failed", logger.MergeWithError(logger.Fields(logger.FieldResolverSpec, spec.String()), err))
		}
	}
	if err := s.members.InvalidateAll(ctx); err != nil {
		return err
	}
	s.log.Info("Configuration reloaded", logger.Fields("changed_resolvers", len(changed)))
	return nil
}

// Stop closes resolvers and infrastructure.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.teardown(ctx)
	s.started = false
	s.log.Info("Resolver service stopped")
	return nil
}

func (s *Service) teardown(ctx context.Context) {
	if s.gateway != nil {
		if err := s.gateway.Close(); err != nil {
			s.log.Warn("Closing resolvers failed", logger.MergeWithError(nil, err))
		}
	}
	if err := s.infra.StopAll(ctx); err != nil {
		s.log.Warn("Stopping components failed", logger.MergeWithError(nil, err))
	}
	if s.shutdown != nil {
		if err := s.shutdown(ctx); err != nil {
			s.log.Warn("Telemetry shutdown failed", logger.MergeWithError(nil, err))
		}
	}
}

// Name implements component.Component.
func (s *Service) Name() string { return "idresolver" }

// Health folds Checks into one result. Resolvers with an open circuit
// degrade the service.
func (s *Service) Health(ctx context.Context) component.Health {
	checks := s.Checks(ctx)
	h := component.Health{Name: s.Name(), Status: component.Overall(checks)}
	var notes []string
	for _, c := range checks {
		if c.Status != component.StatusHealthy {
			notes = append(notes, c.Name+"="+string(c.Status))
		}
	}
	h.Message = strings.Join(notes, ",")
	return h
}

// Checks reports every infrastructure component followed by the resolvers.
func (s *Service) Checks(ctx context.Context) []component.Health {
	return append(s.infra.HealthAll(ctx), s.ownHealth())
}

func (s *Service) ownHealth() component.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := component.Health{Name: "resolvers", Status: component.StatusHealthy}
	switch {
	case !s.started:
		h.Status = component.StatusUnhealthy
		h.Message = "not started"
	case len(s.gateway.OpenCircuits()) > 0:
		h.Status = component.StatusDegraded
		h.Message = "open circuits: " + strings.Join(s.gateway.OpenCircuits(), ",")
	}
	return h
}

// Engine returns the resolution engine. It is nil before Start.
func (s *Service) Engine() *resolution.Engine { return s.engine }

// Directory returns the realm directory.
func (s *Service) Directory() *realm.Directory { return s.dir }

// Gateway returns the resolver gateway.
func (s *Service) Gateway() *resolver.Gateway { return s.gateway }

// SQLStore returns the sql configuration store, or nil when realms come
// from the configuration file.
func (s *Service) SQLStore() *sqlstore.Store { return s.sql }

// Settings returns the layered settings view the caches read.
func (s *Service) Settings() config.Settings { return s.settings }

// liveSettings lets a reload swap the layers under components that keep a
// reference.
type liveSettings struct {
	layers atomic.Pointer[config.Chain]
}

var _ config.Settings = (*liveSettings)(nil)

func (l *liveSettings) swap(c config.Chain) { l.layers.Store(&c) }

func (l *liveSettings) current() config.Chain {
	if c := l.layers.Load(); c != nil {
		return *c
	}
	return nil
}

func (l *liveSettings) Get(key string, def any) any { return l.current().Get(key, def) }

func (l *liveSettings) Bool(key string, def bool) bool { return l.current().Bool(key, def) }

func (l *liveSettings) String(key, def string) string { return l.current().String(key, def) }
