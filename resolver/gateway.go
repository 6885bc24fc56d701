package resolver

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/kbukum/idresolver/errors"
	"github.com/kbukum/idresolver/logger"
	"github.com/kbukum/idresolver/observability"
	"github.com/kbukum/idresolver/resilience"
	"github.com/kbukum/idresolver/resolverspec"
)

// Config holds the per-resolver isolation settings of the Gateway.
type Config struct {
	// CallTimeout bounds every backend call. 0 disables the bound.
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	// MaxFailures is the number of consecutive unavailability failures
	// that open a resolver's circuit.
	MaxFailures int `yaml:"max_failures" mapstructure:"max_failures"`
	// OpenTimeout is how long a circuit stays open before probing again.
	OpenTimeout time.Duration `yaml:"open_timeout" mapstructure:"open_timeout"`
	// MaxConcurrent caps in-flight calls into one resolver.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	// MaxWait is how long a call waits for a free slot.
	MaxWait time.Duration `yaml:"max_wait" mapstructure:"max_wait"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.CallTimeout == 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 32
	}
	if c.MaxWait == 0 {
		c.MaxWait = time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.CallTimeout < 0 {
		return fmt.Errorf("gateway: call_timeout must be >= 0")
	}
	if c.MaxWait < 0 {
		return fmt.Errorf("gateway: max_wait must be >= 0")
	}
	return nil
}

type handle struct {
	def      Definition
	spec     resolverspec.Spec
	backend  Backend
	class    string
	loadErr  error
	breaker  *resilience.CircuitBreaker
	bulkhead *resilience.Bulkhead
	// inflight counts calls and open listings still using backend.
	inflight sync.WaitGroup
}

// Gateway adapts resolver specifications to backend capability calls. It
// never retries: unavailability is reported at once so the caller decides
// whether to skip the resolver or fail.
type Gateway struct {
	registry *Registry
	cfg      Config
	log      *logger.Logger
	metrics  *observability.Metrics

	mu      sync.RWMutex
	handles map[string]*handle
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(log *logger.Logger) GatewayOption {
	return func(g *Gateway) { g.log = log.WithComponent("resolver") }
}

// WithMetrics sets the instruments backend calls are recorded on.
func WithMetrics(m *observability.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway creates a gateway constructing backends from registry.
func NewGateway(registry *Registry, cfg Config, opts ...GatewayOption) *Gateway {
	cfg.ApplyDefaults()
	g := &Gateway{
		registry: registry,
		cfg:      cfg,
		log:      logger.Nop(),
		metrics:  observability.NopMetrics(),
		handles:  make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Load replaces the configured resolver set. Every backend is constructed
// once here; one that fails to construct stays configured and reports
// unavailable on every call. Unchanged definitions keep their backend and
// circuit state. Load returns the specs that were added, removed or changed.
func (g *Gateway) Load(ctx context.Context, defs []Definition) ([]resolverspec.Spec, error) {
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
	}

	g.mu.RLock()
	old := g.handles
	g.mu.RUnlock()

	next := make(map[string]*handle, len(defs))
	var changed []resolverspec.Spec
	for _, def := range defs {
		spec, err := resolverspec.Parse(def.Spec)
		if err != nil {
			return nil, err
		}
		key := spec.String()
		if _, dup := next[key]; dup {
			g.log.Warn("Duplicate resolver definition ignored", logger.Fields(logger.FieldResolverSpec, key))
			continue
		}
		if prev, ok := old[key]; ok && prev.loadErr == nil && reflect.DeepEqual(prev.def, def) {
			next[key] = prev
			continue
		}
		next[key] = g.build(ctx, spec, def)
		changed = append(changed, spec)
	}

	g.mu.Lock()
	g.handles = next
	g.mu.Unlock()

	for key, h := range old {
		if cur, ok := next[key]; ok && cur == h {
			continue
		}
		if _, ok := next[key]; !ok {
			changed = append(changed, h.spec)
		}
		go g.retire(h)
	}

	sort.Slice(changed, func(i, j int) bool { return changed[i].String() < changed[j].String() })
	g.log.Info("Resolvers loaded", logger.Fields("resolvers", len(next), "changed", len(changed)))
	return changed, nil
}

func (g *Gateway) build(ctx context.Context, spec resolverspec.Spec, def Definition) *handle {
	key := spec.String()
	h := &handle{def: def, spec: spec, class: spec.Class}
	h.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        key,
		MaxFailures: g.cfg.MaxFailures,
		Timeout:     g.cfg.OpenTimeout,
		IsFailure:   countsAgainstCircuit,
		OnStateChange: func(name string, from, to resilience.State) {
			g.log.Warn("Resolver circuit state changed", logger.Fields(
				logger.FieldResolverSpec, name, "from", from.String(), "to", to.String()))
		},
	})
	h.bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{
		Name:          key,
		MaxConcurrent: g.cfg.MaxConcurrent,
		MaxWait:       g.cfg.MaxWait,
	})

	backend, err := g.registry.Create(ctx, def)
	if err != nil {
		h.loadErr = err
		g.log.Warn("Resolver could not be constructed", logger.MergeWithError(
			logger.Fields(logger.FieldResolverSpec, key), err))
		return h
	}
	h.backend = backend
	if ci, ok := backend.(ClassIdentifier); ok && ci.ResolverClass() != "" {
		h.class = ci.ResolverClass()
	}
	return h
}

func countsAgainstCircuit(err error) bool {
	return stderrors.Is(err, ErrUnavailable) ||
		errors.IsResolverUnavailable(err) ||
		stderrors.Is(err, context.DeadlineExceeded)
}

// retire closes a replaced backend once nothing uses it anymore.
func (g *Gateway) retire(h *handle) {
	h.inflight.Wait()
	closeBackend(h, g.log)
}

func closeBackend(h *handle, log *logger.Logger) {
	c, ok := h.backend.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		log.Warn("Closing resolver failed", logger.MergeWithError(
			logger.Fields(logger.FieldResolverSpec, h.spec.String()), err))
	}
}

// Specs returns the configured resolver specs, sorted.
func (g *Gateway) Specs() []resolverspec.Spec {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]resolverspec.Spec, 0, len(g.handles))
	for _, h := range g.handles {
		out = append(out, h.spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Has reports whether spec is configured.
func (g *Gateway) Has(spec resolverspec.Spec) bool {
	_, ok := g.lookup(spec)
	return ok
}

// Class returns the class identifier recorded on bindings of spec.
func (g *Gateway) Class(spec resolverspec.Spec) string {
	if h, ok := g.lookup(spec); ok {
		return h.class
	}
	return spec.Class
}

// OpenCircuits returns the specs whose circuit is currently open.
func (g *Gateway) OpenCircuits() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for key, h := range g.handles {
		if h.loadErr != nil || h.breaker.State() == resilience.StateOpen {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// Close releases every backend after its in-flight calls and open listings
// are done.
func (g *Gateway) Close() error {
	g.mu.Lock()
	handles := g.handles
	g.handles = make(map[string]*handle)
	g.mu.Unlock()
	for _, h := range handles {
		g.retire(h)
	}
	return nil
}

func (g *Gateway) lookup(spec resolverspec.Spec) (*handle, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.handles[spec.String()]
	return h, ok
}

// acquire looks spec up and marks its handle in use until release is
// called. Load swaps handles under the write lock, so a retired handle
// gains no new users.
func (g *Gateway) acquire(spec resolverspec.Spec) (h *handle, release func()) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.handles[spec.String()]
	if !ok {
		return nil, func() {}
	}
	h.inflight.Add(1)
	return h, h.inflight.Done
}

// UserID looks up the unique id of login in spec.
func (g *Gateway) UserID(ctx context.Context, spec resolverspec.Spec, login string) (string, error) {
	var id string
	err := g.call(ctx, spec, CapUserID, login, func(ctx context.Context, b Backend) error {
		var err error
		id, err = b.UserID(ctx, login)
		if err == nil && id == "" {
			err = ErrNotFound
		}
		return err
	})
	return id, err
}

// UserInfo returns the profile of id in spec.
func (g *Gateway) UserInfo(ctx context.Context, spec resolverspec.Spec, id string) (Profile, error) {
	var p Profile
	err := g.call(ctx, spec, CapUserInfo, id, func(ctx context.Context, b Backend) error {
		var err error
		p, err = b.UserInfo(ctx, id)
		if err == nil && len(p) == 0 {
			err = ErrNotFound
		}
		return err
	})
	return p, err
}

// CheckPass verifies password for id in spec.
func (g *Gateway) CheckPass(ctx context.Context, spec resolverspec.Spec, id, password string) (bool, error) {
	var ok bool
	err := g.call(ctx, spec, CapCheckPass, id, func(ctx context.Context, b Backend) error {
		var err error
		ok, err = b.CheckPass(ctx, id, password)
		return err
	})
	return ok, err
}

// SearchFields returns the search field schema of spec.
func (g *Gateway) SearchFields(ctx context.Context, spec resolverspec.Spec) (map[string]string, error) {
	var fields map[string]string
	err := g.call(ctx, spec, CapSearchFields, "", func(ctx context.Context, b Backend) error {
		var err error
		fields, err = b.SearchFields(ctx)
		return err
	})
	return fields, err
}

// ListUsers opens a listing on spec. Only opening the listing goes through
// the circuit and is bounded by the call timeout; errors from Next are
// classified the same way. The listing stays valid until Close or until ctx
// is cancelled.
func (g *Gateway) ListUsers(ctx context.Context, spec resolverspec.Spec, filter map[string]string) (Iterator, error) {
	h, release := g.acquire(spec)
	listCtx, cancel := context.WithCancel(ctx)
	var it Iterator
	err := g.callHandle(ctx, h, spec, CapListUsers, "", func(callCtx context.Context, b Backend) error {
		stop := context.AfterFunc(callCtx, cancel)
		var err error
		it, err = b.ListUsers(listCtx, filter)
		if !stop() {
			if err == nil {
				_ = it.Close()
			}
			it, err = nil, callCtx.Err()
		}
		return err
	})
	if err != nil {
		cancel()
		release()
		return nil, err
	}
	return &gatewayIterator{inner: it, g: g, spec: spec, cancel: cancel, release: release}, nil
}

func (g *Gateway) call(ctx context.Context, spec resolverspec.Spec, capability, key string, fn func(context.Context, Backend) error) error {
	h, release := g.acquire(spec)
	defer release()
	return g.callHandle(ctx, h, spec, capability, key, fn)
}

func (g *Gateway) callHandle(ctx context.Context, h *handle, spec resolverspec.Spec, capability, key string, fn func(context.Context, Backend) error) error {
	name := spec.String()
	start := time.Now()

	if h == nil {
		err := errors.ResolverUnavailable(name).WithCause(fmt.Errorf("resolver %q is not configured", name))
		g.metrics.BackendCall(ctx, name, capability, observability.OutcomeUnavailable, 0)
		return err
	}
	if h.loadErr != nil {
		g.metrics.BackendCall(ctx, name, capability, observability.OutcomeUnavailable, 0)
		return errors.ResolverUnavailable(name).WithCause(h.loadErr)
	}

	spanCtx, span := observability.StartResolverSpan(ctx, name, capability)
	callCtx := spanCtx
	if g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(spanCtx, g.cfg.CallTimeout)
		defer cancel()
	}

	err := h.breaker.Execute(func() error {
		return h.bulkhead.Execute(callCtx, func() error { return fn(callCtx, h.backend) })
	})
	err = g.classify(ctx, name, capability, key, err)

	outcome := outcomeOf(err)
	elapsed := time.Since(start)
	g.metrics.BackendCall(ctx, name, capability, outcome, elapsed)
	observability.EndSpan(span, outcome, err)
	if outcome == observability.OutcomeUnavailable || outcome == observability.OutcomeError {
		g.log.WithContext(ctx).Debug("Resolver call failed", logger.MergeWithError(
			logger.ResolverFields(name, capability), err))
	}
	return err
}

// classify maps backend and isolation errors onto the error taxonomy.
// ctx is the caller's context, before the call timeout was applied.
func (g *Gateway) classify(ctx context.Context, spec, capability, key string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && (stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)) {
		return ctxErr
	}
	if errors.IsAppError(err) {
		return err
	}
	switch {
	case stderrors.Is(err, resilience.ErrCircuitOpen),
		resilience.Rejected(err),
		stderrors.Is(err, ErrUnavailable),
		stderrors.Is(err, context.DeadlineExceeded):
		return errors.ResolverUnavailable(spec).WithCause(err)
	case stderrors.Is(err, ErrNotFound):
		return errors.UserNotFound(key, spec)
	case stderrors.Is(err, ErrNotImplemented):
		return errors.NotImplemented(capability).WithDetail("resolver_spec", spec)
	case stderrors.Is(err, context.Canceled):
		return err
	}
	return fmt.Errorf("resolver %s %s: %w", spec, capability, err)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeOK
	case errors.IsUserNotFound(err):
		return observability.OutcomeNotFound
	case errors.IsResolverUnavailable(err):
		return observability.OutcomeUnavailable
	default:
		return observability.OutcomeError
	}
}

type gatewayIterator struct {
	inner   Iterator
	g       *Gateway
	spec    resolverspec.Spec
	cancel  context.CancelFunc
	release func()
	once    sync.Once
}

func (it *gatewayIterator) Next(ctx context.Context) (Profile, bool, error) {
	p, ok, err := it.inner.Next(ctx)
	if err != nil {
		return nil, false, it.g.classify(ctx, it.spec.String(), CapListUsers, "", err)
	}
	return p, ok, nil
}

func (it *gatewayIterator) Close() error {
	err := it.inner.Close()
	it.once.Do(func() {
		it.cancel()
		it.release()
	})
	return err
}
