package resolver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kbukum/idresolver/resolverspec"
	"github.com/kbukum/idresolver/validation"
)

// Definition configures one resolver instance.
type Definition struct {
	// Spec is the serialized resolver specification, "<class>.<config>".
	Spec string `yaml:"spec" mapstructure:"spec" validate:"required,resolverspec"`
	// Class selects the registered factory. Defaults to the spec's class,
	// then to its last class segment.
	Class string `yaml:"class" mapstructure:"class"`
	// Params are passed to the factory unchanged.
	Params map[string]any `yaml:"params" mapstructure:"params"`
}

// Validate checks the definition's struct constraints.
func (d Definition) Validate() error {
	return validation.Validate(d)
}

// Factory constructs a backend for a definition.
type Factory func(ctx context.Context, def Definition) (Backend, error)

// Registry maps resolver class identifiers to constructors.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// RegisterFactory registers a named factory for a resolver class.
func (r *Registry) RegisterFactory(class string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[class] = factory
}

// Lookup returns the factory serving def.
func (r *Registry) Lookup(def Definition) (Factory, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range factoryNames(def) {
		if f, ok := r.factories[name]; ok {
			return f, name, true
		}
	}
	return nil, "", false
}

// Create instantiates the backend for def.
func (r *Registry) Create(ctx context.Context, def Definition) (Backend, error) {
	f, _, ok := r.Lookup(def)
	if !ok {
		return nil, fmt.Errorf("resolver class %q not registered", factoryNames(def)[0])
	}
	return f(ctx, def)
}

// List returns sorted names of all registered classes.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func factoryNames(def Definition) []string {
	if def.Class != "" {
		return []string{def.Class}
	}
	spec, err := resolverspec.Parse(def.Spec)
	if err != nil {
		return []string{def.Spec}
	}
	if short := spec.ShortClass(); short != spec.Class {
		return []string{spec.Class, short}
	}
	return []string{spec.Class}
}
