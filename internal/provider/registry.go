package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/yairfalse/balscan/pkg/rule"
)

// ErrUnknownAnalyzer is returned when no factory is registered for an
// analyzer named in the scan configuration.
var ErrUnknownAnalyzer = errors.New("unknown analyzer")

// Factory builds the provider for a configured analyzer identity. The
// identity carries the requested version and repository.
type Factory func(id rule.Identity) (Provider, error)

// Registry maps analyzer qualifiers (org/name) to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for org/name, replacing any previous one. It
// panics on a nil factory.
func (r *Registry) Register(org, name string, f Factory) {
	if f == nil {
		panic("provider: Register factory is nil for " + org + "/" + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[org+"/"+name] = f
}

// Lookup returns the factory registered for a qualifier.
func (r *Registry) Lookup(qualifier string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[qualifier]
	return f, ok
}

// Names returns the registered qualifiers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve builds the provider for an analyzer identity.
func (r *Registry) Resolve(id rule.Identity) (Provider, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	f, ok := r.Lookup(id.Qualifier())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAnalyzer, id)
	}
	p, err := f(id)
	if err != nil {
		return nil, fmt.Errorf("load analyzer %s: %w", id, err)
	}
	return p, nil
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry that analyzers register into.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a factory to the default registry.
func Register(org, name string, f Factory) {
	defaultRegistry.Register(org, name, f)
}
