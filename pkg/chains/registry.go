package chains

import (
	"fmt"
	"sync"
)

// Registry manages chain descriptors and the adapter registered for each
// chain family
type Registry struct {
	adapters map[Family]ChainAdapter
	chains   map[string]Chain
	mu       sync.RWMutex
}

var (
	globalRegistry     *Registry
	globalRegistryOnce sync.Once
)

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[Family]ChainAdapter),
		chains:   make(map[string]Chain),
	}
}

// InitGlobalRegistry initializes the global chain registry
func InitGlobalRegistry() *Registry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}

// GetGlobalRegistry returns the global chain registry (nil if not initialized)
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// ResetGlobalRegistry resets the global registry (useful for testing)
func ResetGlobalRegistry() {
	globalRegistry = nil
	globalRegistryOnce = sync.Once{}
}

// RegisterAdapter registers an adapter under its family. Re-registration
// replaces the existing adapter (idempotent).
func (r *Registry) RegisterAdapter(adapter ChainAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[adapter.Family()] = adapter
	return nil
}

// AdapterFor retrieves the adapter registered for a family
func (r *Registry) AdapterFor(family Family) (ChainAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[family]
	if !exists {
		return nil, fmt.Errorf("no adapter registered for family: %s", family)
	}

	return adapter, nil
}

// RegisterChains loads chain descriptors into the catalog. Descriptors are
// immutable once loaded; re-registering an id replaces it.
func (r *Registry) RegisterChains(descriptors ...Chain) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range descriptors {
		r.chains[c.ID] = c
	}
}

// Chain looks up a chain descriptor by id
func (r *Registry) Chain(id string) (Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.chains[id]
	if !exists {
		return Chain{}, &UnsupportedChainError{ChainID: id}
	}

	return c, nil
}

// ChainsOf returns all registered chains of a family
func (r *Registry) ChainsOf(family Family) []Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Chain, 0, len(r.chains))
	for _, c := range r.chains {
		if c.Family == family {
			out = append(out, c)
		}
	}
	return out
}

// SupportedFamilies returns all families with a registered adapter
func (r *Registry) SupportedFamilies() []Family {
	r.mu.RLock()
	defer r.mu.RUnlock()

	families := make([]Family, 0, len(r.adapters))
	for f := range r.adapters {
		families = append(families, f)
	}
	return families
}

// IsSupported checks whether a family has a registered adapter
func (r *Registry) IsSupported(family Family) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.adapters[family]
	return exists
}

// Unregister removes an adapter (useful for testing)
func (r *Registry) Unregister(family Family) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.adapters, family)
}
