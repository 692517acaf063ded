package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ogulcanaydogan/billsync/pkg/model"
)

// Registry resolves a connector by provider.
type Registry struct {
	mu         sync.RWMutex
	connectors map[model.Provider]Connector
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[model.Provider]Connector),
	}
}

// NewDefaultRegistry registers one connector per billing provider.
func NewDefaultRegistry(cfg Config, deps Deps) (*Registry, error) {
	deps = deps.withDefaults()
	r := NewRegistry()
	tokens := NewTokenCache(deps.Now)

	connectors := []Connector{
		NewAzure(cfg.Azure, tokens, deps),
		NewAWS(cfg.AWS, nil, deps),
		NewGCP(cfg.GCP),
		NewRackspace(cfg.Rackspace, deps),
		NewWasabi(cfg.Wasabi, deps),
		NewWasabiMain(cfg.Wasabi, cfg.WasabiMain, deps),
	}
	for _, c := range connectors {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	for _, p := range model.BillingProviders {
		if _, err := r.Get(p); err != nil {
			return nil, fmt.Errorf("billing provider %q has no connector", p)
		}
	}
	return r, nil
}

// Register adds a connector to the registry.
func (r *Registry) Register(c Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := c.Provider()
	if _, exists := r.connectors[p]; exists {
		return fmt.Errorf("connector %q already registered", p)
	}
	r.connectors[p] = c
	return nil
}

// Get returns the connector for a provider.
func (r *Registry) Get(p model.Provider) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connectors[p]
	if !ok {
		return nil, fmt.Errorf("%w: no connector for %q", model.ErrUnsupportedProvider, p)
	}
	return c, nil
}

// List returns the registered providers in sorted order.
func (r *Registry) List() []model.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]model.Provider, 0, len(r.connectors))
	for p := range r.connectors {
		names = append(names, p)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
