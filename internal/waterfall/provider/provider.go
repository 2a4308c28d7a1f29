// Package provider defines the lookup adapter interface and the HTTP
// adapters used in the skip-trace chain.
package provider

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skiptrace/internal/model"
)

// LookupResult is the normalized payload of a successful lookup.
type LookupResult struct {
	Phones []model.Phone `json:"phones"`
	Emails []model.Email `json:"emails"`
}

// Empty reports whether the lookup found no contacts.
func (r *LookupResult) Empty() bool {
	return r == nil || (len(r.Phones) == 0 && len(r.Emails) == 0)
}

// Provider is one entry of the lookup chain.
type Provider interface {
	// Name identifies the provider in the ledger and config.
	Name() string
	Tier() model.ProviderTier
	// CostCents is the list price of one successful lookup.
	CostCents() int64
	// Lookup resolves contacts for an address. Errors are *Failure.
	Lookup(ctx context.Context, address string) (*LookupResult, error)
}

// Registry holds the chain in priority order.
type Registry struct {
	mu    sync.RWMutex
	order []Provider
	index map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]Provider)}
}

// Register appends p to the chain. Names must be unique.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[p.Name()]; ok {
		return eris.Errorf("provider: %q registered twice", p.Name())
	}
	r.index[p.Name()] = p
	r.order = append(r.order, p)
	return nil
}

// Get returns a provider by name, or nil if not found.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index[name]
}

// Chain returns the providers in priority order.
func (r *Registry) Chain() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, len(r.order))
	copy(out, r.order)
	return out
}

// List returns provider names in priority order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	for i, p := range r.order {
		names[i] = p.Name()
	}
	return names
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
