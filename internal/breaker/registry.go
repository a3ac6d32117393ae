package breaker

import (
	"log"
	"sync"
)

// Names of the three breakers requires to exist at engine start.
const (
	BrokerOrders     = "broker:orders"
	BrokerMarketData = "broker:marketData"
	BrokerAuth       = "broker:auth"
)

// Registry dispenses breakers by name, grounded on internal/broker.Registry's
// map-based factory pattern (generalized here from factory-of-constructors to
// dispenser-of-instances, since every caller of a named breaker wants the
// same shared instance rather than a fresh one).
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	logger   *log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		logger:   logger,
	}
}

// Get returns the named breaker, creating it with cfg on first access.
// Subsequent calls ignore cfg and return the existing instance; use
// UpdateConfig via the returned breaker to change thresholds in place.
func (r *Registry) Get(name string, cfg Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, cfg, r.logger)
	r.breakers[name] = b
	return b
}

// All returns a snapshot of every registered breaker, keyed by name.
func (r *Registry) All() map[string]*Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Breaker, len(r.breakers))
	for k, v := range r.breakers {
		out[k] = v
	}
	return out
}
