package provider

import (
	"sort"
	"sync"
	"time"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/breaker"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/ratelimit"
)

// DefaultCallTimeout bounds a single provider call so one slow provider
// cannot stall the whole fallback chain.
const DefaultCallTimeout = 10 * time.Second

// Descriptor pairs a provider with its runtime gates. The breaker and
// limiter are owned here, one live instance each for the process lifetime,
// shared by every concurrent fetch and never cloned per request.
type Descriptor struct {
	Provider   Provider
	Priorities map[core.Category]int // lower rank is tried first
	Breaker    *breaker.Breaker
	Limiter    *ratelimit.Bucket
	Timeout    time.Duration

	order int // registration order, breaks priority ties
}

// Name returns the provider name.
func (d *Descriptor) Name() string {
	return d.Provider.Name()
}

// Supports reports whether the descriptor's provider serves the category.
func (d *Descriptor) Supports(category core.Category) bool {
	return Supports(d.Provider, category)
}

// Priority returns the provider's rank for a category. Categories without an
// explicit rank sort last.
func (d *Descriptor) Priority(category core.Category) int {
	if p, ok := d.Priorities[category]; ok {
		return p
	}
	return int(^uint(0) >> 1)
}

// Registry holds the provider descriptors and builds per-category fallback
// chains. Descriptors register once at startup.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Descriptor
	all    []*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Descriptor)}
}

// Register adds a descriptor. Defaults are applied for missing gates so a
// descriptor is always safe to use.
func (r *Registry) Register(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.Breaker == nil {
		d.Breaker = breaker.New(breaker.DefaultConfig())
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.New(1, 1)
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultCallTimeout
	}
	d.order = len(r.all)
	r.byName[d.Name()] = d
	r.all = append(r.all, d)
}

// Get retrieves a descriptor by provider name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// All returns every registered descriptor in registration order.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, len(r.all))
	copy(out, r.all)
	return out
}

// Chain returns the descriptors able to serve a category, ordered by
// ascending priority rank with ties broken by registration order. The merge
// downstream is deterministic because this order is.
func (r *Registry) Chain(category core.Category) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chain []*Descriptor
	for _, d := range r.all {
		if d.Supports(category) {
			chain = append(chain, d)
		}
	}
	sort.SliceStable(chain, func(i, j int) bool {
		pi, pj := chain[i].Priority(category), chain[j].Priority(category)
		if pi != pj {
			return pi < pj
		}
		return chain[i].order < chain[j].order
	})
	return chain
}
