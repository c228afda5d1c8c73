package snapshot

import (
	"sync"
	"sync/atomic"

	"github.com/flowplane/flowplane/pkg/model"
)

// Cache is the process-wide mapping from tenant scope to current
// snapshot (spec §4.3). Get is a lock-free read of an atomic pointer;
// Replace is an atomic pointer swap. The map of tenants to pointers
// itself is guarded by a mutex only to protect map-of-pointers mutation
// (adding a brand new tenant), never the snapshot contents — that
// distinction is what makes readers never block writers and vice versa.
type Cache struct {
	mu      sync.RWMutex
	tenants map[model.Scope]*atomic.Pointer[Snapshot]
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{tenants: make(map[model.Scope]*atomic.Pointer[Snapshot])}
}

func (c *Cache) slot(tenant model.Scope) *atomic.Pointer[Snapshot] {
	c.mu.RLock()
	p, ok := c.tenants[tenant]
	c.mu.RUnlock()
	if ok {
		return p
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.tenants[tenant]; ok {
		return p
	}
	p = &atomic.Pointer[Snapshot]{}
	c.tenants[tenant] = p
	return p
}

// Get returns the current snapshot for tenant, or nil if none has ever
// been published (the tenant has no translated resources yet).
func (c *Cache) Get(tenant model.Scope) *Snapshot {
	c.mu.RLock()
	p, ok := c.tenants[tenant]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return p.Load()
}

// Replace atomically installs snap as the current snapshot for its
// tenant. Holders of a previously-loaded *Snapshot keep a perfectly valid
// (if stale) view — Snapshot is never mutated in place.
func (c *Cache) Replace(snap *Snapshot) {
	c.slot(snap.Tenant).Store(snap)
}

// Tenants returns every tenant scope that has ever had a snapshot
// published, for observability / inspection APIs.
func (c *Cache) Tenants() []model.Scope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Scope, 0, len(c.tenants))
	for t := range c.tenants {
		out = append(out, t)
	}
	return out
}
