// Package stubs caches loaded worker stubs and builds their cold-start
// descriptors. Cached handles are guarded by worker version: a version bump
// changes the loader name, so stale instances are never dispatched to.
package stubs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/loader"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// Name is the loader identity of a versioned worker.
func Name(tenantID, workerID string, version int64) string {
	return fmt.Sprintf("%s:%s:v%d", tenantID, workerID, version)
}

// EphemeralName is the loader identity of a one-off run, content-addressed
// by build fingerprint. Runs outside any tenant drop the prefix.
func EphemeralName(tenantID, fingerprint string) string {
	if tenantID == "" {
		return "ephemeral:" + fingerprint
	}
	return tenantID + ":ephemeral:" + fingerprint
}

type entry struct {
	stub      loader.Stub
	version   int64
	name      string
	loadedAt  time.Time
	ephemeral bool
}

// Cache memoizes stubs per worker on top of a Loader.
type Cache struct {
	loader loader.Loader
	mu     sync.RWMutex
	stubs  map[string]*entry
	logger zerolog.Logger
}

// NewCache creates a stub cache over the given loader.
func NewCache(l loader.Loader) *Cache {
	return &Cache{
		loader: l,
		stubs:  make(map[string]*entry),
		logger: log.WithComponent("stubs"),
	}
}

// Get returns the stub for a worker at the given version, loading it on
// miss or when the cached handle is for another version.
func (c *Cache) Get(ctx context.Context, tenantID, workerID string, version int64, cold loader.ColdStart) (loader.Stub, error) {
	key := tenantID + ":" + workerID

	c.mu.RLock()
	e := c.stubs[key]
	c.mu.RUnlock()
	if e != nil && e.version == version {
		metrics.StubLoadsTotal.WithLabelValues("hit").Inc()
		return e.stub, nil
	}

	name := Name(tenantID, workerID, version)
	stub, err := c.loader.Get(ctx, name, cold)
	if err != nil {
		return nil, err
	}
	metrics.StubLoadsTotal.WithLabelValues("cold").Inc()

	c.mu.Lock()
	// Two racing loads keep the freshest version.
	if cur := c.stubs[key]; cur == nil || cur.version <= version {
		c.stubs[key] = &entry{stub: stub, version: version, name: name, loadedAt: time.Now()}
	}
	c.mu.Unlock()

	return stub, nil
}

// GetEphemeral returns the stub for a one-off run. Ephemeral workers are
// immutable per fingerprint, so there is no version guard.
func (c *Cache) GetEphemeral(ctx context.Context, tenantID, fingerprint string, cold loader.ColdStart) (loader.Stub, error) {
	key := EphemeralName(tenantID, fingerprint)

	c.mu.RLock()
	e := c.stubs[key]
	c.mu.RUnlock()
	if e != nil {
		metrics.StubLoadsTotal.WithLabelValues("hit").Inc()
		return e.stub, nil
	}

	stub, err := c.loader.Get(ctx, key, cold)
	if err != nil {
		return nil, err
	}
	metrics.StubLoadsTotal.WithLabelValues("cold").Inc()

	c.mu.Lock()
	if _, exists := c.stubs[key]; !exists {
		c.stubs[key] = &entry{stub: stub, name: key, loadedAt: time.Now(), ephemeral: true}
	}
	c.mu.Unlock()

	return stub, nil
}

// Invalidate drops the cached stub for a worker and evicts its instance
// from the runtime.
func (c *Cache) Invalidate(ctx context.Context, tenantID, workerID string) {
	key := tenantID + ":" + workerID

	c.mu.Lock()
	e := c.stubs[key]
	delete(c.stubs, key)
	c.mu.Unlock()

	if e != nil {
		c.evict(ctx, e.name)
	}
}

// InvalidateTenant drops every cached stub belonging to a tenant, ephemeral
// runs included.
func (c *Cache) InvalidateTenant(ctx context.Context, tenantID string) {
	prefix := tenantID + ":"

	c.mu.Lock()
	var evicted []string
	for key, e := range c.stubs {
		if strings.HasPrefix(key, prefix) {
			evicted = append(evicted, e.name)
			delete(c.stubs, key)
		}
	}
	c.mu.Unlock()

	for _, name := range evicted {
		c.evict(ctx, name)
	}
}

// InvalidateAll drops every cached stub. Used when platform defaults
// change, since every worker's effective config embeds them.
func (c *Cache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	entries := c.stubs
	c.stubs = make(map[string]*entry)
	c.mu.Unlock()

	for _, e := range entries {
		c.evict(ctx, e.name)
	}
}

// Sweep evicts ephemeral stubs older than maxAge and reports how many.
// Versioned workers are never swept; their lifecycle follows updates and
// deletes.
func (c *Cache) Sweep(ctx context.Context, maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	c.mu.Lock()
	var evicted []string
	for key, e := range c.stubs {
		if e.ephemeral && !e.loadedAt.After(cutoff) {
			evicted = append(evicted, e.name)
			delete(c.stubs, key)
		}
	}
	c.mu.Unlock()

	for _, name := range evicted {
		c.evict(ctx, name)
	}
	return len(evicted)
}

// Len reports the number of cached stubs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stubs)
}

func (c *Cache) evict(ctx context.Context, name string) {
	remover, ok := c.loader.(loader.Remover)
	if !ok {
		return
	}
	if err := remover.Remove(ctx, name); err != nil {
		c.logger.Warn().Err(err).Str("worker", name).Msg("Failed to evict worker from runtime")
	}
}
