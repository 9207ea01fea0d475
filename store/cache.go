package store

import (
	"context"
	"sync"
	"time"

	"github.com/c360studio/semflow/workflow"
)

// DefaultCacheTTL is how long a cached workflow stays fresh without a write.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	instance *workflow.Instance
	expires  time.Time
}

// CachedWorkflowStore is a write-through cache over a workflow.Store. Reads
// are served from memory while fresh; writes update the backing store first
// and refresh the cache only when the write succeeds, so the cache never
// holds state the backend rejected.
type CachedWorkflowStore struct {
	backend workflow.Store
	ttl     time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// CacheOption configures a CachedWorkflowStore.
type CacheOption func(*CachedWorkflowStore)

// WithCacheTTL overrides the freshness window.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *CachedWorkflowStore) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheClock overrides the clock, for tests.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *CachedWorkflowStore) { c.now = now }
}

// NewCachedWorkflowStore wraps backend with an in-memory cache.
func NewCachedWorkflowStore(backend workflow.Store, opts ...CacheOption) *CachedWorkflowStore {
	c := &CachedWorkflowStore{
		backend: backend,
		ttl:     DefaultCacheTTL,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PutWorkflow writes through to the backend and refreshes the cache.
func (c *CachedWorkflowStore) PutWorkflow(ctx context.Context, w *workflow.Instance) error {
	if err := c.backend.PutWorkflow(ctx, w); err != nil {
		return err
	}
	c.set(w)
	return nil
}

// GetWorkflow serves from cache while fresh, falling back to the backend and
// repopulating on a miss.
func (c *CachedWorkflowStore) GetWorkflow(ctx context.Context, id string) (*workflow.Instance, error) {
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		return entry.instance.Clone(), nil
	}

	w, err := c.backend.GetWorkflow(ctx, id)
	if err != nil {
		if ok {
			c.evict(id)
		}
		return nil, err
	}
	c.set(w)
	return w, nil
}

// DeleteWorkflow removes the workflow from the backend and evicts it.
func (c *CachedWorkflowStore) DeleteWorkflow(ctx context.Context, id string) error {
	if err := c.backend.DeleteWorkflow(ctx, id); err != nil {
		return err
	}
	c.evict(id)
	return nil
}

// ListWorkflows always hits the backend; listing from a partial cache would
// drop workflows written by other processes.
func (c *CachedWorkflowStore) ListWorkflows(ctx context.Context) ([]*workflow.Instance, error) {
	return c.backend.ListWorkflows(ctx)
}

// Purge drops every cache entry whose freshness window has lapsed and
// returns the number removed. Callers run it periodically; entries are
// otherwise evicted lazily on read.
func (c *CachedWorkflowStore) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, entry := range c.entries {
		if !now.Before(entry.expires) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached entries, fresh or not.
func (c *CachedWorkflowStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *CachedWorkflowStore) set(w *workflow.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[w.ID] = cacheEntry{instance: w.Clone(), expires: c.now().Add(c.ttl)}
}

func (c *CachedWorkflowStore) evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}
