// Package ratelimit provides rule caching for the admission hot path.
package ratelimit

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const defaultRuleCacheTTL = 5 * time.Minute

// systemSnapshot is an immutable, priority-sorted rule set for one system.
type systemSnapshot struct {
	rules    []*Rule
	loadedAt time.Time
}

// RuleCache serves per-system rule snapshots with a staleness bound. Reads
// during the TTL window never touch the store. A stale snapshot keeps serving
// readers while a single background reload prepares its replacement; the swap
// is atomic so readers never observe a partially-updated rule set.
type RuleCache struct {
	store      RuleStore
	ttl        time.Duration
	now        func() time.Time
	logger     Logger
	snap       atomic.Value // map[string]*systemSnapshot
	mu         sync.Mutex
	refreshing map[string]bool
}

// NewRuleCache constructs a cache over the given store.
func NewRuleCache(store RuleStore, ttl time.Duration, now func() time.Time, logger Logger) *RuleCache {
	if ttl <= 0 {
		ttl = defaultRuleCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = NopLogger{}
	}
	cache := &RuleCache{
		store:      store,
		ttl:        ttl,
		now:        now,
		logger:     logger,
		refreshing: make(map[string]bool),
	}
	cache.snap.Store(map[string]*systemSnapshot{})
	return cache
}

// Rules returns the cached rule list for a system, ordered ascending by
// priority. A cold cache loads synchronously; an expired snapshot is served
// as-is while a refresh runs in the background.
func (c *RuleCache) Rules(ctx context.Context, systemID string) ([]*Rule, error) {
	if c == nil || c.store == nil {
		return nil, ErrStoreUnavailable
	}
	entry := c.snapshot()[systemID]
	if entry != nil {
		if c.now().Sub(entry.loadedAt) <= c.ttl {
			return entry.rules, nil
		}
		c.refreshAsync(systemID)
		return entry.rules, nil
	}
	return c.load(ctx, systemID)
}

// Invalidate drops a system's snapshot so the next read reloads durably
// stored rules. Called after every rule mutation.
func (c *RuleCache) Invalidate(systemID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.snapshot()
	if _, ok := old[systemID]; !ok {
		return
	}
	next := make(map[string]*systemSnapshot, len(old))
	for key, value := range old {
		if key == systemID {
			continue
		}
		next[key] = value
	}
	c.snap.Store(next)
}

func (c *RuleCache) snapshot() map[string]*systemSnapshot {
	if snap, ok := c.snap.Load().(map[string]*systemSnapshot); ok && snap != nil {
		return snap
	}
	return map[string]*systemSnapshot{}
}

func (c *RuleCache) load(ctx context.Context, systemID string) ([]*Rule, error) {
	rules, err := c.store.ListRules(ctx, systemID)
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "rule load failed", err)
	}
	sorted := make([]*Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	c.storeSnapshot(systemID, &systemSnapshot{rules: sorted, loadedAt: c.now()})
	return sorted, nil
}

func (c *RuleCache) storeSnapshot(systemID string, entry *systemSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.snapshot()
	next := make(map[string]*systemSnapshot, len(old)+1)
	for key, value := range old {
		next[key] = value
	}
	next[systemID] = entry
	c.snap.Store(next)
}

// refreshAsync starts at most one reload per system. Readers keep the stale
// snapshot until the reload swaps it out.
func (c *RuleCache) refreshAsync(systemID string) {
	c.mu.Lock()
	if c.refreshing[systemID] {
		c.mu.Unlock()
		return
	}
	c.refreshing[systemID] = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, systemID)
			c.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.load(ctx, systemID); err != nil {
			c.logger.Error("rule cache refresh failed", map[string]any{
				"system": systemID,
				"error":  err.Error(),
			})
		}
	}()
}
