/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"container/list"
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/retry"
)

type cacheEntry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
	ageElem    *list.Element // position in Cache.ageList
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Size       int     `json:"size"`
	MaxEntries int     `json:"max_size"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"` // percentage rounded to 2 decimals
	TTLSeconds int64   `json:"ttl_seconds"`
}

// Cache is a size-bounded cache with per-entry TTL and LRU eviction. It is safe for concurrent use.
// The TTL of an entry counts from its last Set, reads only refresh recency.
type Cache[V any] struct {
	ttl        time.Duration
	maxEntries int
	flushEvery int

	mu      sync.Mutex
	lruList *list.List // front is the most recently used
	ageList *list.List // front is the oldest write
	entries map[string]*list.Element
	hits    int64
	misses  int64
	writes  int

	clock            clock.Clock
	logger           log.FieldLogger
	metricsCollector MetricsCollector
	loads            singleflight.Group

	// persistence
	store           SnapshotStore
	codec           Codec[V]
	closeRetry      retry.Policy
	saveTimeout     time.Duration
	saveSem         chan struct{} // held while a save is running, even one abandoned by its caller
	generation      atomic.Uint64 // bumped under mu on every state change
	savedGeneration atomic.Uint64 // written while saveSem is held
}

// New creates a new Cache. If a snapshot store is configured, the saved state is loaded before New returns.
// Loading problems are logged and the cache starts empty.
func New[V any](cfg Config, opts ...Option[V]) (*Cache[V], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := options[V]{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.logger == nil {
		o.logger = log.NewDisabledLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = disabledMetrics{}
	}
	if o.codec == nil {
		o.codec = JSONCodec[V]{}
	}
	if o.closeRetryPolicy == nil {
		o.closeRetryPolicy = defaultCloseRetryPolicy
	}
	if o.store == nil && cfg.Persistence.Enabled {
		fileStore, err := NewFileSnapshotStore(cfg.Persistence.Path,
			FileSnapshotStoreOpts{MaxSnapshotSize: int64(cfg.Persistence.MaxSnapshotSize)})
		if err != nil {
			return nil, fmt.Errorf("create file snapshot store: %w", err)
		}
		o.store = fileStore
	}

	c := &Cache[V]{
		ttl:              cfg.TTL,
		maxEntries:       cfg.MaxEntries,
		flushEvery:       cfg.Persistence.FlushEvery,
		lruList:          list.New(),
		ageList:          list.New(),
		entries:          make(map[string]*list.Element),
		clock:            o.clock,
		logger:           o.logger,
		metricsCollector: o.metricsCollector,
		store:            o.store,
		codec:            o.codec,
		closeRetry:       o.closeRetryPolicy,
		saveTimeout:      cfg.Persistence.SaveTimeout,
		saveSem:          make(chan struct{}, 1),
	}
	if c.saveTimeout == 0 {
		c.saveTimeout = DefaultSaveTimeout
	}
	if c.store != nil {
		c.loadSnapshot(context.Background())
	}
	c.metricsCollector.SetAmount(c.Len())
	return c, nil
}

// Get returns the value for the key if it is present and not expired.
// Expired entries are swept before the lookup.
func (c *Cache[V]) Get(key string) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.deleteExpiredLocked()
	c.generation.Inc()

	elem, hit := c.entries[key]
	if hit && c.isExpired(elem.Value.(*cacheEntry[V]), now) {
		// deleteExpiredLocked misses it if the wall clock was stepped back.
		c.removeElementLocked(elem)
		c.metricsCollector.AddExpirations(1)
		c.metricsCollector.SetAmount(len(c.entries))
		hit = false
	}
	if !hit {
		c.misses++
		c.metricsCollector.IncMisses()
		return value, false
	}
	c.lruList.MoveToFront(elem)
	c.hits++
	c.metricsCollector.IncHits()
	return elem.Value.(*cacheEntry[V]).value, true
}

// Set stores the value and resets its TTL. A new key in a full cache evicts the least recently used entry.
// Every Persistence.FlushEvery-th call saves a snapshot before returning. Save errors are only logged.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()

	now := c.clock.Now()
	c.deleteExpiredLocked()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry[V])
		entry.value = value
		entry.insertedAt = now
		c.lruList.MoveToFront(elem)
		c.ageList.MoveToBack(entry.ageElem)
	} else {
		if len(c.entries) >= c.maxEntries {
			c.evictOldestLocked()
		}
		entry := &cacheEntry[V]{key: key, value: value, insertedAt: now}
		entry.ageElem = c.ageList.PushBack(entry)
		c.entries[key] = c.lruList.PushFront(entry)
		c.metricsCollector.SetAmount(len(c.entries))
	}
	c.generation.Inc()

	var snap *cacheState[V]
	if c.store != nil && c.flushEvery > 0 {
		c.writes++
		if c.writes >= c.flushEvery {
			c.writes = 0
			snap = c.captureLocked()
		}
	}
	c.mu.Unlock()

	if snap != nil {
		_ = c.save(context.Background(), snap)
	}
}

// Clear removes all entries and resets the counters. The empty state is saved synchronously.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.lruList.Init()
	c.ageList.Init()
	c.hits, c.misses, c.writes = 0, 0, 0
	c.generation.Inc()
	c.metricsCollector.SetAmount(0)
	var snap *cacheState[V]
	if c.store != nil {
		snap = c.captureLocked()
	}
	c.mu.Unlock()

	if snap != nil {
		_ = c.save(context.Background(), snap)
	}
}

// Stats sweeps expired entries and reports cache usage.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deleteExpiredLocked()

	var hitRate float64
	if total := c.hits + c.misses; total > 0 {
		hitRate = math.Round(float64(c.hits)/float64(total)*100*100) / 100
	}
	return Stats{
		Size:       len(c.entries),
		MaxEntries: c.maxEntries,
		Hits:       c.hits,
		Misses:     c.misses,
		HitRate:    hitRate,
		TTLSeconds: int64(c.ttl / time.Second),
	}
}

// Remove deletes the key and reports whether it was present.
func (c *Cache[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeElementLocked(elem)
	c.generation.Inc()
	c.metricsCollector.SetAmount(len(c.entries))
	return true
}

// Len returns the number of entries including expired ones that were not swept yet.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// DeleteExpired removes all expired entries and returns how many were removed.
func (c *Cache[V]) DeleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteExpiredLocked()
}

// GetOrLoad returns the cached value or calls loader and caches its result.
// Concurrent calls for the same missing key share one loader call.
// The returned bool is true if the value came from the cache. Loader errors are returned as is and not cached.
//
// The loader gets a context that keeps the values of ctx but is never canceled, so one caller giving up
// doesn't fail the others waiting for the same key. The loader should bound its own work.
// A caller whose ctx is done stops waiting and gets ctx.Err(); the value is still cached when the load finishes.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, loader func(ctx context.Context) (V, error)) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	loadCtx := context.WithoutCancel(ctx)
	resCh := c.loads.DoChan(key, func() (interface{}, error) {
		v, loadErr := loader(loadCtx)
		if loadErr != nil {
			return nil, loadErr
		}
		c.Set(key, v)
		return v, nil
	})

	var zero V
	select {
	case res := <-resCh:
		if res.Err != nil {
			return zero, false, res.Err
		}
		v, _ := res.Val.(V)
		return v, false, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

func (c *Cache[V]) isExpired(entry *cacheEntry[V], now time.Time) bool {
	return now.Sub(entry.insertedAt) > c.ttl
}

// deleteExpiredLocked walks writes from the oldest and stops at the first live one.
func (c *Cache[V]) deleteExpiredLocked() int {
	now := c.clock.Now()
	removed := 0
	for elem := c.ageList.Front(); elem != nil; {
		entry := elem.Value.(*cacheEntry[V])
		if !c.isExpired(entry, now) {
			break
		}
		next := elem.Next()
		c.removeElementLocked(c.entries[entry.key])
		removed++
		elem = next
	}
	if removed > 0 {
		c.generation.Inc()
		c.metricsCollector.AddExpirations(removed)
		c.metricsCollector.SetAmount(len(c.entries))
	}
	return removed
}

func (c *Cache[V]) evictOldestLocked() {
	elem := c.lruList.Back()
	if elem == nil {
		return
	}
	c.removeElementLocked(elem)
	c.metricsCollector.AddEvictions(1)
}

func (c *Cache[V]) removeElementLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry[V])
	c.lruList.Remove(elem)
	c.ageList.Remove(entry.ageElem)
	delete(c.entries, entry.key)
}
