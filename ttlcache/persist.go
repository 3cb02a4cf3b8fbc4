/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/retry"
)

type stateEntry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
}

// cacheState is a copy of the cache taken under the lock and encoded outside of it.
type cacheState[V any] struct {
	generation uint64
	entries    []stateEntry[V] // least recently used first
	hits       int64
	misses     int64
}

func (c *Cache[V]) captureLocked() *cacheState[V] {
	st := &cacheState[V]{
		generation: c.generation.Load(),
		entries:    make([]stateEntry[V], 0, len(c.entries)),
		hits:       c.hits,
		misses:     c.misses,
	}
	for elem := c.lruList.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*cacheEntry[V])
		st.entries = append(st.entries, stateEntry[V]{entry.key, entry.value, entry.insertedAt})
	}
	return st
}

func (c *Cache[V]) encodeState(st *cacheState[V]) (*Snapshot, error) {
	snap := &Snapshot{
		Entries: make([]SnapshotEntry, 0, len(st.entries)),
		Meta: SnapshotMeta{
			Generation: st.generation,
			Timestamps: make(map[string]time.Time, len(st.entries)),
			Hits:       st.hits,
			Misses:     st.misses,
		},
	}
	for _, e := range st.entries {
		data, err := c.codec.Encode(e.value)
		if err != nil {
			return nil, fmt.Errorf("encode value for key %q: %w", e.key, err)
		}
		snap.Entries = append(snap.Entries, SnapshotEntry{Key: e.key, Value: data})
		snap.Meta.Timestamps[e.key] = e.insertedAt
	}
	return snap, nil
}

// save writes the state unless a newer one was already saved. Errors are logged and counted.
// It returns after saveTimeout at the latest, even if the store doesn't honor the context.
func (c *Cache[V]) save(ctx context.Context, st *cacheState[V]) error {
	ctx, cancel := context.WithTimeout(ctx, c.saveTimeout)
	defer cancel()

	saved, err := c.trySave(ctx, st)
	if err != nil {
		c.metricsCollector.IncPersistenceErrors(PersistenceOpSave)
		c.logger.Error("failed to save cache snapshot", log.Error(err), log.Int("entries", len(st.entries)))
		return err
	}
	if saved {
		c.logger.Debug("cache snapshot saved",
			log.Int("entries", len(st.entries)), log.Uint64("generation", st.generation))
	}
	return nil
}

func (c *Cache[V]) trySave(ctx context.Context, st *cacheState[V]) (saved bool, err error) {
	select {
	case c.saveSem <- struct{}{}:
	case <-ctx.Done():
		return false, fmt.Errorf("wait for running snapshot save: %w", ctx.Err())
	}
	if st.generation < c.savedGeneration.Load() {
		<-c.saveSem
		return false, nil
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-c.saveSem }()
		saveErr := c.encodeAndSave(ctx, st)
		if saveErr == nil {
			c.savedGeneration.Store(st.generation)
		}
		done <- saveErr
	}()

	select {
	case err = <-done:
		return err == nil, err
	case <-ctx.Done():
		select {
		case err = <-done:
			return err == nil, err
		default:
			return false, fmt.Errorf("save snapshot: %w", ctx.Err())
		}
	}
}

func (c *Cache[V]) encodeAndSave(ctx context.Context, st *cacheState[V]) error {
	snap, err := c.encodeState(st)
	if err != nil {
		return err
	}
	return c.store.Save(ctx, snap)
}

// Flush saves the current state to the snapshot store. It is a no-op without a store.
func (c *Cache[V]) Flush(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	st := c.captureLocked()
	c.mu.Unlock()
	return c.save(ctx, st)
}

// FlushIfDirty saves the state only if it changed since the last successful save.
func (c *Cache[V]) FlushIfDirty(ctx context.Context) error {
	if c.store == nil || !c.dirty() {
		return nil
	}
	return c.Flush(ctx)
}

func (c *Cache[V]) dirty() bool {
	return c.generation.Load() != c.savedGeneration.Load()
}

// Close flushes changed state, retrying failed saves according to the close retry policy.
// Every attempt is bounded by Persistence.SaveTimeout. The cache stays usable after Close.
func (c *Cache[V]) Close() error {
	return c.CloseContext(context.Background())
}

// CloseContext is like Close but gives up retrying when ctx is done.
func (c *Cache[V]) CloseContext(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	err := retry.Do(ctx, c.closeRetry, nil,
		func(err error, delay time.Duration) {
			c.logger.Warn("final cache flush failed, retrying", log.Error(err), log.Duration("delay", delay))
		},
		c.FlushIfDirty)
	if err != nil {
		return fmt.Errorf("final cache flush: %w", err)
	}
	return nil
}

// loadSnapshot restores the state from the store. Expired and timestamp-less entries are dropped,
// the rest is trimmed to maxEntries keeping the most recently used ones. Timestamps in the future are set to now.
func (c *Cache[V]) loadSnapshot(ctx context.Context) {
	snap, err := c.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			c.logger.Info("no cache snapshot found, starting with empty cache")
			return
		}
		c.metricsCollector.IncPersistenceErrors(PersistenceOpLoad)
		c.logger.Warn("failed to load cache snapshot, starting with empty cache", log.Error(err))
		return
	}

	entries, err := c.decodeSnapshot(snap)
	if err != nil {
		c.metricsCollector.IncPersistenceErrors(PersistenceOpLoad)
		c.logger.Warn("failed to decode cache snapshot, starting with empty cache", log.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	live := make([]stateEntry[V], 0, len(entries))
	for _, e := range entries {
		if e.insertedAt.After(now) {
			e.insertedAt = now // written by a host whose clock was ahead
		}
		if now.Sub(e.insertedAt) > c.ttl {
			continue
		}
		live = append(live, e)
	}
	expired := len(entries) - len(live)
	if len(live) > c.maxEntries {
		live = live[len(live)-c.maxEntries:]
	}

	for _, e := range live {
		entry := &cacheEntry[V]{key: e.key, value: e.value, insertedAt: e.insertedAt}
		c.entries[e.key] = c.lruList.PushFront(entry)
	}
	byAge := make([]*cacheEntry[V], 0, len(live))
	for _, elem := range c.entries {
		byAge = append(byAge, elem.Value.(*cacheEntry[V]))
	}
	sort.SliceStable(byAge, func(i, j int) bool { return byAge[i].insertedAt.Before(byAge[j].insertedAt) })
	for _, entry := range byAge {
		entry.ageElem = c.ageList.PushBack(entry)
	}

	c.hits, c.misses = snap.Meta.Hits, snap.Meta.Misses
	c.generation.Store(snap.Meta.Generation)
	c.savedGeneration.Store(snap.Meta.Generation)

	c.logger.Info("cache snapshot loaded",
		log.Int("entries", len(live)), log.Int("expired", expired), log.Int64("hits", c.hits), log.Int64("misses", c.misses))
}

func (c *Cache[V]) decodeSnapshot(snap *Snapshot) ([]stateEntry[V], error) {
	entries := make([]stateEntry[V], 0, len(snap.Entries))
	seen := make(map[string]struct{}, len(snap.Entries))
	for _, se := range snap.Entries {
		ts, ok := snap.Meta.Timestamps[se.Key]
		if !ok {
			c.logger.Debug("dropping cache entry without timestamp", log.String("key", se.Key))
			continue
		}
		if _, dup := seen[se.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrSnapshotCorrupted, se.Key)
		}
		seen[se.Key] = struct{}{}
		v, err := c.codec.Decode(se.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: decode value for key %q: %v", ErrSnapshotCorrupted, se.Key, err)
		}
		entries = append(entries, stateEntry[V]{key: se.Key, value: v, insertedAt: ts})
	}
	return entries, nil
}
