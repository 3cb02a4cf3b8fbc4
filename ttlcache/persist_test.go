/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/log/logtest"
	"github.com/acronis/go-reqguard/retry"
)

type memorySnapshotStore struct {
	mu        sync.Mutex
	snapshot  *Snapshot
	saves     int
	failSaves int // number of next saves that fail
	saveErr   error
	loadErr   error
}

func (s *memorySnapshotStore) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.snapshot == nil {
		return nil, ErrSnapshotNotFound
	}
	return copySnapshot(s.snapshot), nil
}

func (s *memorySnapshotStore) Save(ctx context.Context, snapshot *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failSaves > 0 {
		s.failSaves--
		return s.saveErr
	}
	s.snapshot = copySnapshot(snapshot)
	return nil
}

func (s *memorySnapshotStore) savesCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memorySnapshotStore) lastSnapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil
	}
	return copySnapshot(s.snapshot)
}

func copySnapshot(snap *Snapshot) *Snapshot {
	res := &Snapshot{
		Entries: append([]SnapshotEntry{}, snap.Entries...),
		Meta:    snap.Meta,
	}
	res.Meta.Timestamps = make(map[string]time.Time, len(snap.Meta.Timestamps))
	for k, v := range snap.Meta.Timestamps {
		res.Meta.Timestamps[k] = v
	}
	return res
}

func snapshotKeys(snap *Snapshot) []string {
	keys := make([]string, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		keys = append(keys, e.Key)
	}
	return keys
}

func newPersistentCache(
	t *testing.T, cfg Config, store SnapshotStore, mock *clock.Mock, opts ...Option[string],
) *Cache[string] {
	t.Helper()
	opts = append([]Option[string]{WithClock[string](mock), WithSnapshotStore[string](store)}, opts...)
	cache, err := New[string](cfg, opts...)
	require.NoError(t, err)
	return cache
}

type blockingSnapshotStore struct {
	memorySnapshotStore
	release chan struct{}
}

func (s *blockingSnapshotStore) Save(ctx context.Context, snapshot *Snapshot) error {
	<-s.release // ignores ctx on purpose
	return s.memorySnapshotStore.Save(ctx, snapshot)
}

func TestCache_SaveTimeout(t *testing.T) {
	store := &blockingSnapshotStore{release: make(chan struct{})}
	logRecorder := logtest.NewRecorder()
	cfg := Config{TTL: time.Hour, MaxEntries: 10,
		Persistence: PersistenceConfig{FlushEvery: 1, SaveTimeout: 50 * time.Millisecond}}
	cache := newPersistentCache(t, cfg, store, clock.NewMock(), WithLogger[string](logRecorder))

	setsDone := make(chan struct{})
	go func() {
		cache.Set("a", "1") // the save hangs in the store
		cache.Set("b", "2") // the save waits for the hung one
		close(setsDone)
	}()
	select {
	case <-setsDone:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "Set is blocked by a hung snapshot store")
	}
	require.ErrorIs(t, cache.Flush(context.Background()), context.DeadlineExceeded)
	_, found := logRecorder.FindEntry("failed to save cache snapshot")
	require.True(t, found)

	val, found := cache.Get("b")
	require.True(t, found)
	require.Equal(t, "2", val)

	close(store.release)
	require.Eventually(t, func() bool {
		return cache.Flush(context.Background()) == nil
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"a", "b"}, snapshotKeys(store.lastSnapshot()))
	require.NoError(t, cache.Close())
}

func TestCache_FlushEvery(t *testing.T) {
	store := &memorySnapshotStore{}
	cfg := Config{TTL: time.Hour, MaxEntries: 100, Persistence: PersistenceConfig{FlushEvery: 3}}
	cache := newPersistentCache(t, cfg, store, clock.NewMock())

	cache.Set("k1", "v1")
	cache.Set("k2", "v2")
	require.Equal(t, 0, store.savesCount())
	cache.Set("k3", "v3")
	require.Equal(t, 1, store.savesCount())
	require.Equal(t, []string{"k1", "k2", "k3"}, snapshotKeys(store.lastSnapshot()))

	cache.Set("k1", "v1-new")
	cache.Set("k4", "v4")
	require.Equal(t, 1, store.savesCount())
	cache.Set("k5", "v5")
	require.Equal(t, 2, store.savesCount())
	require.Equal(t, []string{"k2", "k3", "k1", "k4", "k5"}, snapshotKeys(store.lastSnapshot()))
}

func TestCache_FlushEveryWrite(t *testing.T) {
	store := &memorySnapshotStore{}
	cfg := Config{TTL: time.Hour, MaxEntries: 100, Persistence: PersistenceConfig{FlushEvery: 1}}
	cache := newPersistentCache(t, cfg, store, clock.NewMock())
	for i := 0; i < 5; i++ {
		cache.Set(fmt.Sprintf("k%d", i), "v")
	}
	require.Equal(t, 5, store.savesCount())
}

func TestCache_FlushDisabled(t *testing.T) {
	store := &memorySnapshotStore{}
	cfg := Config{TTL: time.Hour, MaxEntries: 100}
	cache := newPersistentCache(t, cfg, store, clock.NewMock())
	for i := 0; i < 20; i++ {
		cache.Set(fmt.Sprintf("k%d", i), "v")
	}
	require.Equal(t, 0, store.savesCount())

	require.NoError(t, cache.FlushIfDirty(context.Background()))
	require.Equal(t, 1, store.savesCount())
	require.NoError(t, cache.FlushIfDirty(context.Background()))
	require.Equal(t, 1, store.savesCount())

	cache.Set("k-new", "v")
	require.NoError(t, cache.FlushIfDirty(context.Background()))
	require.Equal(t, 2, store.savesCount())
}

func TestCache_ClearSavesEmptyState(t *testing.T) {
	store := &memorySnapshotStore{}
	cfg := Config{TTL: time.Hour, MaxEntries: 100}
	cache := newPersistentCache(t, cfg, store, clock.NewMock())
	cache.Set("a", "1")
	_, _ = cache.Get("a")
	require.NoError(t, cache.Flush(context.Background()))

	cache.Clear()
	require.Equal(t, 2, store.savesCount())
	snap := store.lastSnapshot()
	require.Empty(t, snap.Entries)
	require.Equal(t, int64(0), snap.Meta.Hits)
	require.Equal(t, int64(0), snap.Meta.Misses)
}

func TestCache_PersistenceRoundTrip(t *testing.T) {
	store := &memorySnapshotStore{}
	mock := clock.NewMock()
	cfg := Config{TTL: time.Hour, MaxEntries: 100, Persistence: PersistenceConfig{FlushEvery: 10}}

	cache1 := newPersistentCache(t, cfg, store, mock)
	cache1.Set("a", "1")
	cache1.Set("b", "2")
	_, _ = cache1.Get("a")
	_, _ = cache1.Get("missing")
	require.NoError(t, cache1.Close())

	mock.Add(10 * time.Minute)
	cache2 := newPersistentCache(t, cfg, store, mock)
	stats := cache2.Stats()
	require.Equal(t, 2, stats.Size)
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)

	val, found := cache2.Get("a")
	require.True(t, found)
	require.Equal(t, "1", val)

	// TTL keeps counting from the original write
	mock.Add(51 * time.Minute)
	_, found = cache2.Get("b")
	require.False(t, found)
}

func TestCache_LoadPurgesExpiredAndTrims(t *testing.T) {
	t.Run("expired entries are purged on load", func(t *testing.T) {
		store := &memorySnapshotStore{}
		mock := clock.NewMock()
		cfg := Config{TTL: time.Minute, MaxEntries: 10}

		cache1 := newPersistentCache(t, cfg, store, mock)
		cache1.Set("old", "1")
		mock.Add(30 * time.Second)
		cache1.Set("fresh", "2")
		require.NoError(t, cache1.Flush(context.Background()))

		mock.Add(45 * time.Second)
		cache2 := newPersistentCache(t, cfg, store, mock)
		require.Equal(t, 1, cache2.Len())
		_, found := cache2.Get("fresh")
		require.True(t, found)
	})

	t.Run("future timestamps are set to load time", func(t *testing.T) {
		mock := clock.NewMock()
		store := &memorySnapshotStore{snapshot: &Snapshot{
			Entries: []SnapshotEntry{{Key: "skewed", Value: []byte(`"v"`)}},
			Meta: SnapshotMeta{
				Generation: 1,
				Timestamps: map[string]time.Time{"skewed": mock.Now().Add(30 * time.Second)},
			},
		}}
		cache := newPersistentCache(t, Config{TTL: time.Minute, MaxEntries: 10}, store, mock)

		mock.Add(time.Minute)
		val, found := cache.Get("skewed")
		require.True(t, found)
		require.Equal(t, "v", val)

		mock.Add(time.Second)
		_, found = cache.Get("skewed")
		require.False(t, found)
	})

	t.Run("snapshot larger than capacity keeps most recently used", func(t *testing.T) {
		store := &memorySnapshotStore{}
		mock := clock.NewMock()

		cache1 := newPersistentCache(t, Config{TTL: time.Hour, MaxEntries: 5}, store, mock)
		for i := 1; i <= 5; i++ {
			cache1.Set(fmt.Sprintf("k%d", i), "v")
			mock.Add(time.Second)
		}
		_, _ = cache1.Get("k1")
		require.NoError(t, cache1.Flush(context.Background()))

		cache2 := newPersistentCache(t, Config{TTL: time.Hour, MaxEntries: 2}, store, mock)
		require.Equal(t, 2, cache2.Len())

		// k5 is the least recently used of the two kept entries
		cache2.Set("k6", "v")
		_, found := cache2.Get("k5")
		require.False(t, found)
		_, found = cache2.Get("k1")
		require.True(t, found)
	})

	t.Run("expiry order is restored from timestamps", func(t *testing.T) {
		store := &memorySnapshotStore{}
		mock := clock.NewMock()
		cfg := Config{TTL: time.Minute, MaxEntries: 10}

		cache1 := newPersistentCache(t, cfg, store, mock)
		cache1.Set("first", "1")
		mock.Add(20 * time.Second)
		cache1.Set("second", "2")
		_, _ = cache1.Get("first")
		require.NoError(t, cache1.Flush(context.Background()))

		cache2 := newPersistentCache(t, cfg, store, mock)
		mock.Add(45 * time.Second)
		require.Equal(t, 1, cache2.DeleteExpired())
		_, found := cache2.Get("second")
		require.True(t, found)
	})
}

func TestCache_CorruptedSnapshot(t *testing.T) {
	t.Run("store reports corruption", func(t *testing.T) {
		logRecorder := logtest.NewRecorder()
		pm := NewPrometheusMetrics()
		store := &memorySnapshotStore{loadErr: fmt.Errorf("%w: generation mismatch", ErrSnapshotCorrupted)}
		cache := newPersistentCache(t, Config{TTL: time.Hour, MaxEntries: 10}, store, clock.NewMock(),
			WithLogger[string](logRecorder), WithMetricsCollector[string](pm))

		require.Equal(t, 0, cache.Len())
		entry, found := logRecorder.FindEntry("failed to load cache snapshot, starting with empty cache")
		require.True(t, found)
		require.Equal(t, log.LevelWarn, entry.Level)
		require.Equal(t, float64(1), testutil.ToFloat64(pm.PersistenceErrorsTotal.WithLabelValues(PersistenceOpLoad)))

		cache.Set("a", "1")
		_, found = cache.Get("a")
		require.True(t, found)
	})

	t.Run("undecodable value", func(t *testing.T) {
		logRecorder := logtest.NewRecorder()
		store := &memorySnapshotStore{snapshot: &Snapshot{
			Entries: []SnapshotEntry{{Key: "a", Value: []byte(`"ok"`)}, {Key: "b", Value: []byte(`{broken`)}},
			Meta:    SnapshotMeta{Timestamps: map[string]time.Time{"a": time.Unix(0, 0), "b": time.Unix(0, 0)}},
		}}
		cache := newPersistentCache(t, Config{TTL: time.Hour, MaxEntries: 10}, store, clock.NewMock(),
			WithLogger[string](logRecorder))

		require.Equal(t, 0, cache.Len())
		_, found := logRecorder.FindEntry("failed to decode cache snapshot, starting with empty cache")
		require.True(t, found)
	})

	t.Run("entries without timestamps are dropped", func(t *testing.T) {
		store := &memorySnapshotStore{snapshot: &Snapshot{
			Entries: []SnapshotEntry{{Key: "a", Value: []byte(`"1"`)}, {Key: "b", Value: []byte(`"2"`)}},
			Meta: SnapshotMeta{
				Timestamps: map[string]time.Time{"b": time.Unix(0, 0)},
				Hits:       3,
				Misses:     4,
			},
		}}
		cache := newPersistentCache(t, Config{TTL: time.Hour, MaxEntries: 10}, store, clock.NewMock())

		stats := cache.Stats()
		require.Equal(t, 1, stats.Size)
		require.Equal(t, int64(3), stats.Hits)
		require.Equal(t, int64(4), stats.Misses)
		val, found := cache.Get("b")
		require.True(t, found)
		require.Equal(t, "2", val)
	})

	t.Run("no snapshot yet", func(t *testing.T) {
		logRecorder := logtest.NewRecorder()
		cache := newPersistentCache(t, Config{TTL: time.Hour, MaxEntries: 10}, &memorySnapshotStore{}, clock.NewMock(),
			WithLogger[string](logRecorder))
		require.Equal(t, 0, cache.Len())
		_, found := logRecorder.FindEntry("no cache snapshot found, starting with empty cache")
		require.True(t, found)
	})
}

func TestCache_SaveFailureIsNotSurfaced(t *testing.T) {
	logRecorder := logtest.NewRecorder()
	pm := NewPrometheusMetrics()
	store := &memorySnapshotStore{failSaves: 100, saveErr: errors.New("disk is full")}
	cfg := Config{TTL: time.Hour, MaxEntries: 10, Persistence: PersistenceConfig{FlushEvery: 1}}
	cache := newPersistentCache(t, cfg, store, clock.NewMock(),
		WithLogger[string](logRecorder), WithMetricsCollector[string](pm))

	cache.Set("a", "1")
	cache.Set("b", "2")
	cache.Clear()
	cache.Set("c", "3")

	val, found := cache.Get("c")
	require.True(t, found)
	require.Equal(t, "3", val)
	require.Equal(t, float64(4), testutil.ToFloat64(pm.PersistenceErrorsTotal.WithLabelValues(PersistenceOpSave)))

	entry, found := logRecorder.FindEntry("failed to save cache snapshot")
	require.True(t, found)
	require.Equal(t, log.LevelError, entry.Level)
	errField, found := entry.FindField("error")
	require.True(t, found)
	require.EqualError(t, errField.Any.(error), "disk is full")

	require.ErrorContains(t, cache.Flush(context.Background()), "disk is full")
}

func TestCache_Close(t *testing.T) {
	quickRetries := func(n int) Option[string] {
		return WithCloseRetryPolicy[string](retry.NewConstantPolicy(time.Millisecond, n))
	}

	t.Run("retries failed final flush", func(t *testing.T) {
		store := &memorySnapshotStore{failSaves: 2, saveErr: errors.New("temporary failure")}
		logRecorder := logtest.NewRecorder()
		cache := newPersistentCache(t, Config{TTL: time.Hour, MaxEntries: 10}, store, clock.NewMock(),
			quickRetries(3), WithLogger[string](logRecorder))
		cache.Set("a", "1")

		require.NoError(t, cache.Close())
		require.Equal(t, 3, store.savesCount())
		require.Equal(t, []string{"a"}, snapshotKeys(store.lastSnapshot()))
		entry, found := logRecorder.FindEntry("final cache flush failed, retrying")
		require.True(t, found)
		require.Equal(t, log.LevelWarn, entry.Level)
	})

	t.Run("gives up after retries", func(t *testing.T) {
		store := &memorySnapshotStore{failSaves: 100, saveErr: errors.New("permanent failure")}
		cache := newPersistentCache(t, Config{TTL: time.Hour, MaxEntries: 10}, store, clock.NewMock(), quickRetries(2))
		cache.Set("a", "1")

		require.ErrorContains(t, cache.Close(), "permanent failure")
		require.Equal(t, 3, store.savesCount())
	})

	t.Run("nothing to flush", func(t *testing.T) {
		store := &memorySnapshotStore{}
		cache := newPersistentCache(t, Config{TTL: time.Hour, MaxEntries: 10}, store, clock.NewMock())
		require.NoError(t, cache.Close())
		require.Equal(t, 0, store.savesCount())
	})

	t.Run("without store", func(t *testing.T) {
		cache, _ := newTestCache[string](t, time.Hour, 10)
		cache.Set("a", "1")
		require.NoError(t, cache.Close())
		require.NoError(t, cache.Flush(context.Background()))
	})
}

func TestCache_OlderSnapshotDoesNotOverwriteNewer(t *testing.T) {
	store := &memorySnapshotStore{}
	cache := newPersistentCache(t, Config{TTL: time.Hour, MaxEntries: 10}, store, clock.NewMock())

	cache.Set("a", "1")
	cache.mu.Lock()
	older := cache.captureLocked()
	cache.mu.Unlock()

	cache.Set("b", "2")
	require.NoError(t, cache.Flush(context.Background()))
	require.Equal(t, 1, store.savesCount())

	require.NoError(t, cache.save(context.Background(), older))
	require.Equal(t, 1, store.savesCount())
	require.Equal(t, []string{"a", "b"}, snapshotKeys(store.lastSnapshot()))
}
