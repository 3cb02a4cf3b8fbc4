/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/acronis/go-reqguard/testutil"
)

func TestOTelMetrics(t *testing.T) {
	otelMetrics := testutil.NewOTelMetrics()
	mc, err := NewOTelMetrics(otelMetrics.Meter, attribute.String("cache", "transcripts"))
	require.NoError(t, err)

	store := &memorySnapshotStore{failSaves: 1, saveErr: errors.New("read-only file system")}
	mock := clock.NewMock()
	cache, err := New[string](Config{TTL: time.Minute, MaxEntries: 2},
		WithClock[string](mock), WithMetricsCollector[string](mc), WithSnapshotStore[string](store))
	require.NoError(t, err)

	cache.Set("a", "1")
	cache.Set("b", "2")
	cache.Set("c", "3")
	_, _ = cache.Get("c")
	_, _ = cache.Get("a")
	require.Error(t, cache.Flush(context.Background()))
	mock.Add(2 * time.Minute)
	require.Equal(t, 2, cache.DeleteExpired())

	rm := otelMetrics.Collect(t)
	require.Equal(t, int64(1), testutil.RequireInt64Sum(t, rm, "ttl_cache.hits"))
	require.Equal(t, int64(1), testutil.RequireInt64Sum(t, rm, "ttl_cache.misses"))
	require.Equal(t, int64(1), testutil.RequireInt64Sum(t, rm, "ttl_cache.evictions"))
	require.Equal(t, int64(2), testutil.RequireInt64Sum(t, rm, "ttl_cache.expirations"))

	persistenceErrs := testutil.RequireInt64SumPoints(t, rm, "ttl_cache.persistence.errors")
	require.Len(t, persistenceErrs, 1)
	require.Equal(t, int64(1), persistenceErrs[0].Value)
	op, found := persistenceErrs[0].Attributes.Value("operation")
	require.True(t, found)
	require.Equal(t, PersistenceOpSave, op.AsString())

	entries := testutil.RequireInt64GaugePoints(t, rm, "ttl_cache.entries")
	require.Len(t, entries, 1)
	require.Equal(t, int64(0), entries[0].Value)
	cacheAttr, found := entries[0].Attributes.Value("cache")
	require.True(t, found)
	require.Equal(t, "transcripts", cacheAttr.AsString())
}
