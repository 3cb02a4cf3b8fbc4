/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrSnapshotNotFound is returned by SnapshotStore.Load when nothing was saved yet.
var ErrSnapshotNotFound = errors.New("cache snapshot not found")

// ErrSnapshotCorrupted is returned when a stored snapshot cannot be used.
var ErrSnapshotCorrupted = errors.New("cache snapshot is corrupted")

// SnapshotEntry is a single persisted cache entry with an encoded value.
type SnapshotEntry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// SnapshotMeta holds per-key write timestamps and cache counters.
// Generation must match between the two parts of a snapshot.
type SnapshotMeta struct {
	Generation uint64               `json:"generation"`
	Timestamps map[string]time.Time `json:"timestamps"`
	Hits       int64                `json:"hits"`
	Misses     int64                `json:"misses"`
}

// Snapshot is the persisted state of a cache. Entries go from the least to the most recently used.
type Snapshot struct {
	Entries []SnapshotEntry
	Meta    SnapshotMeta
}

// SnapshotStore loads and saves cache snapshots.
// Load must return ErrSnapshotNotFound if there is no snapshot and ErrSnapshotCorrupted (possibly wrapped)
// if the stored data is inconsistent.
type SnapshotStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snapshot *Snapshot) error
}

// Codec encodes cache values for snapshots.
type Codec[V any] interface {
	Encode(value V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// JSONCodec is the default Codec. It works for any value that round-trips through encoding/json.
type JSONCodec[V any] struct{}

// Encode implements Codec.
func (JSONCodec[V]) Encode(value V) ([]byte, error) {
	return json.Marshal(value)
}

// Decode implements Codec.
func (JSONCodec[V]) Decode(data []byte) (V, error) {
	var v V
	err := json.Unmarshal(data, &v)
	return v, err
}
