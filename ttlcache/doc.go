/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ttlcache provides a bounded in-memory cache whose entries expire a fixed TTL after they were written.
// When the cache is full the least recently used entry is evicted.
//
// The cache can mirror its state (entries, write timestamps and hit/miss counters) to a SnapshotStore,
// so statistics and still-fresh entries survive restarts. Persistence is best-effort:
// storage failures are logged and counted but never returned from Get, Set or Clear.
// A file-based store and a database/sql store (SQLite, PostgreSQL) are available.
package ttlcache
