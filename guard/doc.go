/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package guard puts a per-client rate limiter and a TTL cache in front of an expensive computation.
// Unit runs their background maintenance and flushes the cache on shutdown.
package guard
