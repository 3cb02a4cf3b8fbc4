/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit provides a per-client sliding window rate limiter with tier-based quotas.
//
// Each client keeps the timestamps of its admitted requests. A request is admitted
// when fewer than Rate.Count timestamps are younger than Rate.Duration.
// Rejected requests don't consume the quota.
package ratelimit
