/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/ratelimit"
	"github.com/acronis/go-reqguard/ttlcache"
)

// ErrRateLimited is matched by errors returned for requests over the client's quota.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitError is returned by Guard.Do when the client is over its quota.
type RateLimitError struct {
	ClientID   string
	Tier       string
	Rate       ratelimit.Rate
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit %s exceeded for client %q, retry after %s", e.Rate, e.ClientID, e.RetryAfter)
}

// Unwrap allows errors.Is(err, ErrRateLimited).
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// Request identifies the caller and the cache key of the computation.
type Request struct {
	ClientID string
	Tier     string
	Key      string
}

// Result is a computed or cached value.
type Result[V any] struct {
	Value  V
	Cached bool
}

// Guard admits requests through the limiter and serves them from the cache when possible.
type Guard[V any] struct {
	cache   *ttlcache.Cache[V]
	limiter *ratelimit.Limiter
	logger  log.FieldLogger
}

// New creates a new Guard.
func New[V any](cache *ttlcache.Cache[V], limiter *ratelimit.Limiter, logger log.FieldLogger) *Guard[V] {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	return &Guard[V]{cache: cache, limiter: limiter, logger: logger}
}

// Do checks the quota of the client and returns the cached value for req.Key or the result of compute.
// Every admitted request counts against the quota, including the ones served from the cache.
// Errors of compute are returned as is and are not cached.
func (g *Guard[V]) Do(
	ctx context.Context, req Request, compute func(ctx context.Context) (V, error),
) (Result[V], error) {
	decision := g.limiter.Check(req.ClientID, req.Tier)
	if !decision.Allowed {
		g.logger.Debug("request is rate limited",
			log.String("client_id", req.ClientID),
			log.String("tier", req.Tier),
			log.Duration("retry_after", decision.RetryAfter),
		)
		return Result[V]{}, &RateLimitError{
			ClientID:   req.ClientID,
			Tier:       req.Tier,
			Rate:       decision.Rate,
			RetryAfter: decision.RetryAfter,
		}
	}

	value, cached, err := g.cache.GetOrLoad(ctx, req.Key, compute)
	if err != nil {
		return Result[V]{}, err
	}
	return Result[V]{Value: value, Cached: cached}, nil
}

// ClearCache drops all cached values and resets cache statistics.
func (g *Guard[V]) ClearCache() {
	g.cache.Clear()
	g.logger.Info("cache cleared")
}

// CacheStats returns cache usage.
func (g *Guard[V]) CacheStats() ttlcache.Stats {
	return g.cache.Stats()
}

// Usage returns the quota usage of the client without counting a request.
func (g *Guard[V]) Usage(clientID, tier string) ratelimit.UsageStats {
	return g.limiter.Stats(clientID, tier)
}

// Cache returns the underlying cache.
func (g *Guard[V]) Cache() *ttlcache.Cache[V] {
	return g.cache
}

// Limiter returns the underlying rate limiter.
func (g *Guard[V]) Limiter() *ratelimit.Limiter {
	return g.limiter
}
