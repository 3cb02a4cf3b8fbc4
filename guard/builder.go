/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package guard

import (
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/ratelimit"
	"github.com/acronis/go-reqguard/ttlcache"
)

// BuildOpts contains optional parameters for NewFromConfig.
type BuildOpts struct {
	Logger  log.FieldLogger
	Metrics *PrometheusMetrics
	Clock   clock.Clock

	// SnapshotStore replaces the file store configured by cache.persistence.
	SnapshotStore ttlcache.SnapshotStore
}

// NewFromConfig creates the cache, the rate limiter, the Guard over them and the Unit maintaining them.
// The cache state is loaded from its snapshot before NewFromConfig returns.
func NewFromConfig[V any](cfg *Config, opts BuildOpts) (*Guard[V], *Unit, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	cacheOpts := []ttlcache.Option[V]{
		ttlcache.WithClock[V](clk),
		ttlcache.WithLogger[V](logger.With(log.String("component", "cache"))),
	}
	limiterOpts := []ratelimit.Option{
		ratelimit.WithClock(clk),
		ratelimit.WithLogger(logger.With(log.String("component", "rate_limiter"))),
	}
	if opts.Metrics != nil {
		cacheOpts = append(cacheOpts, ttlcache.WithMetricsCollector[V](opts.Metrics.Cache))
		limiterOpts = append(limiterOpts, ratelimit.WithMetricsCollector(opts.Metrics.RateLimit))
	}
	if opts.SnapshotStore != nil {
		cacheOpts = append(cacheOpts, ttlcache.WithSnapshotStore[V](opts.SnapshotStore))
	}

	cache, err := ttlcache.New[V](*cfg.Cache, cacheOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create cache: %w", err)
	}
	limiter, err := ratelimit.New(cfg.RateLimit.Policy(), limiterOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create rate limiter: %w", err)
	}

	unitOpts := UnitOptsFromConfig(cfg)
	unitOpts.Clock = clk
	if opts.Metrics != nil {
		unitOpts.MetricsRegisterer = opts.Metrics
	}
	unit := NewUnit(cache, limiter, logger, unitOpts)

	return New(cache, limiter, logger), unit, nil
}
