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

	"github.com/benbjohnson/clock"

	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/ratelimit"
	"github.com/acronis/go-reqguard/service"
)

// DefaultCacheSweepInterval is used when UnitOpts.CacheSweepInterval is not set.
const DefaultCacheSweepInterval = time.Minute

// Names of the periodic workers, added to their log entries.
const (
	CacheSweeperWorkerName   = "cache-sweeper"
	CacheFlusherWorkerName   = "cache-flusher"
	ClientsCleanerWorkerName = "clients-cleaner"
)

// CacheMaintainer is the part of ttlcache.Cache the Unit needs.
type CacheMaintainer interface {
	DeleteExpired() int
	FlushIfDirty(ctx context.Context) error
	Close() error
}

// UnitOpts configures the background maintenance.
type UnitOpts struct {
	// CacheSweepInterval is the period of removing expired cache entries.
	CacheSweepInterval time.Duration

	// CacheFlushInterval is the period of saving changed cache state. 0 disables periodic flushing.
	CacheFlushInterval time.Duration

	// ClientsCleanupInterval is the period of forgetting idle rate limiter clients. 0 disables cleanup.
	ClientsCleanupInterval time.Duration

	// ClientsMaxIdle is the idle time after which a rate limiter client is forgotten.
	ClientsMaxIdle time.Duration

	// GracefulStopTimeout bounds the wait for every worker on graceful stop.
	GracefulStopTimeout time.Duration

	// MetricsRegisterer is registered together with the unit, e.g. *PrometheusMetrics.
	MetricsRegisterer service.MetricsRegisterer

	Clock clock.Clock
}

// UnitOptsFromConfig returns UnitOpts with intervals taken from the config.
func UnitOptsFromConfig(cfg *Config) UnitOpts {
	opts := UnitOpts{}
	if cfg.Cache != nil {
		opts.CacheFlushInterval = cfg.Cache.Persistence.FlushInterval
	}
	if cfg.RateLimit != nil {
		opts.ClientsCleanupInterval = cfg.RateLimit.Cleanup.Interval
		opts.ClientsMaxIdle = cfg.RateLimit.Cleanup.MaxIdle
	}
	return opts
}

// Unit is a service.Unit running periodic cache sweeping and flushing and rate limiter cleanup.
// Stop makes the final cache flush after the workers are stopped.
type Unit struct {
	*service.CompositeUnit
	cache  CacheMaintainer
	logger log.FieldLogger
}

var _ service.Unit = (*Unit)(nil)
var _ service.MetricsRegisterer = (*Unit)(nil)

// NewUnit creates a new Unit. The limiter may be nil.
func NewUnit(cache CacheMaintainer, limiter *ratelimit.Limiter, logger log.FieldLogger, opts UnitOpts) *Unit {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	if opts.CacheSweepInterval <= 0 {
		opts.CacheSweepInterval = DefaultCacheSweepInterval
	}

	newWorkerUnit := func(name string, interval time.Duration, metricsRegisterer service.MetricsRegisterer,
		fn func(ctx context.Context) error) service.Unit {
		worker := service.NewPeriodicWorkerWithOpts(service.WorkerFunc(fn), interval, logger,
			service.PeriodicWorkerOpts{Name: name, InitialDelay: interval, Clock: opts.Clock})
		return service.NewWorkerUnitWithOpts(worker, service.WorkerUnitOpts{
			MetricsRegisterer:   metricsRegisterer,
			GracefulStopTimeout: opts.GracefulStopTimeout,
		})
	}

	units := []service.Unit{
		newWorkerUnit(CacheSweeperWorkerName, opts.CacheSweepInterval, opts.MetricsRegisterer,
			func(ctx context.Context) error {
				if removed := cache.DeleteExpired(); removed > 0 {
					logger.Debug("expired cache entries removed", log.Int("removed", removed))
				}
				return nil
			}),
	}
	if opts.CacheFlushInterval > 0 {
		units = append(units, newWorkerUnit(CacheFlusherWorkerName, opts.CacheFlushInterval, nil,
			func(ctx context.Context) error {
				// Failed saves are logged by the cache itself.
				_ = cache.FlushIfDirty(ctx)
				return nil
			}))
	}
	if limiter != nil && opts.ClientsCleanupInterval > 0 {
		maxIdle := opts.ClientsMaxIdle
		if maxIdle <= 0 {
			maxIdle = ratelimit.DefaultCleanupMaxIdle
		}
		units = append(units, newWorkerUnit(ClientsCleanerWorkerName, opts.ClientsCleanupInterval, nil,
			func(ctx context.Context) error {
				limiter.CleanupIdleClients(maxIdle)
				return nil
			}))
	}

	return &Unit{CompositeUnit: service.NewCompositeUnit(units...), cache: cache, logger: logger}
}

// Stop stops the workers and flushes the cache.
func (u *Unit) Stop(gracefully bool) error {
	stopErr := u.CompositeUnit.Stop(gracefully)
	if closeErr := u.cache.Close(); closeErr != nil {
		u.logger.Error("failed to flush cache on stop", log.Error(closeErr))
		return errors.Join(stopErr, fmt.Errorf("close cache: %w", closeErr))
	}
	return stopErr
}
