/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package guard

import (
	"github.com/acronis/go-reqguard/ratelimit"
	"github.com/acronis/go-reqguard/ttlcache"
)

// PrometheusMetrics groups Prometheus collectors of the cache and the rate limiter.
type PrometheusMetrics struct {
	Cache     *ttlcache.PrometheusMetrics
	RateLimit *ratelimit.PrometheusMetrics
}

// NewPrometheusMetrics creates collectors for both components with the namespace.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	return &PrometheusMetrics{
		Cache:     ttlcache.NewPrometheusMetricsWithOpts(ttlcache.PrometheusMetricsOpts{Namespace: namespace}),
		RateLimit: ratelimit.NewPrometheusMetricsWithOpts(ratelimit.PrometheusMetricsOpts{Namespace: namespace}),
	}
}

// MustRegisterMetrics implements service.MetricsRegisterer.
func (pm *PrometheusMetrics) MustRegisterMetrics() {
	pm.Cache.MustRegister()
	pm.RateLimit.MustRegister()
}

// UnregisterMetrics implements service.MetricsRegisterer.
func (pm *PrometheusMetrics) UnregisterMetrics() {
	pm.Cache.Unregister()
	pm.RateLimit.Unregister()
}
