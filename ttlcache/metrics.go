/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import "github.com/prometheus/client_golang/prometheus"

// Persistence operations used as metric label values.
const (
	PersistenceOpLoad = "load"
	PersistenceOpSave = "save"
)

// MetricsCollector collects statistics about cache usage.
type MetricsCollector interface {
	// SetAmount sets the current number of entries.
	SetAmount(int)

	// IncHits increments the number of found keys.
	IncHits()

	// IncMisses increments the number of keys not found or expired.
	IncMisses()

	// AddEvictions adds the number of entries removed to free space.
	AddEvictions(int)

	// AddExpirations adds the number of entries removed because their TTL passed.
	AddExpirations(int)

	// IncPersistenceErrors increments the number of failed snapshot loads or saves.
	IncPersistenceErrors(op string)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is prepended to all metric names.
	Namespace string

	// ConstLabels are applied to all metrics.
	ConstLabels prometheus.Labels

	// CurriedLabelNames must be curried later with PrometheusMetrics.MustCurryWith, otherwise the collector panics.
	CurriedLabelNames []string
}

// PrometheusMetrics is a Prometheus MetricsCollector.
type PrometheusMetrics struct {
	EntriesAmount          *prometheus.GaugeVec
	HitsTotal              *prometheus.CounterVec
	MissesTotal            *prometheus.CounterVec
	EvictionsTotal         *prometheus.CounterVec
	ExpirationsTotal       *prometheus.CounterVec
	PersistenceErrorsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	makeCounter := func(name, help string, extraLabels ...string) *prometheus.CounterVec {
		labels := append(append([]string{}, opts.CurriedLabelNames...), extraLabels...)
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: opts.ConstLabels,
		}, labels)
	}
	return &PrometheusMetrics{
		EntriesAmount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "ttl_cache_entries_amount",
			Help:        "Total number of entries in the cache.",
			ConstLabels: opts.ConstLabels,
		}, opts.CurriedLabelNames),
		HitsTotal:        makeCounter("ttl_cache_hits_total", "Number of successfully found keys in the cache."),
		MissesTotal:      makeCounter("ttl_cache_misses_total", "Number of not found or expired keys in the cache."),
		EvictionsTotal:   makeCounter("ttl_cache_evictions_total", "Number of entries evicted because the cache was full."),
		ExpirationsTotal: makeCounter("ttl_cache_expirations_total", "Number of entries removed because their TTL passed."),
		PersistenceErrorsTotal: makeCounter("ttl_cache_persistence_errors_total",
			"Number of failed snapshot operations.", "operation"),
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		EntriesAmount:          pm.EntriesAmount.MustCurryWith(labels),
		HitsTotal:              pm.HitsTotal.MustCurryWith(labels),
		MissesTotal:            pm.MissesTotal.MustCurryWith(labels),
		EvictionsTotal:         pm.EvictionsTotal.MustCurryWith(labels),
		ExpirationsTotal:       pm.ExpirationsTotal.MustCurryWith(labels),
		PersistenceErrorsTotal: pm.PersistenceErrorsTotal.MustCurryWith(labels),
	}
}

func (pm *PrometheusMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		pm.EntriesAmount,
		pm.HitsTotal,
		pm.MissesTotal,
		pm.EvictionsTotal,
		pm.ExpirationsTotal,
		pm.PersistenceErrorsTotal,
	}
}

// MustRegister registers all metrics in the default Prometheus registry and panics on error.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.collectors()...)
}

// Unregister removes all metrics from the default Prometheus registry.
func (pm *PrometheusMetrics) Unregister() {
	for _, c := range pm.collectors() {
		prometheus.Unregister(c)
	}
}

// SetAmount implements MetricsCollector.
func (pm *PrometheusMetrics) SetAmount(amount int) {
	pm.EntriesAmount.With(nil).Set(float64(amount))
}

// IncHits implements MetricsCollector.
func (pm *PrometheusMetrics) IncHits() {
	pm.HitsTotal.With(nil).Inc()
}

// IncMisses implements MetricsCollector.
func (pm *PrometheusMetrics) IncMisses() {
	pm.MissesTotal.With(nil).Inc()
}

// AddEvictions implements MetricsCollector.
func (pm *PrometheusMetrics) AddEvictions(n int) {
	pm.EvictionsTotal.With(nil).Add(float64(n))
}

// AddExpirations implements MetricsCollector.
func (pm *PrometheusMetrics) AddExpirations(n int) {
	pm.ExpirationsTotal.With(nil).Add(float64(n))
}

// IncPersistenceErrors implements MetricsCollector.
func (pm *PrometheusMetrics) IncPersistenceErrors(op string) {
	pm.PersistenceErrorsTotal.With(prometheus.Labels{"operation": op}).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) SetAmount(int)               {}
func (disabledMetrics) IncHits()                    {}
func (disabledMetrics) IncMisses()                  {}
func (disabledMetrics) AddEvictions(int)            {}
func (disabledMetrics) AddExpirations(int)          {}
func (disabledMetrics) IncPersistenceErrors(string) {}
