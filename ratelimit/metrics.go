/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector collects statistics about rate limiting.
type MetricsCollector interface {
	// SetClientsAmount sets the current number of tracked clients.
	SetClientsAmount(int)

	// IncAllowed increments the number of admitted requests for the tier.
	IncAllowed(tier string)

	// IncRejected increments the number of rejected requests for the tier.
	IncRejected(tier string)

	// AddIdleClientsRemoved adds the number of clients removed by idle cleanup.
	AddIdleClientsRemoved(int)
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
	ClientsAmount           *prometheus.GaugeVec
	AllowedTotal            *prometheus.CounterVec
	RejectedTotal           *prometheus.CounterVec
	IdleClientsRemovedTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	tierLabels := append(append([]string{}, opts.CurriedLabelNames...), "tier")
	return &PrometheusMetrics{
		ClientsAmount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "rate_limit_clients_amount",
			Help:        "Number of clients tracked by the rate limiter.",
			ConstLabels: opts.ConstLabels,
		}, opts.CurriedLabelNames),
		AllowedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "rate_limit_allowed_requests_total",
			Help:        "Number of requests admitted by the rate limiter.",
			ConstLabels: opts.ConstLabels,
		}, tierLabels),
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "rate_limit_rejected_requests_total",
			Help:        "Number of requests rejected by the rate limiter.",
			ConstLabels: opts.ConstLabels,
		}, tierLabels),
		IdleClientsRemovedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "rate_limit_idle_clients_removed_total",
			Help:        "Number of clients removed by idle cleanup.",
			ConstLabels: opts.ConstLabels,
		}, opts.CurriedLabelNames),
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		ClientsAmount:           pm.ClientsAmount.MustCurryWith(labels),
		AllowedTotal:            pm.AllowedTotal.MustCurryWith(labels),
		RejectedTotal:           pm.RejectedTotal.MustCurryWith(labels),
		IdleClientsRemovedTotal: pm.IdleClientsRemovedTotal.MustCurryWith(labels),
	}
}

func (pm *PrometheusMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{pm.ClientsAmount, pm.AllowedTotal, pm.RejectedTotal, pm.IdleClientsRemovedTotal}
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

// SetClientsAmount implements MetricsCollector.
func (pm *PrometheusMetrics) SetClientsAmount(n int) {
	pm.ClientsAmount.With(nil).Set(float64(n))
}

// IncAllowed implements MetricsCollector.
func (pm *PrometheusMetrics) IncAllowed(tier string) {
	pm.AllowedTotal.With(prometheus.Labels{"tier": tier}).Inc()
}

// IncRejected implements MetricsCollector.
func (pm *PrometheusMetrics) IncRejected(tier string) {
	pm.RejectedTotal.With(prometheus.Labels{"tier": tier}).Inc()
}

// AddIdleClientsRemoved implements MetricsCollector.
func (pm *PrometheusMetrics) AddIdleClientsRemoved(n int) {
	pm.IdleClientsRemovedTotal.With(nil).Add(float64(n))
}

type disabledMetrics struct{}

func (disabledMetrics) SetClientsAmount(int)      {}
func (disabledMetrics) IncAllowed(string)         {}
func (disabledMetrics) IncRejected(string)        {}
func (disabledMetrics) AddIdleClientsRemoved(int) {}
