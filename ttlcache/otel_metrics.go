/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics is a MetricsCollector backed by OpenTelemetry instruments.
type OTelMetrics struct {
	entries           metric.Int64Gauge
	hits              metric.Int64Counter
	misses            metric.Int64Counter
	evictions         metric.Int64Counter
	expirations       metric.Int64Counter
	persistenceErrors metric.Int64Counter
	attrs             metric.MeasurementOption
}

// NewOTelMetrics creates cache instruments on the meter. Attributes are attached to every measurement.
func NewOTelMetrics(meter metric.Meter, attrs ...attribute.KeyValue) (*OTelMetrics, error) {
	m := &OTelMetrics{attrs: metric.WithAttributes(attrs...)}
	var err error
	if m.entries, err = meter.Int64Gauge("ttl_cache.entries",
		metric.WithDescription("Number of entries in the cache.")); err != nil {
		return nil, fmt.Errorf("create ttl_cache.entries gauge: %w", err)
	}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.hits, "ttl_cache.hits", "Number of successfully found keys."},
		{&m.misses, "ttl_cache.misses", "Number of not found or expired keys."},
		{&m.evictions, "ttl_cache.evictions", "Number of entries evicted because the cache was full."},
		{&m.expirations, "ttl_cache.expirations", "Number of entries removed because their TTL passed."},
		{&m.persistenceErrors, "ttl_cache.persistence.errors", "Number of failed snapshot operations."},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("create %s counter: %w", c.name, err)
		}
	}
	return m, nil
}

// SetAmount implements MetricsCollector.
func (m *OTelMetrics) SetAmount(n int) {
	m.entries.Record(context.Background(), int64(n), m.attrs)
}

// IncHits implements MetricsCollector.
func (m *OTelMetrics) IncHits() {
	m.hits.Add(context.Background(), 1, m.attrs)
}

// IncMisses implements MetricsCollector.
func (m *OTelMetrics) IncMisses() {
	m.misses.Add(context.Background(), 1, m.attrs)
}

// AddEvictions implements MetricsCollector.
func (m *OTelMetrics) AddEvictions(n int) {
	m.evictions.Add(context.Background(), int64(n), m.attrs)
}

// AddExpirations implements MetricsCollector.
func (m *OTelMetrics) AddExpirations(n int) {
	m.expirations.Add(context.Background(), int64(n), m.attrs)
}

// IncPersistenceErrors implements MetricsCollector.
func (m *OTelMetrics) IncPersistenceErrors(op string) {
	m.persistenceErrors.Add(context.Background(), 1, m.attrs,
		metric.WithAttributes(attribute.String("operation", op)))
}
