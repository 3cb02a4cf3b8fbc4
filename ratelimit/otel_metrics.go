/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics is a MetricsCollector backed by OpenTelemetry instruments.
type OTelMetrics struct {
	clients            metric.Int64Gauge
	allowed            metric.Int64Counter
	rejected           metric.Int64Counter
	idleClientsRemoved metric.Int64Counter
	attrs              []attribute.KeyValue
}

// NewOTelMetrics creates rate limiter instruments on the meter. Attributes are attached to every measurement.
func NewOTelMetrics(meter metric.Meter, attrs ...attribute.KeyValue) (*OTelMetrics, error) {
	m := &OTelMetrics{attrs: attrs}
	var err error
	if m.clients, err = meter.Int64Gauge("rate_limit.clients",
		metric.WithDescription("Number of clients tracked by the rate limiter.")); err != nil {
		return nil, fmt.Errorf("create rate_limit.clients gauge: %w", err)
	}
	if m.allowed, err = meter.Int64Counter("rate_limit.allowed",
		metric.WithDescription("Number of requests admitted by the rate limiter.")); err != nil {
		return nil, fmt.Errorf("create rate_limit.allowed counter: %w", err)
	}
	if m.rejected, err = meter.Int64Counter("rate_limit.rejected",
		metric.WithDescription("Number of requests rejected by the rate limiter.")); err != nil {
		return nil, fmt.Errorf("create rate_limit.rejected counter: %w", err)
	}
	if m.idleClientsRemoved, err = meter.Int64Counter("rate_limit.idle_clients_removed",
		metric.WithDescription("Number of clients removed by idle cleanup.")); err != nil {
		return nil, fmt.Errorf("create rate_limit.idle_clients_removed counter: %w", err)
	}
	return m, nil
}

// SetClientsAmount implements MetricsCollector.
func (m *OTelMetrics) SetClientsAmount(n int) {
	m.clients.Record(context.Background(), int64(n), metric.WithAttributes(m.attrs...))
}

// IncAllowed implements MetricsCollector.
func (m *OTelMetrics) IncAllowed(tier string) {
	m.allowed.Add(context.Background(), 1, m.withTier(tier))
}

// IncRejected implements MetricsCollector.
func (m *OTelMetrics) IncRejected(tier string) {
	m.rejected.Add(context.Background(), 1, m.withTier(tier))
}

// AddIdleClientsRemoved implements MetricsCollector.
func (m *OTelMetrics) AddIdleClientsRemoved(n int) {
	m.idleClientsRemoved.Add(context.Background(), int64(n), metric.WithAttributes(m.attrs...))
}

func (m *OTelMetrics) withTier(tier string) metric.MeasurementOption {
	attrs := make([]attribute.KeyValue, 0, len(m.attrs)+1)
	attrs = append(attrs, m.attrs...)
	return metric.WithAttributes(append(attrs, attribute.String("tier", tier))...)
}
