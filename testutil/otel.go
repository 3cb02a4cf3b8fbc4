/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"context"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// OTelMetrics reads measurements of instruments created on its Meter.
type OTelMetrics struct {
	Meter  metric.Meter
	reader *sdkmetric.ManualReader
}

// NewOTelMetrics creates a meter backed by a manual reader.
func NewOTelMetrics() *OTelMetrics {
	reader := sdkmetric.NewManualReader()
	return &OTelMetrics{
		Meter:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("reqguard-test"),
		reader: reader,
	}
}

// Collect returns all measurements recorded so far.
func (m *OTelMetrics) Collect(t require.TestingT) metricdata.ResourceMetrics {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	var rm metricdata.ResourceMetrics
	require.NoError(t, m.reader.Collect(context.Background(), &rm))
	return rm
}

// FindOTelMetric returns the metric with the given name or nil.
func FindOTelMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// RequireInt64SumPoints returns the data points of an int64 counter.
func RequireInt64SumPoints(t require.TestingT, rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	m := FindOTelMetric(rm, name)
	require.NotNil(t, m, "metric %s not found", name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64] for %s, got %T", name, m.Data)
	return sum.DataPoints
}

// RequireInt64Sum returns the total of an int64 counter over all attribute sets.
func RequireInt64Sum(t require.TestingT, rm metricdata.ResourceMetrics, name string) int64 {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	var total int64
	for _, dp := range RequireInt64SumPoints(t, rm, name) {
		total += dp.Value
	}
	return total
}

// RequireInt64GaugePoints returns the data points of an int64 gauge.
func RequireInt64GaugePoints(t require.TestingT, rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	m := FindOTelMetric(rm, name)
	require.NotNil(t, m, "metric %s not found", name)
	gauge, ok := m.Data.(metricdata.Gauge[int64])
	require.True(t, ok, "expected Gauge[int64] for %s, got %T", name, m.Data)
	return gauge.DataPoints
}
