/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"github.com/benbjohnson/clock"

	"github.com/acronis/go-reqguard/log"
)

type options struct {
	clock            clock.Clock
	logger           log.FieldLogger
	metricsCollector MetricsCollector
}

// Option configures a Limiter.
type Option func(*options)

// WithClock sets the clock used as the source of request timestamps.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithLogger sets the logger. Logging is disabled by default.
func WithLogger(logger log.FieldLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetricsCollector sets the metrics collector. Metrics are disabled by default.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) { o.metricsCollector = mc }
}
