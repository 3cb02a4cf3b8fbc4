/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/retry"
)

type options[V any] struct {
	clock            clock.Clock
	logger           log.FieldLogger
	metricsCollector MetricsCollector
	store            SnapshotStore
	codec            Codec[V]
	closeRetryPolicy retry.Policy
}

// Option configures a Cache.
type Option[V any] func(*options[V])

// WithClock sets the clock used for timestamps and expiry.
func WithClock[V any](clk clock.Clock) Option[V] {
	return func(o *options[V]) { o.clock = clk }
}

// WithLogger sets the logger. Logging is disabled by default.
func WithLogger[V any](logger log.FieldLogger) Option[V] {
	return func(o *options[V]) { o.logger = logger }
}

// WithMetricsCollector sets the metrics collector. Metrics are disabled by default.
func WithMetricsCollector[V any](mc MetricsCollector) Option[V] {
	return func(o *options[V]) { o.metricsCollector = mc }
}

// WithSnapshotStore enables persistence through the store regardless of Config.Persistence.Enabled.
func WithSnapshotStore[V any](store SnapshotStore) Option[V] {
	return func(o *options[V]) { o.store = store }
}

// WithCodec sets the codec for snapshot values. JSONCodec is used by default.
func WithCodec[V any](codec Codec[V]) Option[V] {
	return func(o *options[V]) { o.codec = codec }
}

// WithCloseRetryPolicy sets the retry policy of the final flush in Close.
func WithCloseRetryPolicy[V any](policy retry.Policy) Option[V] {
	return func(o *options[V]) { o.closeRetryPolicy = policy }
}

var defaultCloseRetryPolicy = retry.NewExponentialPolicy(100*time.Millisecond, 3)
