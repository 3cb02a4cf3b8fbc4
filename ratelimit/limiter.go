/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/acronis/go-reqguard/log"
)

// DefaultTierLabel is reported in metrics for requests limited by the default rate.
const DefaultTierLabel = "default"

// TierPolicy maps tier names to rates. Tiers missing from the map use Default.
// Tier names are matched case-insensitively.
type TierPolicy struct {
	Default Rate
	Tiers   map[string]Rate
}

// Validate checks every rate of the policy.
func (p TierPolicy) Validate() error {
	if err := p.Default.Validate(); err != nil {
		return fmt.Errorf("default rate: %w", err)
	}
	seen := make(map[string]string, len(p.Tiers))
	for tier, rate := range p.Tiers {
		if err := rate.Validate(); err != nil {
			return fmt.Errorf("rate for tier %q: %w", tier, err)
		}
		if other, dup := seen[strings.ToLower(tier)]; dup {
			return fmt.Errorf("tiers %q and %q differ only in case", other, tier)
		}
		seen[strings.ToLower(tier)] = tier
	}
	return nil
}

// UsageStats describes how much of its quota a client has used.
type UsageStats struct {
	ClientID         string `json:"client_id"`
	Tier             string `json:"tier"`
	RequestsInWindow int    `json:"requests_in_window"`
	MaxRequests      int    `json:"max_requests"`
	WindowSeconds    int64  `json:"window_seconds"`
	Remaining        int    `json:"remaining"`
}

// Decision is the outcome of Limiter.Check.
type Decision struct {
	Allowed   bool
	Rate      Rate
	Remaining int

	// RetryAfter is the time until the client may be admitted again. It is zero for admitted requests.
	RetryAfter time.Duration
}

// Limiter is a sliding window rate limiter keyed by client ID. It is safe for concurrent use.
// A client is limited by the rate of the tier passed with each request.
type Limiter struct {
	policy TierPolicy

	mu      sync.Mutex
	clients map[string][]time.Time // admitted request timestamps in ascending order

	clock            clock.Clock
	logger           log.FieldLogger
	metricsCollector MetricsCollector
}

// New creates a new Limiter. It fails if any rate of the policy is invalid.
func New(policy TierPolicy, opts ...Option) (*Limiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.logger == nil {
		o.logger = log.NewDisabledLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = disabledMetrics{}
	}

	tiers := make(map[string]Rate, len(policy.Tiers))
	for tier, rate := range policy.Tiers {
		tiers[strings.ToLower(tier)] = rate
	}

	return &Limiter{
		policy:           TierPolicy{Default: policy.Default, Tiers: tiers},
		clients:          make(map[string][]time.Time),
		clock:            o.clock,
		logger:           o.logger,
		metricsCollector: o.metricsCollector,
	}, nil
}

// Allow reports whether a request of the client may proceed and records it if so.
func (l *Limiter) Allow(clientID, tier string) bool {
	return l.Check(clientID, tier).Allowed
}

// Check works like Allow and also reports the remaining quota and, for rejected requests,
// how long the client has to wait.
func (l *Limiter) Check(clientID, tier string) Decision {
	rate, tierLabel := l.resolveRate(clientID, tier)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	timestamps := pruneTimestamps(l.clients[clientID], now, rate.Duration)

	if len(timestamps) < rate.Count {
		timestamps = append(timestamps, now)
		l.clients[clientID] = timestamps
		l.metricsCollector.IncAllowed(tierLabel)
		l.metricsCollector.SetClientsAmount(len(l.clients))
		return Decision{Allowed: true, Rate: rate, Remaining: rate.Count - len(timestamps)}
	}

	l.clients[clientID] = timestamps
	l.metricsCollector.IncRejected(tierLabel)

	// A place frees up when the Count-th newest request leaves the window.
	freedAt := timestamps[len(timestamps)-rate.Count].Add(rate.Duration)
	return Decision{Allowed: false, Rate: rate, RetryAfter: freedAt.Sub(now)}
}

// Stats returns the usage of the client under the rate of the tier. It doesn't record anything.
func (l *Limiter) Stats(clientID, tier string) UsageStats {
	rate, _ := l.resolveRate(clientID, tier)

	l.mu.Lock()
	defer l.mu.Unlock()

	inWindow := len(pruneTimestamps(l.clients[clientID], l.clock.Now(), rate.Duration))
	return UsageStats{
		ClientID:         clientID,
		Tier:             tier,
		RequestsInWindow: inWindow,
		MaxRequests:      rate.Count,
		WindowSeconds:    int64(rate.Duration / time.Second),
		Remaining:        max(0, rate.Count-inWindow),
	}
}

// CleanupIdleClients removes clients without requests for longer than maxAge and returns how many were removed.
// A removed client starts with an empty window on its next request.
func (l *Limiter) CleanupIdleClients(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for clientID, timestamps := range l.clients {
		if len(timestamps) == 0 || now.Sub(timestamps[len(timestamps)-1]) > maxAge {
			delete(l.clients, clientID)
			removed++
		}
	}
	if removed > 0 {
		l.metricsCollector.AddIdleClientsRemoved(removed)
		l.metricsCollector.SetClientsAmount(len(l.clients))
		l.logger.Debug("idle rate limit clients removed",
			log.Int("removed", removed), log.Int("remaining", len(l.clients)))
	}
	return removed
}

// CleanupOldClients is CleanupIdleClients with the age given in hours.
func (l *Limiter) CleanupOldClients(maxAgeHours int) int {
	return l.CleanupIdleClients(time.Duration(maxAgeHours) * time.Hour)
}

// Clients returns the number of tracked clients.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) resolveRate(clientID, tier string) (Rate, string) {
	if rate, ok := l.policy.Tiers[strings.ToLower(tier)]; ok {
		return rate, strings.ToLower(tier)
	}
	if tier != "" {
		l.logger.Debug("unknown tier, default rate limit is used",
			log.String("tier", tier), log.String("client_id", clientID))
	}
	return l.policy.Default, DefaultTierLabel
}

// pruneTimestamps drops timestamps that are window or more old. The result shares memory with the input.
func pruneTimestamps(timestamps []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(timestamps) && now.Sub(timestamps[i]) >= window {
		i++
	}
	return timestamps[i:]
}
