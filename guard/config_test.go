/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package guard

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-reqguard/config"
	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/ratelimit"
	"github.com/acronis/go-reqguard/ttlcache"
)

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := NewConfig()
		require.NoError(t, config.NewDefaultLoader("").LoadDefaults(cfg))
		require.Equal(t, ttlcache.NewDefaultConfig(), cfg.Cache)
		require.Equal(t, ratelimit.NewDefaultConfig(), cfg.RateLimit)
		require.Equal(t, log.LevelInfo, cfg.Log.Level)
	})

	t.Run("all sections", func(t *testing.T) {
		const yamlData = `
cache:
  ttl: 10m
  maxEntries: 1000
  persistence:
    enabled: true
    path: /var/lib/reqguard
    flushInterval: 30s
rateLimit:
  default: 20/m
  tiers:
    premium: 200/m
  cleanup:
    interval: 5m
    maxIdle: 12h
log:
  level: debug
  format: text
`
		cfg := NewConfig()
		err := config.NewDefaultLoader("").LoadFromReader(strings.NewReader(yamlData), config.DataTypeYAML, cfg)
		require.NoError(t, err)

		require.Equal(t, 10*time.Minute, cfg.Cache.TTL)
		require.Equal(t, 1000, cfg.Cache.MaxEntries)
		require.True(t, cfg.Cache.Persistence.Enabled)
		require.Equal(t, "/var/lib/reqguard", cfg.Cache.Persistence.Path)
		require.Equal(t, ttlcache.DefaultFlushEvery, cfg.Cache.Persistence.FlushEvery)

		require.Equal(t, ratelimit.PerMinute(20), cfg.RateLimit.Default)
		require.Equal(t, ratelimit.PerMinute(200), cfg.RateLimit.Tiers["premium"])

		require.Equal(t, log.LevelDebug, cfg.Log.Level)
		require.Equal(t, log.FormatText, cfg.Log.Format)

		require.Equal(t, UnitOpts{
			CacheFlushInterval:     30 * time.Second,
			ClientsCleanupInterval: 5 * time.Minute,
			ClientsMaxIdle:         12 * time.Hour,
		}, UnitOptsFromConfig(cfg))
	})

	t.Run("error in a section", func(t *testing.T) {
		cfg := NewConfig()
		err := config.NewDefaultLoader("").LoadFromReader(
			strings.NewReader("rateLimit:\n  default: 0/s\n"), config.DataTypeYAML, cfg)
		require.ErrorContains(t, err, "rateLimit.default: requests count must be positive")
	})

	t.Run("environment variables", func(t *testing.T) {
		t.Setenv("REQGUARD_CACHE_MAXENTRIES", "42")
		cfg := NewConfig()
		require.NoError(t, config.NewDefaultLoader("REQGUARD").LoadDefaults(cfg))
		require.Equal(t, 42, cfg.Cache.MaxEntries)
	})
}
