/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package guard

import (
	"github.com/acronis/go-reqguard/config"
	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/ratelimit"
	"github.com/acronis/go-reqguard/ttlcache"
)

// Config is the configuration of all components under their own keys ("cache", "rateLimit" and "log").
type Config struct {
	Cache     *ttlcache.Config
	RateLimit *ratelimit.Config
	Log       *log.Config
}

var _ config.Config = (*Config)(nil)

// NewConfig creates a new Config.
func NewConfig() *Config {
	return &Config{
		Cache:     ttlcache.NewConfig(),
		RateLimit: ratelimit.NewConfig(),
		Log:       log.NewConfig(),
	}
}

// SetProviderDefaults implements config.Config.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	config.CallSetProviderDefaultsForFields(c, dp)
}

// Set implements config.Config.
func (c *Config) Set(dp config.DataProvider) error {
	return config.CallSetForFields(c, dp)
}
