/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"sort"
	"time"

	"github.com/acronis/go-reqguard/config"
)

const cfgDefaultKeyPrefix = "rateLimit"

const (
	cfgKeyDefault         = "default"
	cfgKeyTiers           = "tiers"
	cfgKeyCleanupInterval = "cleanup.interval"
	cfgKeyCleanupMaxIdle  = "cleanup.maxIdle"
)

// Default values.
const (
	DefaultCleanupInterval = 10 * time.Minute
	DefaultCleanupMaxIdle  = 24 * time.Hour
)

// DefaultRate is applied to requests of tiers without their own rate.
var DefaultRate = PerMinute(100)

// DefaultTiers returns the built-in tier table.
func DefaultTiers() map[string]Rate {
	return map[string]Rate{
		"free":    PerMinute(100),
		"premium": PerMinute(1000),
		"admin":   PerMinute(10000),
	}
}

// Config represents a set of configuration parameters for the rate limiter.
// Tier names are case-insensitive in config files and are stored lowercased.
type Config struct {
	Default Rate            `mapstructure:"default" yaml:"default" json:"default"`
	Tiers   map[string]Rate `mapstructure:"tiers" yaml:"tiers" json:"tiers"`
	Cleanup CleanupConfig   `mapstructure:"cleanup" yaml:"cleanup" json:"cleanup"`

	keyPrefix string
}

// CleanupConfig configures periodic removal of idle clients.
type CleanupConfig struct {
	// Interval between cleanups. 0 disables periodic cleanup.
	Interval time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`

	// MaxIdle is the time without requests after which a client is forgotten.
	MaxIdle time.Duration `mapstructure:"maxIdle" yaml:"maxIdle" json:"maxIdle"`
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new Config which is read from the "rateLimit" key.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewConfigWithKeyPrefix creates a new Config read from the given key.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig returns a Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Default:   DefaultRate,
		Tiers:     DefaultTiers(),
		Cleanup:   CleanupConfig{Interval: DefaultCleanupInterval, MaxIdle: DefaultCleanupMaxIdle},
		keyPrefix: cfgDefaultKeyPrefix,
	}
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// Policy returns the tier policy described by the config.
func (c *Config) Policy() TierPolicy {
	return TierPolicy{Default: c.Default, Tiers: c.Tiers}
}

// SetProviderDefaults implements config.Config.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyDefault, DefaultRate.String())
	tiers := make(map[string]string)
	for tier, rate := range DefaultTiers() {
		tiers[tier] = rate.String()
	}
	dp.SetDefault(cfgKeyTiers, tiers)
	dp.SetDefault(cfgKeyCleanupInterval, DefaultCleanupInterval.String())
	dp.SetDefault(cfgKeyCleanupMaxIdle, DefaultCleanupMaxIdle.String())
}

// Set implements config.Config.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Default, err = getRate(dp, cfgKeyDefault); err != nil {
		return err
	}

	rawTiers, err := dp.GetStringMapString(cfgKeyTiers)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(rawTiers))
	for name := range rawTiers {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic error for the first bad tier
	c.Tiers = make(map[string]Rate, len(rawTiers))
	for _, name := range names {
		rate, rateErr := parseConfigRate(rawTiers[name])
		if rateErr != nil {
			return dp.WrapKeyErr(cfgKeyTiers+"."+name, rateErr)
		}
		c.Tiers[name] = rate
	}

	if c.Cleanup.Interval, err = dp.GetDuration(cfgKeyCleanupInterval); err != nil {
		return err
	}
	if c.Cleanup.Interval < 0 {
		return dp.WrapKeyErr(cfgKeyCleanupInterval, fmt.Errorf("must be >= 0"))
	}
	if c.Cleanup.MaxIdle, err = dp.GetDuration(cfgKeyCleanupMaxIdle); err != nil {
		return err
	}
	if c.Cleanup.MaxIdle <= 0 {
		return dp.WrapKeyErr(cfgKeyCleanupMaxIdle, fmt.Errorf("must be positive"))
	}
	return nil
}

func getRate(dp config.DataProvider, key string) (Rate, error) {
	str, err := dp.GetString(key)
	if err != nil {
		return Rate{}, err
	}
	rate, err := parseConfigRate(str)
	if err != nil {
		return Rate{}, dp.WrapKeyErr(key, err)
	}
	return rate, nil
}

func parseConfigRate(s string) (Rate, error) {
	rate, err := ParseRate(s)
	if err != nil {
		return Rate{}, err
	}
	if err = rate.Validate(); err != nil {
		return Rate{}, err
	}
	return rate, nil
}
