/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"fmt"
	"time"

	"github.com/acronis/go-reqguard/config"
)

const cfgDefaultKeyPrefix = "cache"

const (
	cfgKeyTTL                        = "ttl"
	cfgKeyMaxEntries                 = "maxEntries"
	cfgKeyPersistenceEnabled         = "persistence.enabled"
	cfgKeyPersistencePath            = "persistence.path"
	cfgKeyPersistenceFlushEvery      = "persistence.flushEvery"
	cfgKeyPersistenceFlushInterval   = "persistence.flushInterval"
	cfgKeyPersistenceMaxSnapshotSize = "persistence.maxSnapshotSize"
	cfgKeyPersistenceSaveTimeout     = "persistence.saveTimeout"
)

// Default values.
const (
	DefaultTTL             = time.Hour
	DefaultMaxEntries      = 100
	DefaultPersistencePath = "./cache"
	DefaultFlushEvery      = 10
	DefaultMaxSnapshotSize = 64 * 1024 * 1024
	DefaultSaveTimeout     = 5 * time.Second
)

// Config represents a set of configuration parameters for the cache.
type Config struct {
	TTL         time.Duration     `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
	MaxEntries  int               `mapstructure:"maxEntries" yaml:"maxEntries" json:"maxEntries"`
	Persistence PersistenceConfig `mapstructure:"persistence" yaml:"persistence" json:"persistence"`

	keyPrefix string
}

// PersistenceConfig configures snapshots of the cache state.
type PersistenceConfig struct {
	// Enabled turns on the file snapshot store in Path unless another store is passed with WithSnapshotStore.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Path is the directory for snapshot files.
	Path string `mapstructure:"path" yaml:"path" json:"path"`

	// FlushEvery saves a snapshot after every N-th Set. 1 saves on every Set, 0 disables write-count flushing.
	FlushEvery int `mapstructure:"flushEvery" yaml:"flushEvery" json:"flushEvery"`

	// FlushInterval makes the background flusher save changed state periodically. 0 disables it.
	FlushInterval time.Duration `mapstructure:"flushInterval" yaml:"flushInterval" json:"flushInterval"`

	// MaxSnapshotSize limits the size of snapshot files accepted on load.
	MaxSnapshotSize config.ByteSize `mapstructure:"maxSnapshotSize" yaml:"maxSnapshotSize" json:"maxSnapshotSize"`

	// SaveTimeout bounds a single snapshot save including the wait for a save already in progress.
	// 0 means DefaultSaveTimeout.
	SaveTimeout time.Duration `mapstructure:"saveTimeout" yaml:"saveTimeout" json:"saveTimeout"`
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new Config which is read from the "cache" key.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewConfigWithKeyPrefix creates a new Config read from the given key.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig returns a Config with default values and persistence disabled.
func NewDefaultConfig() *Config {
	return &Config{
		TTL:        DefaultTTL,
		MaxEntries: DefaultMaxEntries,
		Persistence: PersistenceConfig{
			Path:            DefaultPersistencePath,
			FlushEvery:      DefaultFlushEvery,
			MaxSnapshotSize: DefaultMaxSnapshotSize,
			SaveTimeout:     DefaultSaveTimeout,
		},
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

// SetProviderDefaults implements config.Config.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyTTL, DefaultTTL.String())
	dp.SetDefault(cfgKeyMaxEntries, DefaultMaxEntries)
	dp.SetDefault(cfgKeyPersistencePath, DefaultPersistencePath)
	dp.SetDefault(cfgKeyPersistenceFlushEvery, DefaultFlushEvery)
	dp.SetDefault(cfgKeyPersistenceMaxSnapshotSize, config.ByteSize(DefaultMaxSnapshotSize).String())
	dp.SetDefault(cfgKeyPersistenceSaveTimeout, DefaultSaveTimeout.String())
}

// Set implements config.Config.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.TTL, err = dp.GetDuration(cfgKeyTTL); err != nil {
		return err
	}
	if c.TTL <= 0 {
		return dp.WrapKeyErr(cfgKeyTTL, fmt.Errorf("must be positive"))
	}

	if c.MaxEntries, err = dp.GetInt(cfgKeyMaxEntries); err != nil {
		return err
	}
	if c.MaxEntries <= 0 {
		return dp.WrapKeyErr(cfgKeyMaxEntries, fmt.Errorf("must be positive"))
	}

	return c.setPersistence(dp)
}

func (c *Config) setPersistence(dp config.DataProvider) error {
	var err error
	p := &c.Persistence

	if p.Enabled, err = dp.GetBool(cfgKeyPersistenceEnabled); err != nil {
		return err
	}
	if p.Path, err = dp.GetString(cfgKeyPersistencePath); err != nil {
		return err
	}
	if p.Enabled && p.Path == "" {
		return dp.WrapKeyErr(cfgKeyPersistencePath, fmt.Errorf("cannot be empty when persistence is enabled"))
	}

	if p.FlushEvery, err = dp.GetInt(cfgKeyPersistenceFlushEvery); err != nil {
		return err
	}
	if p.FlushEvery < 0 {
		return dp.WrapKeyErr(cfgKeyPersistenceFlushEvery, fmt.Errorf("must be >= 0"))
	}

	if p.FlushInterval, err = dp.GetDuration(cfgKeyPersistenceFlushInterval); err != nil {
		return err
	}
	if p.FlushInterval < 0 {
		return dp.WrapKeyErr(cfgKeyPersistenceFlushInterval, fmt.Errorf("must be >= 0"))
	}

	if p.MaxSnapshotSize, err = dp.GetByteSize(cfgKeyPersistenceMaxSnapshotSize); err != nil {
		return err
	}

	if p.SaveTimeout, err = dp.GetDuration(cfgKeyPersistenceSaveTimeout); err != nil {
		return err
	}
	if p.SaveTimeout <= 0 {
		return dp.WrapKeyErr(cfgKeyPersistenceSaveTimeout, fmt.Errorf("must be positive"))
	}
	return nil
}

func (c *Config) validate() error {
	if c.MaxEntries <= 0 {
		return fmt.Errorf("maxEntries must be greater than 0")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be greater than 0")
	}
	if c.Persistence.FlushEvery < 0 {
		return fmt.Errorf("persistence.flushEvery must be greater or equal to 0")
	}
	if c.Persistence.FlushInterval < 0 {
		return fmt.Errorf("persistence.flushInterval must be greater or equal to 0")
	}
	if c.Persistence.Enabled && c.Persistence.Path == "" {
		return fmt.Errorf("persistence.path cannot be empty when persistence is enabled")
	}
	if c.Persistence.SaveTimeout < 0 {
		return fmt.Errorf("persistence.saveTimeout must be greater or equal to 0")
	}
	return nil
}
