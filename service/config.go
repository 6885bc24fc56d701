package service

import (
	"fmt"

	"github.com/kbukum/idresolver/cache"
	"github.com/kbukum/idresolver/config"
	"github.com/kbukum/idresolver/database"
	"github.com/kbukum/idresolver/observability"
	"github.com/kbukum/idresolver/realm"
	"github.com/kbukum/idresolver/redis"
	"github.com/kbukum/idresolver/resolver"
	"github.com/kbukum/idresolver/validation"
)

// Config store kinds.
const (
	StoreStatic = "static"
	StoreSQL    = "sql"
)

// LoginConfig controls how login parameters are interpreted.
type LoginConfig struct {
	// SplitAtSign splits "user@realm" logins. Unset means enabled.
	SplitAtSign *bool `yaml:"split_at_sign" mapstructure:"split_at_sign"`
	// DefaultRealm overrides the realm flagged as default.
	DefaultRealm string `yaml:"default_realm" mapstructure:"default_realm"`
}

// Config is the configuration of the resolver service.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Cache       cache.Config                `yaml:"cache" mapstructure:"cache"`
	Login       LoginConfig                 `yaml:"login" mapstructure:"login"`
	Realms      map[string]realm.Definition `yaml:"realms" mapstructure:"realms"`
	Resolvers   []resolver.Definition       `yaml:"resolvers" mapstructure:"resolvers"`
	ConfigStore string                      `yaml:"config_store" mapstructure:"config_store"`
	Database    database.Config             `yaml:"database" mapstructure:"database"`
	Redis       redis.Config                `yaml:"redis" mapstructure:"redis"`
	Gateway     resolver.Config             `yaml:"gateway" mapstructure:"gateway"`
	Telemetry   observability.Config        `yaml:"telemetry" mapstructure:"telemetry"`

	// LookupConcurrency is how many resolvers of a realm are asked at once.
	LookupConcurrency int `yaml:"lookup_concurrency" mapstructure:"lookup_concurrency"`
}

// ApplyDefaults fills every section.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Cache.ApplyDefaults()
	if c.ConfigStore == "" {
		c.ConfigStore = StoreStatic
	}
	c.Database.ApplyDefaults()
	c.Redis.ApplyDefaults()
	c.Gateway.ApplyDefaults()
	c.Telemetry.ApplyDefaults()
	if c.LookupConcurrency <= 0 {
		c.LookupConcurrency = 1
	}
}

// Validate checks every section and their dependencies on each other.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	v := validation.New().
		OneOf("config_store", c.ConfigStore, []string{StoreStatic, StoreSQL}).
		Custom(c.ConfigStore != StoreSQL || c.Database.Enabled, "config_store", "sql requires database.enabled").
		Custom(c.Cache.Store != "redis" || c.Redis.Enabled, "cache.store", "redis requires redis.enabled").
		Min("lookup_concurrency", c.LookupConcurrency, 1)
	if err := v.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := c.Gateway.Validate(); err != nil {
		return err
	}
	for name, def := range c.Realms {
		if err := realm.ValidateName(realm.NormalizeName(name)); err != nil {
			return err
		}
		if err := validation.Validate(def); err != nil {
			return fmt.Errorf("realm %s: %w", name, err)
		}
	}
	for i, def := range c.Resolvers {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("resolvers[%d]: %w", i, err)
		}
	}
	return nil
}

// loginSettings exposes the login section under the setting keys the
// engine reads.
func (c *Config) loginSettings() config.Settings {
	values := map[string]any{}
	if c.Login.SplitAtSign != nil {
		values["splitAtSign"] = *c.Login.SplitAtSign
	}
	return config.NewMapSettings(values)
}
