package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/kbukum/idresolver/config"
	"github.com/kbukum/idresolver/logger"
)

// Setting keys of the two caches. Each has an ".enabled" and an
// ".expiration" child.
const (
	UserLookupSetting     = "linotp.user_lookup_cache"
	ResolverLookupSetting = "linotp.resolver_lookup_cache"
)

// Settings controls one cache instance.
type Settings struct {
	Enabled    bool
	Expiration time.Duration
}

// Policy returns the settings in force for a resolver spec or realm name.
// It is evaluated on every call so that configuration changes apply
// without a restart.
type Policy func(scope string) Settings

// Static always answers s.
func Static(s Settings) Policy {
	return func(string) Settings { return s }
}

// Disabled turns a cache into a pass-through.
var Disabled = Static(Settings{})

// Override adjusts the global settings for one resolver spec.
type Override struct {
	Enabled    *bool  `yaml:"enabled" mapstructure:"enabled"`
	Expiration string `yaml:"expiration" mapstructure:"expiration"`
}

// Config selects the cache tier and per-resolver overrides. Global enable
// and expiration flags come from the settings keys above.
type Config struct {
	// Store is "memory" or "redis".
	Store     string              `yaml:"store" mapstructure:"store"`
	Resolvers map[string]Override `yaml:"resolvers" mapstructure:"resolvers"`
}

// ApplyDefaults sets the memory tier when none is configured.
func (c *Config) ApplyDefaults() {
	if c.Store == "" {
		c.Store = "memory"
	}
}

// Policy builds the settings policy for key from s and the overrides.
func (c *Config) Policy(s config.Settings, key string, log *logger.Logger) Policy {
	return SettingsPolicy(s, key, c.Resolvers, log)
}

// Validate checks the tier name.
func (c *Config) Validate() error {
	switch c.Store {
	case "memory", "redis":
		return nil
	}
	return fmt.Errorf("unsupported cache store %q", c.Store)
}

// SettingsPolicy reads key.enabled and key.expiration from s. Overrides are
// keyed by resolver spec. An expiration that cannot be parsed disables the
// cache and is logged once per value.
func SettingsPolicy(s config.Settings, key string, overrides map[string]Override, log *logger.Logger) Policy {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("cache")
	var reported sync.Map
	disable := func(field string, raw any, err error) Settings {
		if _, seen := reported.LoadOrStore(field+"="+cast.ToString(raw), struct{}{}); !seen {
			log.Info("Caching disabled due to a value error in "+field,
				logger.MergeWithError(logger.Fields("value", raw), err))
		}
		return Settings{}
	}

	return func(scope string) Settings {
		enabled := s.Bool(key+".enabled", true)
		raw := s.Get(key+".expiration", nil)
		ov, hasOverride := overrides[scope]
		if hasOverride && ov.Enabled != nil {
			enabled = *ov.Enabled
		}
		if !enabled {
			return Settings{}
		}
		field := key + ".expiration"
		if hasOverride && ov.Expiration != "" {
			raw = ov.Expiration
			field = "cache override of " + scope
		}
		exp, err := config.ParseExpiration(raw)
		if err != nil {
			return disable(field, raw, err)
		}
		return Settings{Enabled: true, Expiration: exp}
	}
}
