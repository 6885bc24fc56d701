// Package config provides configuration loading and validation for idresolver.
//
// It uses Viper to load a config.yml, an optional .env file and environment
// variables. Environment variables override file values; CACHE_USER_LOOKUP_TTL
// binds to cache.user_lookup.ttl among its other nesting variants.
//
// # Usage
//
//	var cfg service.Config
//	settings, err := config.Load("idresolve", &cfg, config.WithConfigFile(path))
//
// Settings exposes key based lookups (settings.Bool("splitAtSign", true)) and
// ParseExpiration turns cache expiration values into durations.
package config
