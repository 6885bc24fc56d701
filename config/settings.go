package config

import (
	"strings"
	"sync"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Settings answers key based lookups against the global configuration,
// returning def when the key is unset.
type Settings interface {
	Get(key string, def any) any
	Bool(key string, def bool) bool
	String(key, def string) string
}

// ViperSettings reads settings from a viper instance.
type ViperSettings struct {
	v *viper.Viper
}

// NewViperSettings wraps v. A nil v yields an empty viper instance.
func NewViperSettings(v *viper.Viper) *ViperSettings {
	if v == nil {
		v = viper.New()
	}
	return &ViperSettings{v: v}
}

func (s *ViperSettings) Get(key string, def any) any {
	if !s.v.IsSet(key) {
		return def
	}
	return s.v.Get(key)
}

func (s *ViperSettings) Bool(key string, def bool) bool {
	return toBool(s.Get(key, def), def)
}

func (s *ViperSettings) String(key, def string) string {
	return cast.ToString(s.Get(key, def))
}

// Viper exposes the underlying instance.
func (s *ViperSettings) Viper() *viper.Viper { return s.v }

// MapSettings is an in-memory Settings keyed case-insensitively.
type MapSettings struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMapSettings copies values into a new MapSettings.
func NewMapSettings(values map[string]any) *MapSettings {
	m := &MapSettings{values: make(map[string]any, len(values))}
	for k, v := range values {
		m.values[strings.ToLower(k)] = v
	}
	return m
}

// Set stores a value.
func (m *MapSettings) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[strings.ToLower(key)] = value
}

func (m *MapSettings) Get(key string, def any) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.values[strings.ToLower(key)]; ok {
		return v
	}
	return def
}

func (m *MapSettings) Bool(key string, def bool) bool {
	return toBool(m.Get(key, def), def)
}

func (m *MapSettings) String(key, def string) string {
	return cast.ToString(m.Get(key, def))
}

// toBool accepts booleans and the string forms "true"/"True"/"1" etc.
// Anything unparsable falls back to def.
func toBool(v any, def bool) bool {
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

// Chain answers every key from the first layer that has it set.
type Chain []Settings

type unset struct{}

func (c Chain) Get(key string, def any) any {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v := s.Get(key, unset{}); v != (unset{}) {
			return v
		}
	}
	return def
}

func (c Chain) Bool(key string, def bool) bool {
	return toBool(c.Get(key, def), def)
}

func (c Chain) String(key, def string) string {
	return cast.ToString(c.Get(key, def))
}
