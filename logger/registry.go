package logger

import "sync"

// named holds per-component loggers, keyed by component name.
var named sync.Map

// Register stores l under name, replacing any earlier logger.
func Register(name string, l *Logger) {
	named.Store(name, l)
}

// Get returns the logger registered under name. Unregistered names get the
// global logger tagged with name, so callers never need a nil check.
func Get(name string) *Logger {
	if l, ok := named.Load(name); ok {
		return l.(*Logger)
	}
	return GetGlobalLogger().WithComponent(name)
}

// RegisterDefaults tags the global logger once per component name. Call it
// after Init so the registered loggers pick up the configured level.
func RegisterDefaults(names ...string) {
	base := GetGlobalLogger()
	for _, name := range names {
		Register(name, base.WithComponent(name))
	}
}

// Reset drops every registered logger.
func Reset() {
	named.Range(func(k, _ any) bool {
		named.Delete(k)
		return true
	})
}
