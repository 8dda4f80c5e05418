package logger

import "sync"

// named holds loggers registered per component, keyed by name.
var named sync.Map

// Register makes l the logger returned by Get(name). Libraries such as the
// pipeline package look their logger up by name, so a service can redirect
// them without threading options through every call.
func Register(name string, l *Logger) {
	if l == nil {
		named.Delete(name)
		return
	}
	named.Store(name, l)
}

// Get returns the logger registered under name, or the global logger tagged
// with component=name.
func Get(name string) *Logger {
	if l, ok := named.Load(name); ok {
		return l.(*Logger)
	}
	return GetGlobalLogger().WithComponent(name)
}
