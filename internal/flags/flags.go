// Package flags holds the feature toggles read from the `flags:` config
// section. Unknown flags are off.
package flags

import (
	"maps"

	"github.com/zjrosen/mandelgather/internal/log"
)

const (
	// FlagRunLedger controls whether render records each run in the SQLite ledger.
	// When disabled, renders leave no trace and `runs` lists nothing new.
	FlagRunLedger = "run-ledger"

	// FlagServeCache controls whether serve caches rendered images by params digest.
	// When disabled, every request recomputes the grid.
	FlagServeCache = "serve-cache"
)

// Defaults returns the built-in flag values. Configured values override them.
func Defaults() map[string]bool {
	return map[string]bool{
		FlagRunLedger:  true,
		FlagServeCache: true,
	}
}

// Registry holds feature flag state loaded from configuration.
// Flags are read-only after initialization.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from a config map layered over Defaults.
// If flags is nil, only the defaults apply.
func New(flags map[string]bool) *Registry {
	merged := Defaults()
	maps.Copy(merged, flags)
	r := &Registry{flags: merged}
	log.Debug(log.CatConfig, "Feature flags initialized", "count", len(merged), "flags", r.All())
	return r
}

// Enabled reports whether name is on. Unknown names and a nil registry
// report false.
func (r *Registry) Enabled(name string) bool {
	if r == nil || r.flags == nil {
		return false
	}
	value, exists := r.flags[name]
	if !exists {
		log.Debug(log.CatConfig, "Unknown flag accessed", "flag", name, "result", false)
		return false
	}
	return value
}

// All returns a copy of every flag.
func (r *Registry) All() map[string]bool {
	if r == nil || r.flags == nil {
		return make(map[string]bool)
	}
	result := make(map[string]bool, len(r.flags))
	maps.Copy(result, r.flags)
	return result
}
