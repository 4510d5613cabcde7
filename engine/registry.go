package engine

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// instances routes host-stack callback trampolines that only carry an
// instance id to the right engine, instead of a static "active instance"
// pointer. Entries are added in Begin and removed in End, so the
// registry's lifecycle is tied to the engine's, not the process's.
var instances = cache.New(cache.NoExpiration, 10*time.Minute)

func register(id string, e *Engine) {
	instances.Set(id, e, cache.NoExpiration)
}

func unregister(id string) {
	instances.Delete(id)
}

// Lookup resolves an instance id (the id passed to Begin, for example one
// minted by serial.NewInstanceID) to its Engine. It is exported for host-stack adapters
// whose C-callback-shaped trampolines only carry an id, not a Go reference.
func Lookup(id string) (*Engine, bool) {
	v, found := instances.Get(id)
	if !found {
		return nil, false
	}
	e, ok := v.(*Engine)
	return e, ok
}
