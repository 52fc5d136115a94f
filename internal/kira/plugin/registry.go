package plugin

import (
	"sync"

	"github.com/kirahq/kira/pkg/sdk"
)

// Go has no safe dynamic code loading, so plugin entries are compiled in
// and registered explicitly: a bundled plugin's init (or the binary's
// wiring code) calls RegisterEntry with the module:function key its
// manifest declares. The host resolves the manifest entry against this
// registry after the static scan has passed.

var (
	entriesMu sync.RWMutex
	entries   = make(map[string]sdk.EntryFunc)
)

// RegisterEntry binds an entry function to its manifest entry key
// ("module:function"). Registering the same key twice panics; that is a
// wiring bug, not a runtime condition.
func RegisterEntry(key string, fn sdk.EntryFunc) {
	entriesMu.Lock()
	defer entriesMu.Unlock()
	if _, dup := entries[key]; dup {
		panic("plugin: duplicate entry registration: " + key)
	}
	entries[key] = fn
}

// lookupEntry resolves a manifest entry key.
func lookupEntry(key string) (sdk.EntryFunc, bool) {
	entriesMu.RLock()
	defer entriesMu.RUnlock()
	fn, ok := entries[key]
	return fn, ok
}
