package fixture

import (
	"path/filepath"
	"sync"
)

// sharedEntry holds the outcome of loading one path.
type sharedEntry struct {
	once sync.Once
	set  *Set
	err  error
}

// sharedKey identifies one cached load. Different options load separately.
type sharedKey struct {
	path string
	opts Options
}

var (
	sharedMu  sync.Mutex
	sharedSet = make(map[sharedKey]*sharedEntry)
)

// Shared returns the process-wide Set for path and opts, loading it on first
// use.
//
// Every later call with the same path and options returns the same *Set (or
// the same error) without touching the file again. Concurrent first calls
// block until the single load finishes.
func Shared(path string, opts Options) (*Set, error) {
	key := sharedKey{path: path, opts: opts}
	if abs, err := filepath.Abs(path); err == nil {
		key.path = abs
	}

	sharedMu.Lock()
	entry, ok := sharedSet[key]
	if !ok {
		entry = &sharedEntry{}
		sharedSet[key] = entry
	}
	sharedMu.Unlock()

	entry.once.Do(func() {
		entry.set, entry.err = Load(path, opts)
	})
	return entry.set, entry.err
}

// ResetShared forgets every cached fixture. Only tests need this.
func ResetShared() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	sharedSet = make(map[sharedKey]*sharedEntry)
}
