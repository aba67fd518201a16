package registry

import "sync"

// keyedMutex serializes operations per pass ID. Scans and extensions on the
// same pass take the same lock, so two concurrent exits cannot both read
// "active" and both transition; operations on different passes proceed fully
// in parallel.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

// Lock acquires the per-key lock and returns its unlock function. Entries are
// reference-counted and removed when the last holder releases, so the map
// does not grow with the total number of passes ever scanned.
func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
