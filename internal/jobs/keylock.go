package jobs

import "sync"

// keyLocks serializes evaluation per (merchant, interval) key: windows of the
// same key are processed by exactly one worker at a time, in order, while
// different keys run in parallel.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire blocks until the key's lock is held and returns its release func.
func (k *keyLocks) acquire(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
