package registry

import "sync"

// keyLocks stripes per-instance-pubkey mutexes so that operations on
// different instances proceed independently while operations on the same
// instance serialize, per spec.md §5.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock returns the mutex for key, creating it on first use, and locks it.
// The caller must call the returned unlock function exactly once.
func (k *keyLocks) Lock(key []byte) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[string(key)]
	if !ok {
		m = &sync.Mutex{}
		k.locks[string(key)] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
