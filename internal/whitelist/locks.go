package whitelist

import (
	"sync"

	"github.com/nerrad567/deviceguard/internal/identity"
)

// keyedMutex hands out one mutex per canonical id and drops it once no
// goroutine holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[identity.CanonicalID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[identity.CanonicalID]*refMutex)}
}

// Lock acquires the mutex for id and returns its unlock function.
func (k *keyedMutex) Lock(id identity.CanonicalID) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// size returns the number of live per-id mutexes.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
