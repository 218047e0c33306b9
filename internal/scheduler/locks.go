package scheduler

import (
	"sync"

	"github.com/google/uuid"
)

// keyedMutex serializes operations per reminder id so a tick-driven
// escalation and a concurrent user transition cannot race on the same
// reminder. Entries are reference-counted and removed when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*lockEntry)}
}

// Lock acquires the mutex for id, creating it if needed.
func (k *keyedMutex) Lock(id uuid.UUID) {
	k.mu.Lock()
	entry, ok := k.locks[id]
	if !ok {
		entry = &lockEntry{}
		k.locks[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases the mutex for id, dropping the entry once nobody waits.
func (k *keyedMutex) Unlock(id uuid.UUID) {
	k.mu.Lock()
	entry := k.locks[id]
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, id)
	}
	k.mu.Unlock()

	entry.mu.Unlock()
}
