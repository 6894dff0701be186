// Package keymutex provides per-key mutual exclusion. It serializes
// invalidate-then-create and revoke-then-issue sequences that must be atomic
// with respect to concurrent calls for the same key.
package keymutex

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Mutex is a set of named locks. The zero value is not usable; use New.
type Mutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New returns an empty keyed mutex.
func New() *Mutex {
	return &Mutex{locks: make(map[string]*entry)}
}

// Lock acquires the lock for key, blocking until it is free. The returned
// function releases it and must be called exactly once, typically via defer.
func (m *Mutex) Lock(key string) (unlock func()) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}
