package lock

import "sync"

// Mutex is a single-holder lock whose waiters are served in arrival order.
//
// Unlike sync.Mutex, ownership is handed directly to the longest waiter on
// Unlock, so a goroutine arriving later can never overtake one that is already
// queued. The zero value is an unlocked mutex. Mutex is not reentrant.
type Mutex struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// Lock blocks until the mutex is free and marks it held by the caller.
func (m *Mutex) Lock() {
	m.mu.Lock()
	if !m.held {
		m.held = true
		m.mu.Unlock()
		return
	}
	ready := make(chan struct{})
	m.waiters = append(m.waiters, ready)
	m.mu.Unlock()
	// ownership is transferred by Unlock before ready is closed
	<-ready
}

// Unlock releases the mutex, waking exactly one queued waiter if any.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held {
		panic("lock: unlock of unlocked mutex")
	}
	if len(m.waiters) == 0 {
		m.held = false
		return
	}
	next := m.waiters[0]
	m.waiters[0] = nil
	m.waiters = m.waiters[1:]
	close(next)
}

// queued reports how many goroutines are blocked in Lock.
func (m *Mutex) queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
