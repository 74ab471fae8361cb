package lock

import "sync"

// Cond is a wait/notify primitive bound to a Mutex at call time.
//
// Notifications are not counted: Notify with no waiter is lost. Waiters are
// woken in the order they started waiting, and must re-check their predicate
// after Wait returns.
type Cond struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

// Wait releases m, suspends until notified, and reacquires m before returning.
// The caller must hold m.
func (c *Cond) Wait(m *Mutex) {
	woken := make(chan struct{})
	// enqueue before releasing m so a Notify issued by the next holder of m
	// cannot slip in between
	c.mu.Lock()
	c.waiters = append(c.waiters, woken)
	c.mu.Unlock()

	m.Unlock()
	<-woken
	m.Lock()
}

// Notify wakes the longest waiting goroutine, if there is one.
func (c *Cond) Notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) == 0 {
		return
	}
	next := c.waiters[0]
	c.waiters[0] = nil
	c.waiters = c.waiters[1:]
	close(next)
}

func (c *Cond) waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
