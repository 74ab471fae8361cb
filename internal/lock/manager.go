// Package lock serializes work on string keys with shared/exclusive locks.
//
// Each key owns an independent lock state built from a FIFO Mutex and a Cond.
// Lock states are created on first use and live for the lifetime of the
// Manager; the key space is expected to be bounded (one key per document).
// Waits have no timeout and cannot be cancelled.
package lock

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrInvalidArgument reports a malformed call; no lock state is touched.
var ErrInvalidArgument = errors.New("lock: invalid argument")

// Unlimited admits any number of concurrent shared holders.
const Unlimited = math.MaxInt

const (
	modeShared    = "shared"
	modeExclusive = "exclusive"
)

type state struct {
	mu        Mutex
	cond      Cond
	shared    int
	exclusive bool
}

// Manager maps keys to independent shared/exclusive lock states.
type Manager struct {
	mu      sync.Mutex
	locks   map[string]*state
	metrics *metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegisterer records lock wait durations and held counts on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		if reg != nil {
			m.metrics = newMetrics(reg)
		}
	}
}

// New returns an empty Manager.
func New(opts ...Option) *Manager {
	m := &Manager{locks: make(map[string]*state)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LockShared acquires a shared lock on key.
func (m *Manager) LockShared(key string) error {
	return m.LockSharedLimit(key, Unlimited)
}

// LockSharedLimit acquires a shared lock on key, waiting while the key is held
// exclusively or while more than limit shared holders are present.
func (m *Manager) LockSharedLimit(key string, limit int) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if limit < 0 {
		return fmt.Errorf("%w: shared limit %d is negative", ErrInvalidArgument, limit)
	}
	start := time.Now()
	st := m.acquireState(key)
	st.mu.Lock()
	st.await(func() bool { return st.exclusive || st.shared > limit })
	st.shared++
	st.mu.Unlock()
	m.metrics.acquired(modeShared, time.Since(start))
	return nil
}

// UnlockShared releases one shared lock on key and wakes one waiter.
func (m *Manager) UnlockShared(key string) error {
	st, err := m.existingState(key)
	if err != nil {
		return err
	}
	st.mu.Lock()
	if st.shared == 0 {
		st.mu.Unlock()
		return fmt.Errorf("%w: no shared lock held on %q", ErrInvalidArgument, key)
	}
	st.shared--
	st.cond.Notify()
	st.mu.Unlock()
	m.metrics.released(modeShared)
	return nil
}

// LockExclusive acquires the exclusive lock on key, waiting until no shared or
// exclusive holder remains.
func (m *Manager) LockExclusive(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	start := time.Now()
	st := m.acquireState(key)
	st.mu.Lock()
	st.await(func() bool { return st.exclusive || st.shared > 0 })
	st.exclusive = true
	st.mu.Unlock()
	m.metrics.acquired(modeExclusive, time.Since(start))
	return nil
}

// UnlockExclusive releases the exclusive lock on key and wakes one waiter.
func (m *Manager) UnlockExclusive(key string) error {
	st, err := m.existingState(key)
	if err != nil {
		return err
	}
	st.mu.Lock()
	if !st.exclusive {
		st.mu.Unlock()
		return fmt.Errorf("%w: no exclusive lock held on %q", ErrInvalidArgument, key)
	}
	st.exclusive = false
	st.cond.Notify()
	st.mu.Unlock()
	m.metrics.released(modeExclusive)
	return nil
}

// WaitShared runs fn while holding a shared lock on key. The lock is released
// before WaitShared returns, whether fn fails, succeeds, or panics.
func (m *Manager) WaitShared(key string, fn func() error) error {
	return m.WaitSharedLimit(key, Unlimited, fn)
}

// WaitSharedLimit is WaitShared with bounded reader admission.
func (m *Manager) WaitSharedLimit(key string, limit int, fn func() error) error {
	if err := validateCall(key, fn); err != nil {
		return err
	}
	if err := m.LockSharedLimit(key, limit); err != nil {
		return err
	}
	defer func() { _ = m.UnlockShared(key) }()
	return fn()
}

// WaitExclusive runs fn while holding the exclusive lock on key. The lock is
// released before WaitExclusive returns, whether fn fails, succeeds, or panics.
func (m *Manager) WaitExclusive(key string, fn func() error) error {
	if err := validateCall(key, fn); err != nil {
		return err
	}
	if err := m.LockExclusive(key); err != nil {
		return err
	}
	defer func() { _ = m.UnlockExclusive(key) }()
	return fn()
}

// await blocks until blocked reports false. The caller holds s.mu. A caller
// that finds others already queued joins the back of the queue even if the
// key is currently available, so arrivals are served in order.
func (s *state) await(blocked func() bool) {
	if s.cond.waiting() == 0 && !blocked() {
		return
	}
	for {
		s.cond.Wait(&s.mu)
		if !blocked() {
			return
		}
	}
}

func (m *Manager) acquireState(key string) *state {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.locks[key]
	if !ok {
		st = &state{}
		m.locks[key] = st
	}
	return st
}

func (m *Manager) existingState(key string) (*state, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	m.mu.Lock()
	st, ok := m.locks[key]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: key %q was never locked", ErrInvalidArgument, key)
	}
	return st, nil
}

// snapshot reports the holders of key and how many goroutines are parked
// waiting for it.
func (m *Manager) snapshot(key string) (shared int, exclusive bool, waiting int) {
	m.mu.Lock()
	st, ok := m.locks[key]
	m.mu.Unlock()
	if !ok {
		return 0, false, 0
	}
	waiting = st.cond.waiting()
	st.mu.Lock()
	shared, exclusive = st.shared, st.exclusive
	st.mu.Unlock()
	return shared, exclusive, waiting
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: key must be a non-empty string", ErrInvalidArgument)
	}
	return nil
}

func validateCall(key string, fn func() error) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: fn must not be nil", ErrInvalidArgument)
	}
	return nil
}
