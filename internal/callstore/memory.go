package callstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultIdleTimeout is used when a store is created with a zero timeout.
const DefaultIdleTimeout = 60 * time.Second

// MemOption configures a [MemStore].
type MemOption func(*MemStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemOption {
	return func(m *MemStore) {
		if now != nil {
			m.now = now
		}
	}
}

// entry guards a single call's state. The map lock is only held to find or
// insert entries, never while a caller's update function runs.
type entry struct {
	mu      sync.Mutex
	state   *State
	deleted bool
}

// MemStore is an in-process [Store]. State does not survive a restart.
type MemStore struct {
	idle time.Duration
	now  func() time.Time

	mu    sync.RWMutex
	calls map[string]*entry

	// lapsed counts calls found expired on lookup; the next Sweep reports
	// them.
	lapsed atomic.Int64
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty [MemStore] that reclaims calls idle for longer
// than idle.
func NewMemStore(idle time.Duration, opts ...MemOption) *MemStore {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	m := &MemStore{
		idle:  idle,
		now:   time.Now,
		calls: make(map[string]*entry),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *MemStore) expired(st *State, now time.Time) bool {
	return now.Sub(st.UpdatedAt) > m.idle
}

// lookup returns the live entry for callID, locked. Expired entries are
// removed, reported as absent and counted towards the next [MemStore.Sweep].
func (m *MemStore) lookup(callID string) (*entry, bool) {
	m.mu.RLock()
	e, ok := m.calls[callID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return nil, false
	}
	if m.expired(e.state, m.now()) {
		e.deleted = true
		e.mu.Unlock()
		m.remove(callID, e)
		m.lapsed.Add(1)
		return nil, false
	}
	return e, true
}

// remove deletes callID from the map if it still points at e.
func (m *MemStore) remove(callID string, e *entry) {
	m.mu.Lock()
	if m.calls[callID] == e {
		delete(m.calls, callID)
	}
	m.mu.Unlock()
}

// GetOrCreate implements [Store].
func (m *MemStore) GetOrCreate(_ context.Context, callID string, init func(*State)) (*State, bool, error) {
	for {
		if e, ok := m.lookup(callID); ok {
			st := e.state.Clone()
			e.mu.Unlock()
			return st, false, nil
		}

		now := m.now()
		st := &State{
			CallID:    callID,
			Step:      -1,
			Collected: map[string]string{},
			Status:    StatusNotStarted,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if init != nil {
			init(st)
		}
		fresh := &entry{state: st}

		m.mu.Lock()
		if _, raced := m.calls[callID]; raced {
			// Another turn created the call between lookup and insert.
			m.mu.Unlock()
			continue
		}
		m.calls[callID] = fresh
		m.mu.Unlock()
		return st.Clone(), true, nil
	}
}

// Get implements [Store].
func (m *MemStore) Get(_ context.Context, callID string) (*State, error) {
	e, ok := m.lookup(callID)
	if !ok {
		return nil, ErrNotFound
	}
	defer e.mu.Unlock()
	return e.state.Clone(), nil
}

// Update implements [Store].
func (m *MemStore) Update(_ context.Context, callID string, fn func(*State) error) (*State, error) {
	e, ok := m.lookup(callID)
	if !ok {
		return nil, ErrNotFound
	}
	defer e.mu.Unlock()

	work := e.state.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	work.UpdatedAt = m.now()
	e.state = work
	return work.Clone(), nil
}

// Delete implements [Store].
func (m *MemStore) Delete(_ context.Context, callID string) (bool, error) {
	m.mu.Lock()
	e, ok := m.calls[callID]
	delete(m.calls, callID)
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	e.mu.Lock()
	removed := !e.deleted
	e.deleted = true
	e.mu.Unlock()
	return removed, nil
}

// Sweep implements [Store].
func (m *MemStore) Sweep(_ context.Context) (int, error) {
	now := m.now()

	m.mu.RLock()
	candidates := make(map[string]*entry, len(m.calls))
	for id, e := range m.calls {
		candidates[id] = e
	}
	m.mu.RUnlock()

	n := 0
	for id, e := range candidates {
		e.mu.Lock()
		stale := !e.deleted && m.expired(e.state, now)
		if stale {
			e.deleted = true
		}
		e.mu.Unlock()
		if stale {
			m.remove(id, e)
			n++
		}
	}
	return n + int(m.lapsed.Swap(0)), nil
}

// Len implements [Store]. Idle calls not yet swept are counted.
func (m *MemStore) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls), nil
}
