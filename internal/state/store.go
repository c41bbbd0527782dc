package state

import (
	"sync"
	"sync/atomic"
)

// Store publishes the current SystemState behind an atomic pointer. Writers
// serialize on a mutex, clone the current document, apply their delta, and
// swap the pointer; the UI polls at 1 Hz and carries no writes, so readers
// never block.
type Store struct {
	mu    sync.Mutex
	cur   atomic.Pointer[SystemState]
	dirty chan struct{}
}

// NewStore wraps an initial document. The document is owned by the store
// from here on; callers must not mutate it.
func NewStore(initial *SystemState) *Store {
	s := &Store{dirty: make(chan struct{}, 1)}
	s.cur.Store(initial)
	return s
}

// Apply runs delta against a private copy of the current state and publishes
// the result. Cross-family updates (e.g. a fill touching positions and P&L)
// go through a single delta so readers never see them half-applied. Returns
// the new version.
func (s *Store) Apply(delta func(*SystemState)) uint64 {
	s.mu.Lock()
	next := s.cur.Load().clone()
	delta(next)
	next.Version++
	s.cur.Store(next)
	s.mu.Unlock()

	select {
	case s.dirty <- struct{}{}:
	default:
	}
	return next.Version
}

// Snapshot returns the current immutable document. Callers must treat it as
// read-only; the next Apply replaces it wholesale.
func (s *Store) Snapshot() *SystemState {
	return s.cur.Load()
}

// Dirty exposes the change signal consumed by the persistence debouncer.
func (s *Store) Dirty() <-chan struct{} {
	return s.dirty
}

// Beat records a component heartbeat. ts is the display timestamp (Clock
// time, so replay artifacts stay deterministic).
func (s *Store) Beat(component, status, ts string) {
	s.Apply(func(st *SystemState) {
		st.Agents[component] = AgentHB{Status: status, LastHeartbeatTS: ts}
	})
}
