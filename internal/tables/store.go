package tables

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrNilSnapshot is returned when swapping in a nil snapshot.
var ErrNilSnapshot = errors.New("nil snapshot")

// Store publishes the active snapshot. Readers call Current once per
// analysis and use that snapshot throughout; a swap never affects an
// analysis already holding the previous one.
type Store struct {
	active atomic.Pointer[Snapshot]

	mu        sync.Mutex
	listeners []func(prev, next *Snapshot)
}

// NewStore returns a store holding initial, or the bundled tables when
// initial is nil.
func NewStore(initial *Snapshot) *Store {
	if initial == nil {
		initial = Default()
	}
	s := &Store{}
	s.active.Store(initial)
	return s
}

// Current returns the active snapshot. It never returns nil.
func (s *Store) Current() *Snapshot {
	return s.active.Load()
}

// Swap replaces the active snapshot and returns the previous one.
func (s *Store) Swap(next *Snapshot) (*Snapshot, error) {
	if next == nil {
		return nil, ErrNilSnapshot
	}
	s.mu.Lock()
	prev := s.active.Swap(next)
	listeners := s.listeners
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(prev, next)
	}
	return prev, nil
}

// CompareAndSwap activates next only if old is still the active snapshot.
// It reports false, leaving the store untouched, when another writer
// swapped in between.
func (s *Store) CompareAndSwap(old, next *Snapshot) (bool, error) {
	if next == nil {
		return false, ErrNilSnapshot
	}
	s.mu.Lock()
	if !s.active.CompareAndSwap(old, next) {
		s.mu.Unlock()
		return false, nil
	}
	listeners := s.listeners
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(old, next)
	}
	return true, nil
}

// Apply parses, validates and compiles raw, then swaps it in. On any error
// the active snapshot is left untouched.
func (s *Store) Apply(raw []byte, source string) (*Snapshot, error) {
	next, err := Load(raw, source)
	if err != nil {
		return nil, err
	}
	if _, err := s.Swap(next); err != nil {
		return nil, err
	}
	return next, nil
}

// OnSwap registers fn to run after every successful swap.
func (s *Store) OnSwap(fn func(prev, next *Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
