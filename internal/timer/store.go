package timer

import (
	"sync"

	"github.com/google/uuid"
)

// Store is the authoritative timer table plus the normalized-label index.
// It is owned exclusively by the Engine; all external access goes through the
// Engine's serialized operations. The index tracks non-completed timers only,
// which is what the at-most-one-per-key invariant covers.
type Store struct {
	mu     sync.RWMutex
	timers map[uuid.UUID]*Timer
	byKey  map[Key]uuid.UUID
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		timers: make(map[uuid.UUID]*Timer),
		byKey:  make(map[Key]uuid.UUID),
	}
}

// Insert adds t and, while t is not completed, its index entry.
func (s *Store) Insert(t *Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := t.clone()
	s.timers[c.ID] = c
	if !c.Completed {
		s.byKey[c.Key()] = c.ID
	}
}

// Get returns a copy of the timer with the given id.
func (s *Store) Get(id uuid.UUID) (*Timer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.timers[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// GetByKey returns a copy of the non-completed timer for key, if any.
func (s *Store) GetByKey(key Key) (*Timer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	t, ok := s.timers[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// Update replaces the stored timer with t, keeping the index transactional
// with the table: a timer that completed drops out of the key index so a
// fresh timer for the same key may exist.
func (s *Store) Update(t *Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.timers[t.ID]; !ok {
		return
	}
	c := t.clone()
	s.timers[c.ID] = c
	if c.Completed {
		if id, ok := s.byKey[c.Key()]; ok && id == c.ID {
			delete(s.byKey, c.Key())
		}
	}
}

// Delete removes the timer and its index entry. It reports the removed timer
// so the caller can emit lifecycle events; deleting an absent id is not an
// error.
func (s *Store) Delete(id uuid.UUID) (*Timer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if !ok {
		return nil, false
	}
	delete(s.timers, id)
	if indexed, ok := s.byKey[t.Key()]; ok && indexed == id {
		delete(s.byKey, t.Key())
	}
	return t, true
}

// ListActive returns copies of all active non-completed timers, for the tick scan.
func (s *Store) ListActive() []*Timer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Timer, 0, len(s.timers))
	for _, t := range s.timers {
		if t.Active && !t.Completed {
			out = append(out, t.clone())
		}
	}
	return out
}

// List returns copies of every timer.
func (s *Store) List() []*Timer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Timer, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t.clone())
	}
	return out
}

// HasCompleted reports whether a completed timer exists for the label key.
func (s *Store) HasCompleted(key Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.timers {
		if t.Completed && t.Key() == key {
			return true
		}
	}
	return false
}

// HasCompletedForEntity reports whether a completed timer exists for the
// entity key.
func (s *Store) HasCompletedForEntity(key Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.timers {
		if t.Completed && t.EntityKey() == key {
			return true
		}
	}
	return false
}

// Len returns the number of stored timers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.timers)
}
