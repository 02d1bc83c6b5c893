// Package inventory is the read-only boundary to the inventory record store.
// The timer core only ever looks entities up to build display labels; it never
// writes back.
package inventory

import (
	"context"
	"errors"
	"sync"
)

// Entity is a tracked asset as known to the inventory collaborator.
type Entity struct {
	ID   string
	Name string
}

// ErrUnknownEntity is returned when an entity id does not resolve.
var ErrUnknownEntity = errors.New("unknown entity")

// Static serves lookups from a fixed in-memory table. Used for DB-less
// deployments and tests.
type Static struct {
	mu       sync.RWMutex
	entities map[string]Entity
}

// NewStatic creates a static inventory preloaded with the given entities.
func NewStatic(entities ...Entity) *Static {
	s := &Static{entities: make(map[string]Entity, len(entities))}
	for _, e := range entities {
		s.entities[e.ID] = e
	}
	return s
}

// Add registers or replaces an entity.
func (s *Static) Add(e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e
}

// Lookup resolves an entity by id.
func (s *Static) Lookup(_ context.Context, entityID string) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[entityID]
	if !ok {
		return Entity{}, ErrUnknownEntity
	}
	return e, nil
}
