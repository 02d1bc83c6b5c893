package reconcile

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/coldops/coldchain/internal/timer"
)

// RecentCompletions bridges the gap between a server-side completion and the
// operator cleanup that deletes the timer: for a few seconds after a timer is
// observed completing, its entity key still reads as completed. Entries are
// keyed by Timer.EntityKey. It is a bounded-TTL cache, never a source of
// truth, and a fresh non-completed timer for the same key invalidates its
// entry immediately.
type RecentCompletions struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu      sync.Mutex
	entries map[timer.Key]Entry
}

// Entry is one recent completion marker.
type Entry struct {
	Minutes   int
	ExpiresAt time.Time
}

// DefaultTTL is how long a completion marker outlives the timer.
const DefaultTTL = 5 * time.Second

// NewRecentCompletions creates the cache. ttl <= 0 selects DefaultTTL.
func NewRecentCompletions(clock clockwork.Clock, ttl time.Duration) *RecentCompletions {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RecentCompletions{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[timer.Key]Entry),
	}
}

// Mark inserts or refreshes the marker for key.
func (r *RecentCompletions) Mark(key timer.Key, minutes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = Entry{
		Minutes:   minutes,
		ExpiresAt: r.clock.Now().Add(r.ttl),
	}
}

// Invalidate drops the marker for key.
func (r *RecentCompletions) Invalidate(key timer.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// HasCompletedForEntity reports whether a live marker exists for the entity
// key. Expired entries are purged lazily here.
func (r *RecentCompletions) HasCompletedForEntity(key timer.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.purgeLocked()
	_, ok := r.entries[key]
	return ok
}

func (r *RecentCompletions) purgeLocked() {
	now := r.clock.Now()
	for key, e := range r.entries {
		if !e.ExpiresAt.After(now) {
			delete(r.entries, key)
		}
	}
}
