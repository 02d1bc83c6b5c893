// Package reconcile keeps a viewer's local countdown state converged with
// server truth. The local map is fed exclusively by server messages; wall-clock
// advancement alone never mutates it, it only derives the displayed remaining
// seconds between pushes.
package reconcile

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/coldops/coldchain/internal/gateway"
	"github.com/coldops/coldchain/internal/timer"
)

// Deleter requests server-side deletion of a timer; used by the defensive
// dedupe pass when stale cached state surfaces duplicates after a reconnect.
type Deleter interface {
	RequestDelete(id uuid.UUID)
}

// SyncRequester asks the server for a fresh snapshot.
type SyncRequester interface {
	RequestSync()
}

// View is the reconciled local model of the authoritative timer table.
type View struct {
	clock   clockwork.Clock
	deleter Deleter
	syncer  SyncRequester
	recent  *RecentCompletions

	mu            sync.Mutex
	timers        map[uuid.UUID]timer.Timer
	lastRemaining map[uuid.UUID]int
}

// NewView creates a view. deleter and syncer may be nil for read-only viewers.
func NewView(clock clockwork.Clock, deleter Deleter, syncer SyncRequester, recent *RecentCompletions) *View {
	return &View{
		clock:         clock,
		deleter:       deleter,
		syncer:        syncer,
		recent:        recent,
		timers:        make(map[uuid.UUID]timer.Timer),
		lastRemaining: make(map[uuid.UUID]int),
	}
}

// Apply merges one server message into the local view.
func (v *View) Apply(env gateway.Envelope) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch env.Type {
	case gateway.MsgTimerSync:
		var data gateway.TimerSyncData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("unmarshal sync: %w", err)
		}
		v.applySyncLocked(data.Timers)

	case gateway.MsgTimerBatchUpdate:
		var data gateway.BatchUpdateData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("unmarshal batch update: %w", err)
		}
		v.applyBatchLocked(data.Updates)

	case gateway.MsgTimerCreated, gateway.MsgTimerUpdated:
		var data gateway.TimerEventData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("unmarshal timer event: %w", err)
		}
		v.applyTimerLocked(data.Timer)

	case gateway.MsgTimerDeleted:
		var data gateway.TimerDeletedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("unmarshal deletion: %w", err)
		}
		v.applyDeleteLocked(data.TimerID)

	default:
		// Not state-bearing (batch results, errors); nothing to merge.
		return nil
	}

	v.dedupeLocked()
	return nil
}

func (v *View) applySyncLocked(timers []timer.Timer) {
	fresh := make(map[uuid.UUID]timer.Timer, len(timers))
	for _, t := range timers {
		if prev, ok := v.timers[t.ID]; ok && prev.Completed && !t.Completed {
			// Completed never reverts; a stale snapshot cannot un-complete.
			t.Completed = true
			t.Active = false
		}
		v.noteTransitionLocked(t)
		fresh[t.ID] = t
	}
	v.timers = fresh
	for id := range v.lastRemaining {
		if _, ok := fresh[id]; !ok {
			delete(v.lastRemaining, id)
		}
	}
}

func (v *View) applyBatchLocked(updates []timer.Update) {
	now := v.clock.Now()
	for _, u := range updates {
		t, ok := v.timers[u.TimerID]
		if !ok {
			continue
		}
		if t.Completed && !u.Completed {
			continue
		}
		if u.Completed && !t.Completed {
			t.Completed = true
			t.Active = false
			v.markCompletedLocked(t)
		} else {
			t.Active = u.Active
			if u.Active {
				// Re-anchor the local deadline to the server's remaining time
				// so the rendered countdown cannot drift for longer than one
				// broadcast interval.
				t.EndsAt = now.Add(time.Duration(u.RemainingSeconds) * time.Second)
			} else {
				t.RemainingSecondsAtPause = u.RemainingSeconds
			}
		}
		v.timers[u.TimerID] = t
		v.lastRemaining[u.TimerID] = u.RemainingSeconds
	}
}

func (v *View) applyTimerLocked(t timer.Timer) {
	if prev, ok := v.timers[t.ID]; ok && prev.Completed && !t.Completed {
		t.Completed = true
		t.Active = false
	}
	v.noteTransitionLocked(t)
	v.timers[t.ID] = t
	v.lastRemaining[t.ID] = t.RemainingSeconds(v.clock.Now())
}

func (v *View) applyDeleteLocked(id uuid.UUID) {
	t, ok := v.timers[id]
	if !ok {
		return
	}
	// A timer deleted right after reaching zero still reads as completed for
	// a few seconds, bridging the gap before operator cleanup.
	if t.Completed || v.lastRemaining[id] <= 0 {
		v.recent.Mark(t.EntityKey(), t.InitialDurationMinutes)
	}
	delete(v.timers, id)
	delete(v.lastRemaining, id)
}

// noteTransitionLocked updates the recent-completion cache for a timer arriving
// from the server: completions are marked, fresh live timers invalidate.
func (v *View) noteTransitionLocked(t timer.Timer) {
	prev, known := v.timers[t.ID]
	if t.Completed {
		if !known || !prev.Completed {
			v.markCompletedLocked(t)
		}
		return
	}
	v.recent.Invalidate(t.EntityKey())
}

func (v *View) markCompletedLocked(t timer.Timer) {
	v.recent.Mark(t.EntityKey(), t.InitialDurationMinutes)
}

// dedupeLocked defends against stale cached state: if two non-completed timers
// share an entity key, the one with the later deadline survives and deletion
// is requested for the rest. Supersession on the server makes this a no-op in
// the steady state.
func (v *View) dedupeLocked() {
	byKey := make(map[timer.Key][]timer.Timer)
	for _, t := range v.timers {
		if t.Completed {
			continue
		}
		byKey[t.Key()] = append(byKey[t.Key()], t)
	}

	for key, group := range byKey {
		if len(group) < 2 {
			continue
		}
		keep := group[0]
		for _, t := range group[1:] {
			if t.EndsAt.After(keep.EndsAt) {
				keep = t
			}
		}
		for _, t := range group {
			if t.ID == keep.ID {
				continue
			}
			log.Warn().
				Str("timer_id", t.ID.String()).
				Str("kept_id", keep.ID.String()).
				Str("key", key.String()).
				Msg("duplicate timer for entity key, requesting deletion")
			delete(v.timers, t.ID)
			delete(v.lastRemaining, t.ID)
			if v.deleter != nil {
				v.deleter.RequestDelete(t.ID)
			}
		}
	}
}

// Remaining computes the displayed countdown for one timer on the local render
// tick, without a network round trip.
func (v *View) Remaining(id uuid.UUID) (int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	t, ok := v.timers[id]
	if !ok {
		return 0, false
	}
	return t.RemainingSeconds(v.clock.Now()), true
}

// Get returns the local copy of one timer.
func (v *View) Get(id uuid.UUID) (timer.Timer, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	t, ok := v.timers[id]
	return t, ok
}

// Timers returns a copy of the local table.
func (v *View) Timers() []timer.Timer {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]timer.Timer, 0, len(v.timers))
	for _, t := range v.timers {
		out = append(out, t)
	}
	return out
}

// HasCompletedForEntity reports whether the entity key has a live
// recent-completion marker. It is the second completion source behind the
// phase gate.
func (v *View) HasCompletedForEntity(key timer.Key) bool {
	return v.recent.HasCompletedForEntity(key)
}

// Resync asks the server for a fresh snapshot; the reconnect self-heal path.
func (v *View) Resync() {
	if v.syncer != nil {
		v.syncer.RequestSync()
	}
}
