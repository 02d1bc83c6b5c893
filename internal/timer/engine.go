package timer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/coldops/coldchain/internal/inventory"
)

// Broadcaster is what the engine needs from the fan-out layer.
type Broadcaster interface {
	TimerCreated(t Timer)
	TimerUpdated(t Timer)
	TimerDeleted(id uuid.UUID)
	BatchUpdate(updates []Update)
	SyncAll()
}

// AuditLog receives fire-and-forget lifecycle events. Append failures must
// never roll back or block a timer mutation, so implementations log and move on.
type AuditLog interface {
	TimerCreated(t Timer)
	TimerCompleted(t Timer)
	TimerDeleted(t Timer)
}

// EntityLookup resolves a tracked entity when a timer is created by entity id.
type EntityLookup interface {
	Lookup(ctx context.Context, entityID string) (inventory.Entity, error)
}

// Config holds engine tuning.
type Config struct {
	TickInterval       time.Duration
	SnapshotEveryTicks int
}

// DefaultConfig returns the production engine configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval:       time.Second,
		SnapshotEveryTicks: 10,
	}
}

// Engine owns timer lifecycle: creation with supersession, pause/resume,
// deletion, and the periodic tick that detects zero-crossings. All mutations
// to a given timer are serialized through a per-id exclusive section.
type Engine struct {
	cfg       Config
	clock     clockwork.Clock
	store     *Store
	locks     *keyedMutex
	broadcast Broadcaster
	audit     AuditLog
	inventory EntityLookup
}

// NewEngine creates an engine. The broadcaster and audit log must be non-nil;
// use audit.NopLog when auditing is disabled.
func NewEngine(cfg Config, clock clockwork.Clock, broadcast Broadcaster, auditLog AuditLog, lookup EntityLookup) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Engine{
		cfg:       cfg,
		clock:     clock,
		store:     NewStore(),
		locks:     newKeyedMutex(),
		broadcast: broadcast,
		audit:     auditLog,
		inventory: lookup,
	}
}

// CreateRequest describes one timer to create. When EntityID is set and Label
// is empty, the label is built from the inventory record; the label is display
// only and identity lives in the structured fields.
type CreateRequest struct {
	Label           string
	Operation       OperationType
	Variant         Variant
	EntityID        string
	EntityName      string
	DurationMinutes int
}

// Create inserts a new active timer. Any prior non-completed timer for the
// same (normalized label, operation) key is superseded: deleted under the same
// exclusive section, so two live timers for one key never coexist, even
// momentarily.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Timer, error) {
	if req.DurationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}
	if !req.Operation.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, req.Operation)
	}
	if req.Variant == "" {
		req.Variant = VariantStandard
	}

	if req.Label == "" && req.EntityID != "" {
		ent, err := e.inventory.Lookup(ctx, req.EntityID)
		if err != nil {
			return nil, fmt.Errorf("resolve entity %s: %w", req.EntityID, err)
		}
		req.Label = fmt.Sprintf("%s #%s - %s", req.Operation, ent.ID, ent.Name)
		req.EntityName = ent.Name
	}
	req.Label = strings.TrimSpace(req.Label)
	if req.Label == "" {
		return nil, fmt.Errorf("%w: empty label", ErrInvalidOperation)
	}

	key := NewKey(req.Label, req.Operation)
	unlock := e.locks.Lock("key:" + key.String())
	defer unlock()

	if prev, ok := e.store.GetByKey(key); ok {
		e.Delete(prev.ID)
		log.Debug().
			Str("timer_id", prev.ID.String()).
			Str("label", prev.Label).
			Msg("superseded existing timer")
	}

	now := e.clock.Now()
	t := &Timer{
		ID:                     uuid.New(),
		Label:                  req.Label,
		Operation:              req.Operation,
		Variant:                req.Variant,
		EntityID:               req.EntityID,
		EntityName:             req.EntityName,
		InitialDurationMinutes: req.DurationMinutes,
		StartedAt:              now,
		EndsAt:                 now.Add(time.Duration(req.DurationMinutes) * time.Minute),
		Active:                 true,
		CreatedAt:              now,
	}
	e.store.Insert(t)

	log.Info().
		Str("timer_id", t.ID.String()).
		Str("label", t.Label).
		Str("operation", string(t.Operation)).
		Int("duration_min", t.InitialDurationMinutes).
		Msg("timer created")

	e.broadcast.TimerCreated(*t)
	e.audit.TimerCreated(*t)
	return t, nil
}

// BatchResult is the per-item outcome of CreateBatch. Ref echoes the entity id
// or label the caller supplied so failed items can be retried individually.
type BatchResult struct {
	Ref   string
	Timer *Timer
	Err   error
}

// CreateBatch applies Create to every request independently: one item failing
// entity resolution or validation does not block the others.
func (e *Engine) CreateBatch(ctx context.Context, reqs []CreateRequest) []BatchResult {
	results := make([]BatchResult, 0, len(reqs))
	for _, req := range reqs {
		ref := req.EntityID
		if ref == "" {
			ref = req.Label
		}
		t, err := e.Create(ctx, req)
		if err != nil {
			log.Warn().Err(err).Str("ref", ref).Msg("batch item failed")
		}
		results = append(results, BatchResult{Ref: ref, Timer: t, Err: err})
	}
	return results
}

// Pause freezes the countdown, snapshotting the remaining seconds. Pausing an
// already-paused timer is a no-op.
func (e *Engine) Pause(id uuid.UUID) (*Timer, error) {
	unlock := e.locks.Lock(id.String())
	defer unlock()

	t, ok := e.store.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if t.Completed || !t.Active {
		return t, nil
	}

	now := e.clock.Now()
	rem := int(t.EndsAt.Sub(now).Seconds())
	if rem < 0 {
		rem = 0
	}
	t.Active = false
	t.RemainingSecondsAtPause = rem
	t.EndsAt = time.Time{}
	e.store.Update(t)

	log.Info().
		Str("timer_id", t.ID.String()).
		Int("remaining_sec", rem).
		Msg("timer paused")

	e.broadcast.TimerUpdated(*t)
	return t, nil
}

// Resume restarts a paused countdown from its snapshot. Resuming an active or
// completed timer is a no-op.
func (e *Engine) Resume(id uuid.UUID) (*Timer, error) {
	unlock := e.locks.Lock(id.String())
	defer unlock()

	t, ok := e.store.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if t.Completed || t.Active {
		return t, nil
	}

	now := e.clock.Now()
	t.EndsAt = now.Add(time.Duration(t.RemainingSecondsAtPause) * time.Second)
	t.StartedAt = now
	t.RemainingSecondsAtPause = 0
	t.Active = true
	e.store.Update(t)

	log.Info().
		Str("timer_id", t.ID.String()).
		Time("ends_at", t.EndsAt).
		Msg("timer resumed")

	e.broadcast.TimerUpdated(*t)
	return t, nil
}

// Delete removes the timer and its index entry. It reports whether a timer was
// removed; deleting an absent id is not an error and emits no broadcast. A
// delete racing a tick's completion wins: a deleted timer cannot complete.
func (e *Engine) Delete(id uuid.UUID) bool {
	unlock := e.locks.Lock(id.String())
	defer unlock()

	t, ok := e.store.Delete(id)
	if !ok {
		return false
	}

	log.Info().
		Str("timer_id", t.ID.String()).
		Str("label", t.Label).
		Msg("timer deleted")

	e.broadcast.TimerDeleted(id)
	e.audit.TimerDeleted(*t)
	return true
}

// Tick recomputes remaining time for every active timer and flips Completed
// exactly once at the zero-crossing. It returns the changed-only batch: every
// still-counting timer plus those that completed on this pass. Paused and
// previously-completed timers do not change and are excluded.
func (e *Engine) Tick() []Update {
	now := e.clock.Now()
	var updates []Update

	for _, scanned := range e.store.ListActive() {
		unlock := e.locks.Lock(scanned.ID.String())

		t, ok := e.store.Get(scanned.ID)
		if !ok || t.Completed || !t.Active {
			// Deleted, completed, or paused since the scan.
			unlock()
			continue
		}

		rem := int(t.EndsAt.Sub(now).Seconds())
		if rem <= 0 {
			rem = 0
			t.Completed = true
			t.Active = false
			t.RemainingSecondsAtPause = 0
			e.store.Update(t)

			log.Info().
				Str("timer_id", t.ID.String()).
				Str("label", t.Label).
				Str("operation", string(t.Operation)).
				Msg("timer completed")

			e.audit.TimerCompleted(*t)
		}
		updates = append(updates, Update{
			TimerID:          t.ID,
			RemainingSeconds: rem,
			Completed:        t.Completed,
			Active:           t.Active,
		})
		unlock()
	}
	return updates
}

// Run drives the tick once per interval until ctx is done. Ticks are processed
// sequentially: an overrunning tick defers the next one rather than skipping
// it, so a zero-crossing is never lost. Every SnapshotEveryTicks ticks the full
// snapshot is rebroadcast for clients that joined mid-stream.
func (e *Engine) Run(ctx context.Context) {
	ticker := e.clock.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", e.cfg.TickInterval).
		Int("snapshot_every", e.cfg.SnapshotEveryTicks).
		Msg("timer engine started")

	var tickCount uint64
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("timer engine shutting down")
			return
		case <-ticker.Chan():
			if updates := e.Tick(); len(updates) > 0 {
				e.broadcast.BatchUpdate(updates)
			}
			tickCount++
			if e.cfg.SnapshotEveryTicks > 0 && tickCount%uint64(e.cfg.SnapshotEveryTicks) == 0 {
				e.broadcast.SyncAll()
			}
		}
	}
}

// Snapshot returns a copy of every timer, for SYNC messages.
func (e *Engine) Snapshot() []Timer {
	stored := e.store.List()
	out := make([]Timer, 0, len(stored))
	for _, t := range stored {
		out = append(out, *t)
	}
	return out
}

// Get returns the timer with the given id.
func (e *Engine) Get(id uuid.UUID) (*Timer, error) {
	t, ok := e.store.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// HasCompleted reports whether a completed timer exists for the label key.
func (e *Engine) HasCompleted(key Key) bool {
	return e.store.HasCompleted(key)
}

// HasCompletedForEntity reports whether a completed timer exists for the
// entity key. It is the primary completion source behind the phase-transition
// gate: an asset advanced by its inventory id matches the timers created for
// it regardless of how their display labels read.
func (e *Engine) HasCompletedForEntity(key Key) bool {
	return e.store.HasCompletedForEntity(key)
}
