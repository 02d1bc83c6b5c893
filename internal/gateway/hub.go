package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/coldops/coldchain/internal/timer"
)

// TimerService is what the hub and its sessions need from the timer engine.
type TimerService interface {
	Create(ctx context.Context, req timer.CreateRequest) (*timer.Timer, error)
	CreateBatch(ctx context.Context, reqs []timer.CreateRequest) []timer.BatchResult
	Pause(id uuid.UUID) (*timer.Timer, error)
	Resume(id uuid.UUID) (*timer.Timer, error)
	Delete(id uuid.UUID) bool
	Snapshot() []timer.Timer
}

// Hub fans timer state out to every connected session: a full SYNC on join,
// the changed-only batch after every tick, and discrete lifecycle events.
// Delivery is best-effort per session; a slow session is dropped rather than
// allowed to stall the tick-to-broadcast pipeline.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]bool

	service     TimerService
	broadcastCh chan []byte
}

// NewHub creates a hub. Bind must be called with the timer service before any
// session connects; the two are wired in that order because the engine also
// broadcasts through the hub.
func NewHub() *Hub {
	return &Hub{
		sessions:    make(map[*Session]bool),
		broadcastCh: make(chan []byte, 1024),
	}
}

// Bind attaches the timer service the hub snapshots from and sessions call into.
func (h *Hub) Bind(service TimerService) {
	h.service = service
}

// Run drains the broadcast channel until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("broadcast hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("broadcast hub shutting down")
			return
		case data := <-h.broadcastCh:
			h.fanOut(data)
		}
	}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s] = true
	total := len(h.sessions)
	h.mu.Unlock()

	log.Info().
		Str("session_id", s.ID).
		Int("total_sessions", total).
		Msg("session registered")

	// New joiners get the authoritative snapshot immediately.
	h.SyncSession(s)
}

// unregister removes the session and signals its pumps to exit. The send
// channel is left open: a fan-out that snapshotted its targets before this
// session dropped may still be delivering, and a send on a closed channel
// would panic the broadcast pipeline.
func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	delete(h.sessions, s)
	total := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.shutdown()

	log.Info().
		Str("session_id", s.ID).
		Int("total_sessions", total).
		Msg("session unregistered")
}

// enqueue stages a pre-marshaled message for fan-out without blocking the caller.
func (h *Hub) enqueue(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("type", string(env.Type)).Msg("failed to marshal envelope")
		return
	}
	select {
	case h.broadcastCh <- data:
	default:
		log.Warn().Str("type", string(env.Type)).Msg("broadcast channel full, dropping message")
	}
}

// fanOut delivers one message to every session, dropping sessions whose send
// buffer is full.
func (h *Hub) fanOut(data []byte) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if !s.trySend(data) {
			log.Warn().
				Str("session_id", s.ID).
				Msg("session send buffer full, closing session")
			h.unregister(s)
			s.closeConn()
		}
	}
}

// BatchUpdate broadcasts the changed-only tick delta.
func (h *Hub) BatchUpdate(updates []timer.Update) {
	env, err := NewEnvelope(MsgTimerBatchUpdate, BatchUpdateData{Updates: updates})
	if err != nil {
		log.Error().Err(err).Msg("failed to build batch update")
		return
	}
	h.enqueue(env)
}

// TimerCreated broadcasts a discrete creation event so UIs react immediately
// instead of waiting up to one tick interval.
func (h *Hub) TimerCreated(t timer.Timer) {
	h.broadcastTimerEvent(MsgTimerCreated, t)
}

// TimerUpdated broadcasts a discrete update event (pause/resume).
func (h *Hub) TimerUpdated(t timer.Timer) {
	h.broadcastTimerEvent(MsgTimerUpdated, t)
}

func (h *Hub) broadcastTimerEvent(msgType MessageType, t timer.Timer) {
	env, err := NewEnvelope(msgType, TimerEventData{Timer: t})
	if err != nil {
		log.Error().Err(err).Str("type", string(msgType)).Msg("failed to build timer event")
		return
	}
	h.enqueue(env)
}

// TimerDeleted broadcasts a discrete deletion event.
func (h *Hub) TimerDeleted(id uuid.UUID) {
	env, err := NewEnvelope(MsgTimerDeleted, TimerDeletedData{TimerID: id})
	if err != nil {
		log.Error().Err(err).Msg("failed to build deletion event")
		return
	}
	h.enqueue(env)
}

// SyncAll broadcasts the full snapshot to every session.
func (h *Hub) SyncAll() {
	env, err := h.syncEnvelope()
	if err != nil {
		log.Error().Err(err).Msg("failed to build sync")
		return
	}
	h.enqueue(env)
}

// SyncSession sends the full snapshot to one session, bypassing the shared
// broadcast queue so a join or REQUEST_SYNC is answered promptly.
func (h *Hub) SyncSession(s *Session) {
	env, err := h.syncEnvelope()
	if err != nil {
		log.Error().Err(err).Msg("failed to build sync")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal sync")
		return
	}
	if !s.trySend(data) {
		log.Warn().Str("session_id", s.ID).Msg("session send buffer full during sync, closing session")
		h.unregister(s)
		s.closeConn()
	}
}

func (h *Hub) syncEnvelope() (Envelope, error) {
	return NewEnvelope(MsgTimerSync, TimerSyncData{Timers: h.service.Snapshot()})
}

// Stats reports active session counts for the stats endpoint.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]any{
		"total_sessions": len(h.sessions),
	}
}
