package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/coldops/coldchain/internal/timer"
)

// Session represents one connected viewer. It translates inbound client
// requests into timer engine calls and carries outbound hub messages over its
// own buffered send queue. The send channel is never closed; shutdown is
// signalled through done, so a broadcast racing a disconnect can still enqueue
// safely.
type Session struct {
	ID          string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	config      SessionConfig
	connectedAt time.Time
}

// SessionConfig holds per-connection transport tuning.
type SessionConfig struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultSessionConfig returns the default websocket session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
	}
}

func newSession(hub *Hub, conn *websocket.Conn, config SessionConfig) *Session {
	return &Session{
		ID:          uuid.New().String(),
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, config.SendBuffer),
		done:        make(chan struct{}),
		config:      config,
		connectedAt: time.Now(),
	}
}

// trySend queues data without blocking; false means the buffer is full and the
// session should be dropped.
func (s *Session) trySend(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *Session) closeConn() {
	if s.conn != nil {
		s.conn.Close()
	}
}

// shutdown signals the pumps to exit. Safe to call from either pump and from
// the hub concurrently.
func (s *Session) shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

// writePump drains the send queue onto the websocket and keeps the connection
// alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer func() {
		ticker.Stop()
		s.closeConn()
		s.hub.unregister(s)
	}()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("session_id", s.ID).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("session_id", s.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads client envelopes and dispatches them until the connection drops.
func (s *Session) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.closeConn()
	}()

	s.conn.SetReadLimit(s.config.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("session_id", s.ID).Msg("unexpected websocket close")
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError("", fmt.Sprintf("malformed envelope: %v", err))
			continue
		}
		if err := s.handleMessage(context.Background(), env); err != nil {
			s.sendError(env.Type, err.Error())
		}
		s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
}

// handleMessage routes one client request to the engine. The returned error is
// surfaced to this session only, as a rejected action with the reason.
func (s *Session) handleMessage(ctx context.Context, env Envelope) error {
	switch env.Type {
	case MsgRequestSync:
		s.hub.SyncSession(s)
		return nil

	case MsgCreateTimer:
		var data CreateTimerData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("malformed create request: %w", err)
		}
		_, err := s.hub.service.Create(ctx, data.Timer.toRequest())
		return err

	case MsgCreateTimersBatch:
		var data CreateBatchData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("malformed batch request: %w", err)
		}
		reqs := make([]timer.CreateRequest, 0, len(data.Timers))
		for _, spec := range data.Timers {
			reqs = append(reqs, spec.toRequest())
		}
		results := s.hub.service.CreateBatch(ctx, reqs)
		return s.sendBatchResult(results)

	case MsgPauseTimer:
		var data TimerRefData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("malformed pause request: %w", err)
		}
		_, err := s.hub.service.Pause(data.TimerID)
		return err

	case MsgResumeTimer:
		var data TimerRefData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("malformed resume request: %w", err)
		}
		_, err := s.hub.service.Resume(data.TimerID)
		return err

	case MsgDeleteTimer:
		var data TimerRefData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("malformed delete request: %w", err)
		}
		if !s.hub.service.Delete(data.TimerID) {
			return timer.ErrNotFound
		}
		return nil

	default:
		return fmt.Errorf("unknown message type %q", env.Type)
	}
}

// sendBatchResult reports per-item outcomes to the requesting session so it
// can retry only the failed subset.
func (s *Session) sendBatchResult(results []timer.BatchResult) error {
	items := make([]BatchItemResult, 0, len(results))
	for _, r := range results {
		item := BatchItemResult{Ref: r.Ref}
		if r.Err != nil {
			item.Error = r.Err.Error()
		} else if r.Timer != nil {
			item.TimerID = r.Timer.ID.String()
		}
		items = append(items, item)
	}
	env, err := NewEnvelope(MsgBatchResult, BatchResultData{Results: items})
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if !s.trySend(data) {
		return errors.New("session send buffer full")
	}
	return nil
}

func (s *Session) sendError(requestType MessageType, reason string) {
	env, err := NewEnvelope(MsgError, ErrorData{RequestType: requestType, Reason: reason})
	if err != nil {
		log.Error().Err(err).Msg("failed to build error message")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal error message")
		return
	}
	s.trySend(data)

	log.Debug().
		Str("session_id", s.ID).
		Str("request_type", string(requestType)).
		Str("reason", reason).
		Msg("rejected client request")
}
