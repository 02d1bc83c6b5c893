package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Handler upgrades HTTP requests into subscriber sessions.
type Handler struct {
	hub      *Hub
	config   SessionConfig
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket HTTP handler.
func NewHandler(hub *Hub, config SessionConfig) *Handler {
	return &Handler{
		hub:    hub,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin enforcement belongs to the fronting proxy.
				return true
			},
		},
	}
}

// ServeWS upgrades the connection and hands it to the hub. The joining session
// receives a full TIMER_SYNC; a reconnecting client that missed messages
// self-heals the same way (or via REQUEST_SYNC).
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	s := newSession(h.hub, conn, h.config)
	go s.writePump()
	h.hub.register(s)
	go s.readPump()

	log.Info().
		Str("session_id", s.ID).
		Str("remote", r.RemoteAddr).
		Msg("websocket session established")
}

// ServeStats reports hub statistics.
func (h *Handler) ServeStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.hub.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to write stats response")
	}
}

// RegisterRoutes registers the websocket routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.ServeWS)
	mux.HandleFunc("/ws/stats", h.ServeStats)
}
