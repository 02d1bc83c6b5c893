package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/coldops/coldchain/internal/phase"
)

func setupServer(cfg *Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	services.WS.RegisterRoutes(mux)
	setupPhaseEndpoints(mux, services)
	setupRefreshEndpoint(mux, services)
	setupHealthCheck(mux)

	handler := c.Handler(mux)

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

// setupPhaseEndpoints exposes the handling-cycle state machine: reading an
// entity's phase and advancing it, with the countdown gate enforced on timed
// phases at the moment of the request.
func setupPhaseEndpoints(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("/phase", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		entity := r.URL.Query().Get("entity")
		if entity == "" {
			http.Error(w, "missing entity parameter", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{
			"entity": entity,
			"phase":  string(services.Phase.Phase(entity)),
		})
	})

	mux.HandleFunc("/phase/advance", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Entity string `json:"entity"`
			Target string `json:"target"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
		if req.Entity == "" || req.Target == "" {
			http.Error(w, "entity and target are required", http.StatusBadRequest)
			return
		}

		err := services.Phase.Advance(req.Entity, phase.Phase(req.Target))
		switch {
		case errors.Is(err, phase.ErrNotEligible):
			http.Error(w, err.Error(), http.StatusConflict)
			return
		case errors.Is(err, phase.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{
			"entity": req.Entity,
			"phase":  string(services.Phase.Phase(req.Entity)),
		})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write json response")
	}
}

// setupRefreshEndpoint exposes the coalesced dashboard refresh: bursts of
// POSTs collapse into at most one full rebroadcast per window.
func setupRefreshEndpoint(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		services.Refresh.Request()
		w.WriteHeader(http.StatusAccepted)
	})
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
