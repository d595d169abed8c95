// Package api exposes the orchestration core over HTTP: batch endpoints,
// session inspection, and live progress via SSE and websocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pokt-foundation/shannon-orch/internal/config"
	"github.com/pokt-foundation/shannon-orch/internal/history"
	"github.com/pokt-foundation/shannon-orch/internal/migrate"
	"github.com/pokt-foundation/shannon-orch/internal/orchestrator"
	"github.com/pokt-foundation/shannon-orch/internal/pocketd"
	"github.com/pokt-foundation/shannon-orch/internal/session"
	"github.com/pokt-foundation/shannon-orch/internal/staking"
)

// Prober checks that the external binary is available before a batch starts
type Prober interface {
	Probe(ctx context.Context) error
}

// Deps bundles everything the server needs
type Deps struct {
	Config      *config.Config
	Store       *session.Store
	History     *history.Store
	Prober      Prober
	Migrator    *migrate.Migrator
	Provisioner *staking.Provisioner

	// Builder targets the main keyring home used for signing
	Builder *pocketd.Builder
}

// Server is the HTTP API server
type Server struct {
	deps   Deps
	addr   string
	mux    *http.ServeMux
	sseHub *SSEHub
	wsHub  *WSHub
}

// NewServer creates the API server
func NewServer(deps Deps, addr string) *Server {
	s := &Server{
		deps:   deps,
		addr:   addr,
		mux:    http.NewServeMux(),
		sseHub: NewSSEHub(),
		wsHub:  NewWSHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.healthHandler())
	s.mux.HandleFunc("/api/migrate", s.migrateHandler(false))
	s.mux.HandleFunc("/api/migrate/unsigned", s.migrateHandler(true))
	s.mux.HandleFunc("/api/stake", s.stakeHandler())
	s.mux.HandleFunc("/api/sessions", s.listSessionsHandler())
	s.mux.HandleFunc("/api/sessions/", s.sessionHandler())
	s.mux.HandleFunc("/api/history", s.historyHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
}

// Handler returns the server's mux, mainly for tests
func (s *Server) Handler() http.Handler { return s.mux }

// Start runs the hubs and blocks serving HTTP
func (s *Server) Start() error {
	go s.sseHub.Run()
	return http.ListenAndServe(s.addr, s.mux)
}

// Broadcast fans one event out to every SSE and websocket client
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
	s.wsHub.Broadcast(event)
}

// NotifyOrchestrator adapts orchestrator progress events onto the live
// surfaces. Wire it via Orchestrator.SetNotify.
func (s *Server) NotifyOrchestrator(ev orchestrator.Event) {
	s.Broadcast(SSEEvent{Type: string(ev.Kind), Data: ev})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
