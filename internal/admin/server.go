// Package admin implements the optional HTTP admin surface: thin
// wrappers over the session store and the runtime's lifecycle, with no
// behavior of their own.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/agentbot/internal/session"
)

// runtime is the subset of *runtime.Runtime the admin surface needs.
// Declared locally so this package never imports runtime, which would
// otherwise create an import cycle once runtime starts depending on
// admin for health reporting.
type runtime interface {
	Start(ctx context.Context)
	Stop()
	Started() bool
	SessionIDs() []string
}

// Server is the admin HTTP surface described in the external interfaces
// section: GET /health, POST /sessions, POST /control/start|stop.
type Server struct {
	store  *session.Store
	rt     runtime
	logger *slog.Logger
	server *http.Server
}

func NewServer(addr string, rt runtime, store *session.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: store, rt: rt, logger: logger.With("component", "admin")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /sessions", s.handleUpsertSession)
	mux.HandleFunc("POST /control/start", s.handleControlStart)
	mux.HandleFunc("POST /control/stop", s.handleControlStop)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks until the server stops or fails. Run it in a goroutine.
func (s *Server) Start() error {
	s.logger.Info("admin surface listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed", "error", err)
	}
}

type healthResponse struct {
	Started  bool     `json:"started"`
	Sessions []string `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Started: s.rt.Started(), Sessions: s.rt.SessionIDs()})
}

// handleUpsertSession persists a session record. Per §4.1, new sessions
// only gain a running monitor/booker pair the next time the process
// bootstraps the runtime; this endpoint does not hot-start agents for
// a session added after Bootstrap has already run.
func (s *Server) handleUpsertSession(w http.ResponseWriter, r *http.Request) {
	var rec session.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if rec.SessionID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}
	if err := s.store.Upsert(rec); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleControlStart(w http.ResponseWriter, r *http.Request) {
	s.rt.Start(r.Context())
	s.writeJSON(w, http.StatusOK, healthResponse{Started: s.rt.Started(), Sessions: s.rt.SessionIDs()})
}

func (s *Server) handleControlStop(w http.ResponseWriter, r *http.Request) {
	s.rt.Stop()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
