// Package api exposes the HTTP surface of Talia.
//
// It accepts inbound chat events, lists loaded flows, registers users, and
// resets conversations. The API is the seam between chat transports and the
// conversation engine: a transport webhook shapes its payload into an event
// and posts it to /events.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/taliahq/talia/internal/messaging"
	"github.com/taliahq/talia/internal/models"
	"github.com/taliahq/talia/internal/store"
)

const defaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr   string
	Sender messaging.Sender
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSender makes the server also deliver each reply over the chat
// transport, in addition to returning it in the HTTP response.
func WithSender(s messaging.Sender) Option {
	return func(o *Opts) { o.Sender = s }
}

// Server routes HTTP requests to the event router and the store.
type Server struct {
	router *messaging.Router
	flows  flowLister
	store  store.Store
	sender messaging.Sender
	addr   string
	http   *http.Server
}

// flowLister is the slice of the repository the API needs.
type flowLister interface {
	Flows() []models.Flow
}

// NewServer creates an API server over the given event router, flow
// repository, and store.
func NewServer(router *messaging.Router, flows flowLister, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	s := &Server{
		router: router,
		flows:  flows,
		store:  st,
		sender: cfg.Sender,
		addr:   cfg.Addr,
	}

	r := mux.NewRouter()
	r.HandleFunc("/events", s.handleEvent).Methods(http.MethodPost)
	r.HandleFunc("/flows", s.handleFlows).Methods(http.MethodGet)
	r.HandleFunc("/users", s.handleSaveUser).Methods(http.MethodPost)
	r.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and custom servers.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run starts the server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("API server shutting down")
		return s.http.Shutdown(shutdownCtx)
	}
}

// handleEvent accepts one inbound chat event, routes it through the
// conversation engine, and returns the reply. When the event omits the role
// it is resolved from the registered user record.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if ev.Role == "" {
		u, err := s.store.GetUser(ev.UserID)
		if err != nil {
			slog.Error("API user lookup failed", "error", err, "userID", ev.UserID)
			writeError(w, http.StatusInternalServerError, "user lookup failed")
			return
		}
		if u != nil {
			ev.Role = u.Role
		} else {
			ev.Role = models.RoleClient
		}
	}
	if !models.IsValidRole(ev.Role) {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}

	reply, err := s.router.HandleEvent(r.Context(), ev)
	if err != nil {
		slog.Error("API event handling failed", "error", err, "userID", ev.UserID)
		writeError(w, http.StatusInternalServerError, "event handling failed")
		return
	}

	if s.sender != nil {
		if err := s.sender.SendMessage(r.Context(), ev.UserID, reply.Text); err != nil {
			slog.Error("API transport send failed", "error", err, "userID", ev.UserID)
		}
	}

	writeJSON(w, http.StatusOK, reply)
}

// handleFlows lists the loaded flow definitions.
func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.flows.Flows())
}

// handleSaveUser registers or updates a user record.
func (s *Server) handleSaveUser(w http.ResponseWriter, r *http.Request) {
	var u models.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if u.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if !models.IsValidRole(u.Role) {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	if err := s.store.SaveUser(u); err != nil {
		slog.Error("API user save failed", "error", err, "userID", u.ID)
		writeError(w, http.StatusInternalServerError, "user save failed")
		return
	}
	slog.Info("API user saved", "userID", u.ID, "role", u.Role)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReset abandons a user's active conversation.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := s.router.Reset(r.Context(), req.UserID); err != nil {
		slog.Error("API reset failed", "error", err, "userID", req.UserID)
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports liveness.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("API response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
