package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/taskloop/taskloop/internal/engine"
	"github.com/taskloop/taskloop/internal/events"
	"github.com/taskloop/taskloop/internal/gateway/ws"
	"github.com/taskloop/taskloop/internal/store"
)

// Server is the taskloop gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	handler    *TaskHandler
	card       AgentCard
	host       string
	port       int
}

// NewServer creates a new gateway server.
func NewServer(bus *events.Bus, handler *TaskHandler, card AgentCard, host string, port int) *Server {
	hub := ws.NewHub(bus, handler)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:     hub,
		bus:     bus,
		handler: handler,
		card:    card,
		host:    host,
		port:    port,
	}

	// Routes
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/agent-card", s.handleAgentCard)
	r.Get("/api/tasks", s.handleListTasks)
	r.Get("/api/tasks/{id}", s.handleGetTask)
	r.Post("/api/tasks/{id}/cancel", s.handleCancelTask)
	r.Get("/api/contexts/{id}/history", s.handleContextHistory)
	r.Get("/ws", hub.ServeWS)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("taskloop gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.card)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.handler.List())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	view, err := s.handler.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, engine.ErrTaskNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	err := s.handler.CancelTask(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, engine.ErrTaskNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrAlreadyFinal):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "canceled"})
	}
}

func (s *Server) handleContextHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.handler.ContextHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
