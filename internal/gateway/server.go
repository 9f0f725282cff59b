// Package gateway exposes the task engine over HTTP and WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/envoy/internal/engine"
	"github.com/dohr-michael/envoy/internal/events"
	"github.com/dohr-michael/envoy/internal/gateway/ws"
)

// Server is the envoy gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	engine     *engine.Engine
	tasks      *TaskHandler
	host       string
	port       int
}

// NewServer creates a new gateway server.
func NewServer(e *engine.Engine, bus *events.Bus, host string, port int) *Server {
	hub := ws.NewHub(bus)
	th := NewTaskHandler(e)
	hub.SetTaskHandler(th)

	s := &Server{
		hub:    hub,
		bus:    bus,
		engine: e,
		tasks:  th,
		host:   host,
		port:   port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)

	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleCreateTask)
		r.Get("/{taskID}", s.handleGetTask)
		r.Get("/{taskID}/log", s.handleTaskLog)
		r.Post("/{taskID}/cancel", s.handleCancelTask)
		r.Post("/{taskID}/respond", s.handleRespond)
		r.Post("/{taskID}/messages/{messageID}/approve", s.handleApproveMessage)
		r.Post("/{taskID}/messages/{messageID}/reject", s.handleRejectMessage)
	})

	r.Route("/api/approvals", func(r chi.Router) {
		r.Get("/", s.handleListApprovals)
		r.Post("/{confirmID}/approve", s.handleApproveAdHoc)
		r.Post("/{confirmID}/reject", s.handleRejectAdHoc)
	})

	r.Post("/api/hooks/{name}", s.handleHook)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("envoy gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	limit := 50
	if limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}

	history := s.bus.History(limit)

	type eventJSON struct {
		ID        string             `json:"id"`
		TaskID    string             `json:"task_id,omitempty"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			TaskID:    e.TaskID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	result, err := s.tasks.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var spec json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.tasks.Create(r.Context(), spec)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	result, err := s.tasks.Get(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTaskLog(w http.ResponseWriter, r *http.Request) {
	log, err := s.tasks.Log(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Cancel(r.Context(), chi.URLParam(r, "taskID")); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.tasks.Respond(r.Context(), chi.URLParam(r, "taskID"), body.Response); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleApproveMessage(w http.ResponseWriter, r *http.Request) {
	err := s.tasks.Approve(r.Context(), chi.URLParam(r, "taskID"), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleRejectMessage(w http.ResponseWriter, r *http.Request) {
	err := s.tasks.Reject(r.Context(), chi.URLParam(r, "taskID"), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Gate().Pending())
}

func (s *Server) handleApproveAdHoc(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "confirmID")
	if !s.engine.Gate().Approve(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no pending confirmation %s", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleRejectAdHoc(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "confirmID")
	if !s.engine.Gate().Reject(id, "rejected by user") {
		writeError(w, http.StatusNotFound, fmt.Errorf("no pending confirmation %s", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.engine.TriggerHook(name)
	writeJSON(w, http.StatusAccepted, map[string]string{"hook": name})
}
