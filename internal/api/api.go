// Package api provides the HTTP surface of the routine engine.
//
// It exposes RESTful endpoints for setting up routines, answering pending
// questions, pausing a routine for the day, reporting task state changes and
// inspecting templates, instances and event history.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/neurospicy/routinekit/internal/routine"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server serves the routine engine API.
type Server struct {
	engine     *routine.Engine
	templates  routine.TemplateStore
	instances  routine.InstanceStore
	tasks      routine.TaskStore
	audit      routine.EventLog
	publisher  routine.Publisher
	addr       string
	httpServer *http.Server
}

// NewServer wires the API server to the engine and its stores.
func NewServer(engine *routine.Engine, templates routine.TemplateStore, instances routine.InstanceStore, tasks routine.TaskStore, audit routine.EventLog, publisher routine.Publisher, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		engine:    engine,
		templates: templates,
		instances: instances,
		tasks:     tasks,
		audit:     audit,
		publisher: publisher,
		addr:      cfg.Addr,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/routines/setup", s.setupHandler)
	mux.HandleFunc("/routines/answer", s.answerHandler)
	mux.HandleFunc("/routines/stop-today", s.stopTodayHandler)
	mux.HandleFunc("/routines", s.instancesHandler)
	mux.HandleFunc("/routines/events", s.eventsHandler)
	mux.HandleFunc("/templates", s.templatesHandler)
	mux.HandleFunc("/tasks", s.tasksHandler)
	mux.HandleFunc("/tasks/complete", s.taskCompleteHandler)
	mux.HandleFunc("/tasks/remove", s.taskRemoveHandler)
	return mux
}

// Start begins serving in the background. Startup errors other than a clean
// shutdown are logged.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server failed", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
