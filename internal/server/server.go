// Package server provides the HTTP API: session and message management,
// turn submission and abort, SSE event streams, workspace browsing,
// attachment upload and one-shot shell execution.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/agentdeck/agentdeck/internal/attach"
	"github.com/agentdeck/agentdeck/internal/event"
	"github.com/agentdeck/agentdeck/internal/logging"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/terminal"
	"github.com/agentdeck/agentdeck/internal/turn"
	"github.com/agentdeck/agentdeck/internal/workspace"
)

// Config holds server configuration.
type Config struct {
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// Deps are the collaborators the server fronts.
type Deps struct {
	Store       *store.Store
	Controller  *turn.Controller
	Workspace   *workspace.Workspace
	Attachments *attach.Store
	Runner      *terminal.Runner
	Bus         *event.Bus
}

// Server is the HTTP server.
type Server struct {
	config      *Config
	router      *chi.Mux
	httpSrv     *http.Server
	store       *store.Store
	controller  *turn.Controller
	workspace   *workspace.Workspace
	attachments *attach.Store
	runner      *terminal.Runner
	bus         *event.Bus
	log         zerolog.Logger
}

// New creates a new Server instance.
func New(cfg *Config, deps Deps) *Server {
	s := &Server{
		config:      cfg,
		router:      chi.NewRouter(),
		store:       deps.Store,
		controller:  deps.Controller,
		workspace:   deps.Workspace,
		attachments: deps.Attachments,
		runner:      deps.Runner,
		bus:         deps.Bus,
		log:         logging.For("server"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.log.Info().Int("port", s.config.Port).Msg("server listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
