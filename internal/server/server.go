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

	"github.com/sessionkit/sessionkit/internal/history"
	"github.com/sessionkit/sessionkit/internal/logging"
	"github.com/sessionkit/sessionkit/internal/session"
	"github.com/sessionkit/sessionkit/internal/tool"
	"github.com/sessionkit/sessionkit/internal/workflow"
	"github.com/sessionkit/sessionkit/pkg/types"
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

// Options carries the pluggable engine pieces. Zero-value fields get
// working defaults: the builtin tool set, the echo responder, and a
// runner that replies with the interpolated prompt.
type Options struct {
	Store     *history.Store
	Library   *workflow.Library
	Tools     *tool.Registry
	Executor  tool.Executor
	Runner    session.StepRunner
	Responder session.Responder
}

// Server is the HTTP host for the session engine.
type Server struct {
	config    *Config
	router    *chi.Mux
	httpSrv   *http.Server
	appConfig *types.Config
	manager   *Manager
	store     *history.Store
	library   *workflow.Library
	tools     *tool.Registry
	executor  tool.Executor
	runner    session.StepRunner
	responder session.Responder
	log       zerolog.Logger
}

// New creates a new Server instance.
func New(cfg *Config, appConfig *types.Config, opts Options) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if appConfig == nil {
		appConfig = &types.Config{}
	}
	if opts.Tools == nil || opts.Executor == nil {
		reg, exec := tool.Builtin()
		if opts.Tools == nil {
			opts.Tools = reg
		}
		if opts.Executor == nil {
			opts.Executor = exec
		}
	}
	if opts.Runner == nil {
		opts.Runner = func(ctx context.Context, step types.Step, prompt string, vars map[string]any) (string, error) {
			return prompt, nil
		}
	}
	if opts.Responder == nil {
		opts.Responder = session.EchoResponder
	}

	s := &Server{
		config:    cfg,
		router:    chi.NewRouter(),
		appConfig: appConfig,
		manager:   NewManager(opts.Store),
		store:     opts.Store,
		library:   opts.Library,
		tools:     opts.Tools,
		executor:  opts.Executor,
		runner:    opts.Runner,
		responder: opts.Responder,
		log:       logging.Component("server"),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

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

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)
		r.Post("/import", s.importSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)

			r.Post("/start", s.startSession)
			r.Post("/message", s.sendMessage)
			r.Post("/cancel", s.cancelSession)
			r.Get("/result", s.getResult)
			r.Get("/wait", s.waitSession)

			// Workflow control
			r.Post("/continue", s.continueWorkflow)
			r.Post("/jump", s.jumpWorkflow)

			r.Get("/export", s.exportSession)
			r.Get("/event", s.sessionEvents)
		})
	})

	r.Route("/history", func(r chi.Router) {
		r.Get("/", s.listHistory)
		r.Get("/{sessionID}", s.getHistory)
		r.Delete("/{sessionID}", s.deleteHistory)
	})

	r.Get("/workflow", s.listWorkflows)
	r.Get("/tool", s.listTools)
	r.Get("/health", s.health)
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

// Shutdown gracefully shuts down the server and every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.manager.Shutdown()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Manager returns the session manager.
func (s *Server) Manager() *Manager {
	return s.manager
}
