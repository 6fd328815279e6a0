// Package server implements the HTTP bridge UIs use to observe and drive
// the session manager.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soporteakasiapro1-art/pi-island/internal/config"
	"github.com/soporteakasiapro1-art/pi-island/internal/islandlog"
	"github.com/soporteakasiapro1-art/pi-island/internal/manager"
)

// Config holds server configuration.
type Config struct {
	Host  string
	Port  int
	Token string // empty falls back to PI_ISLAND_TOKEN, then no auth
	Quiet bool   // disable the access log

	LogPath string // advertised in the instance registry
}

// Server serves the session API for one manager.
type Server struct {
	config    Config
	manager   *manager.Manager
	auth      *BearerAuthenticator
	router    chi.Router
	startedAt time.Time
}

// New creates a server for m.
func New(m *manager.Manager, cfg Config) *Server {
	s := &Server{
		config:    cfg,
		manager:   m,
		auth:      NewBearerAuthenticator(AuthFromToken(cfg.Token)),
		startedAt: time.Now(),
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures all routes.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)
	if !s.config.Quiet {
		r.Use(middleware.Logger)
	}

	if s.auth.IsEnabled() {
		islandlog.Log.Info("Server authentication enabled")
	} else {
		islandlog.Log.Warn("Server running without authentication")
	}

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Get("/health", s.handleHealth)
		r.Get("/events", s.handleEvents)

		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleRemoveSession)
			r.Post("/prompt", s.handlePrompt)
			r.Post("/steer", s.handleSteer)
			r.Post("/follow_up", s.handleFollowUp)
			r.Post("/abort", s.handleAbort)
			r.Post("/model", s.handleSetModel)
			r.Post("/model/cycle", s.handleCycleModel)
			r.Post("/thinking", s.handleSetThinking)
			r.Post("/thinking/cycle", s.handleCycleThinking)
			r.Post("/compact", s.handleCompact)
			r.Post("/new", s.handleNewSession)
			r.Get("/stats", s.handleStats)
			r.Get("/models", s.handleModels)
			r.Get("/commands", s.handleCommands)
			r.Post("/resume", s.handleResume)
			r.Post("/select", s.handleSelect)
		})
	})

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// ListenAndServe serves until ctx is cancelled. The instance is registered
// for discovery while serving.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr(),
		Handler: s.router,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	// Update port if auto-assigned
	if s.config.Port == 0 {
		s.config.Port = ln.Addr().(*net.TCPAddr).Port
	}

	inst := config.Instance{
		Type:      config.InstanceServe,
		PID:       os.Getpid(),
		Port:      s.config.Port,
		Host:      s.config.Host,
		LogPath:   s.config.LogPath,
		StartedAt: s.startedAt,
	}
	if err := config.RegisterInstance(inst); err != nil {
		islandlog.Log.Warn("Failed to register instance", "error", err)
	}

	go func() {
		<-ctx.Done()
		if err := config.UnregisterInstance(os.Getpid()); err != nil {
			islandlog.Log.Warn("Failed to unregister instance", "error", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	islandlog.Log.Info("Server listening", "addr", s.Addr())
	fmt.Printf("pi-island listening on http://%s\n", s.Addr())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// corsMiddleware adds CORS headers for local UIs.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
