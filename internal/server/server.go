package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmorgan/crucible/internal/config"
	"github.com/jmorgan/crucible/internal/storage"
	"github.com/jmorgan/crucible/internal/tools"
)

// Server is the HTTP server for the Crucible web API.
type Server struct {
	cfg      *config.Config
	store    storage.Store
	registry *tools.Registry
	router   chi.Router
	http     *http.Server
}

// New creates a new Server.
func New(cfg *config.Config, store storage.Store, registry *tools.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		registry: registry,
		router:   chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(jsonContentType)

		// Tool catalog
		r.Get("/tools", s.handleListTools)
		r.Get("/tools/cache", s.handleToolCache)
		r.Post("/tools/reload", s.handleReloadTools)

		// Agents
		r.Get("/agents", s.handleListAgents)
		r.Post("/agents/{name}/run", s.handleRunAgent)

		// WebSocket (no JSON content-type)
		r.Get("/agents/{name}/ws", s.handleWebSocket)

		// Run history
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Delete("/runs/{id}", s.handleDeleteRun)

		// Providers
		r.Get("/providers", s.handleListProviders)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	log.Printf("Crucible server starting on http://localhost%s", addr)
	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
