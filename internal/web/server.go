// Package web exposes the clustered prime table over a read-only HTTP API:
// text matching, cluster inspection and summary statistics.
package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/specific-affinity/affinity/internal/engine"
)

// Config contains HTTP server settings.
type Config struct {
	Host string
	Port int
	// LogRequests enables per-request logging; turn it off for noisy
	// health-check traffic.
	LogRequests bool
}

// DefaultConfig returns the default server settings.
func DefaultConfig() Config {
	return Config{Host: "0.0.0.0", Port: 8080, LogRequests: true}
}

// Server serves match queries against an in-memory prime table. The prime
// table is loaded once at startup; restart the server after re-clustering.
type Server struct {
	config     Config
	engine     *engine.Engine
	prime      *engine.PrimeTable
	httpServer *http.Server
	router     *mux.Router
}

// NewServer creates a server over an already-loaded prime table.
func NewServer(config Config, eng *engine.Engine, pt *engine.PrimeTable) *Server {
	s := &Server{
		config: config,
		engine: eng,
		prime:  pt,
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/match", s.handleMatch).Methods("GET")
	api.HandleFunc("/clusters/{id:[0-9]+}", s.handleCluster).Methods("GET")

	s.router.Use(corsMiddleware())
	if s.config.LogRequests {
		s.router.Use(requestLogging())
	}
}

// Handler returns the configured router, used directly in tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until SIGINT or SIGTERM, then shuts down
// gracefully.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		fmt.Printf("Starting server on http://%s\n", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Server error: %v\n", err)
		}
	}()

	<-stop
	fmt.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	fmt.Println("Server stopped")
	return nil
}
