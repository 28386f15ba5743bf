package api

import (
	"context"
	"net/http"
	"time"

	"github.com/copp1723/onekeel-swarm/internal/config"
)

// Server wraps the engine's HTTP surface.
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer builds the router for h. allowedOrigins feeds CORS for the
// browser chat widget; metricsPath mounts the Prometheus handler when h
// carries metrics.
func NewServer(cfg config.ServerConfig, h *Handlers, allowedOrigins []string, metricsPath string) *Server {
	return &Server{
		config:  cfg,
		handler: SetupRoutes(h, allowedOrigins, metricsPath),
	}
}

// ListenAndServe blocks until the server stops. There is no write timeout
// because chat streams stay open for the life of the connection.
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.handler,
		ReadTimeout:       s.config.ReadTimeout(),
		ReadHeaderTimeout: s.config.ReadTimeout(),
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
