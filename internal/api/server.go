package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sources are the read-only views the server exposes. Only Status is required.
type Sources struct {
	Status    StatusSource
	Endpoints EndpointSource
	Events    EventSource
	Economics EconomicsSource
	Pools     PoolSource
	Logs      LogSource
	Metrics   http.Handler
}

// Server provides the operational HTTP endpoints.
type Server struct {
	logger  *zap.Logger
	sources Sources
	server  *http.Server

	mu   sync.Mutex
	addr net.Addr
}

// NewServer creates a new Server instance
func NewServer(addr string, sources Sources, logger *zap.Logger) *Server {
	s := &Server{
		logger:  logger.Named("api"),
		sources: sources,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("status server is nil")
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind to address %s: %w", s.server.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("Status server listening", zap.String("addr", ln.Addr().String()))
	go func() {
		err := s.server.Serve(ln)
		switch {
		case errors.Is(err, http.ErrServerClosed):
			s.logger.Info("Status server closed gracefully")
		case err != nil:
			s.logger.Error("Status server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return s.server.Addr
	}
	return s.addr.String()
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
