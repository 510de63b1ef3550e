package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server exposes the admin routes over plain HTTP.
type Server struct {
	Addr string

	engine     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

func NewServer(addr string, h *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(logger))
	h.RegisterRoutes(&engine.RouterGroup)

	return &Server{
		Addr:   addr,
		engine: engine,
		httpServer: &http.Server{
			Handler:           engine,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: logger,
	}
}

// Engine returns the router, mostly for httptest.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr, err)
	}
	s.listener = ln
	s.logger.Info("admin_server_listening", "addr", ln.Addr().String())
	return nil
}

// ListenAddr reports the bound address, or nil before Listen.
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve blocks until ctx is cancelled, then shuts the HTTP server down.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		// drop the failed socket so a restart binds a fresh one
		s.mu.Lock()
		if s.listener == ln {
			ln.Close()
			s.listener = nil
		}
		s.mu.Unlock()
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("admin_shutdown_failed", "error", err.Error())
	}
	s.logger.Info("admin_server_stopped")
	return nil
}
