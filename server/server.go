// Package server exposes the orchestrator over an HTTP admin API: service
// registration, discovery, message submission, and health inspection. The
// server is optional; the orchestrator works as a plain library without it.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kbukum/orchestra/component"
	"github.com/kbukum/orchestra/logger"
	"github.com/kbukum/orchestra/orchestrator"
)

const componentName = "http-server"

var _ component.Component = (*Server)(nil)

// Server is the admin HTTP server, backed by Gin with h2c so HTTP/2 clients
// work without TLS.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	orch       *orchestrator.Orchestrator
	config     Config
	log        *logger.Logger

	mu sync.Mutex
	ln net.Listener
}

// New creates the admin server over the given orchestrator and registers its
// routes.
func New(cfg Config, orch *orchestrator.Orchestrator, log *logger.Logger) *Server {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	h2s := &http2.Server{
		MaxConcurrentStreams: 250,
		IdleTimeout:          120 * time.Second,
	}
	handler := h2c.NewHandler(engine, h2s)

	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      handler,
			ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
			IdleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
		},
		engine: engine,
		orch:   orch,
		config: cfg,
		log:    log.WithComponent("server"),
	}

	engine.Use(recovery(s.log))
	engine.Use(requestID())
	engine.Use(requestLogger(s.log))
	s.registerRoutes()
	return s
}

// Handler returns the server's root handler, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Name implements component.Component.
func (s *Server) Name() string { return componentName }

// Start binds the port and begins serving. It returns once the listener is
// bound; serving continues in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("server error", logger.Fields(logger.FieldError, err.Error()))
		}
	}()

	s.log.Info("http server started", logger.Fields(logger.FieldAddr, ln.Addr().String()))
	return nil
}

// Stop gracefully shuts down the server with a 5-second deadline.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.mu.Lock()
	s.ln = nil
	s.mu.Unlock()

	s.log.Info("http server stopped")
	return nil
}

// Health implements component.Component.
func (s *Server) Health(ctx context.Context) component.Health {
	s.mu.Lock()
	listening := s.ln != nil
	s.mu.Unlock()

	if !listening {
		return component.Health{Name: componentName, Status: component.StatusUnhealthy, Message: "not listening"}
	}
	return component.Health{Name: componentName, Status: component.StatusHealthy}
}

// Addr returns the actual listen address once started, the configured
// address otherwise.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.httpServer.Addr
}
