package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/orchestra/balancer"
	"github.com/kbukum/orchestra/component"
	"github.com/kbukum/orchestra/errors"
	"github.com/kbukum/orchestra/queue"
	"github.com/kbukum/orchestra/registry"
)

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	v1 := s.engine.Group("/v1")
	v1.GET("/services", s.handleListServices)
	v1.POST("/services", s.handleRegister)
	v1.DELETE("/services/:id", s.handleDeregister)
	v1.GET("/discover/:service", s.handleDiscover)
	v1.GET("/instances/:id/health", s.handleInstanceHealth)
	v1.POST("/messages", s.handleSendMessage)
	v1.GET("/deadletters", s.handleDeadLetters)
}

// respondError maps an AppError onto its HTTP status and structured body.
func respondError(c *gin.Context, err error) {
	c.JSON(errors.HTTPStatusOf(err), gin.H{"error": asAppError(err)})
}

func asAppError(err error) *errors.AppError {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return errors.Internal("internal server error", err)
}

type registerRequest struct {
	Service string `json:"service"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Weight  int    `json:"weight"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.InvalidRegistration("body", err.Error()))
		return
	}

	var opts []registry.RegisterOption
	if req.Weight > 0 {
		opts = append(opts, registry.WithWeight(req.Weight))
	}

	id, err := s.orch.Register(req.Service, req.Host, req.Port, opts...)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) handleDeregister(c *gin.Context) {
	if err := s.orch.Deregister(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": s.orch.Services()})
}

// handleDiscover resolves one healthy instance. The optional ?key= query
// parameter feeds the ip_hash strategy.
func (s *Server) handleDiscover(c *gin.Context) {
	var opts []balancer.PickOption
	if key := c.Query("key"); key != "" {
		opts = append(opts, balancer.WithHashKey(key))
	}

	ep, err := s.orch.Discover(c.Param("service"), opts...)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ep)
}

func (s *Server) handleInstanceHealth(c *gin.Context) {
	id := c.Param("id")
	status, err := s.orch.HealthStatus(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "health": status})
}

type sendMessageRequest struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Payload  json.RawMessage `json:"payload"`
	Priority int             `json:"priority"`
}

// handleSendMessage accepts a message for asynchronous delivery: 202 means
// queued, not delivered.
func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.InvalidRegistration("body", err.Error()))
		return
	}

	var opts []queue.MessageOption
	if req.Priority != 0 {
		opts = append(opts, queue.WithPriority(req.Priority))
	}

	id, err := s.orch.SendMessage(req.From, req.To, req.Payload, opts...)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) handleDeadLetters(c *gin.Context) {
	entries := s.orch.DeadLetters().List()
	c.JSON(http.StatusOK, gin.H{"dead_letters": entries, "count": len(entries)})
}

// handleHealth reports the orchestrator's aggregate health: 200 while it is
// at least degraded, 503 once it is down.
func (s *Server) handleHealth(c *gin.Context) {
	h := s.orch.Health(c.Request.Context())
	status := http.StatusOK
	if h.Status == component.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}
