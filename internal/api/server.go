// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the management HTTP surface: rule inspection,
// manual evaluation cycles, routing decisions, and health queries.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/unitygrid/sentinel/internal/alerting"
	"github.com/unitygrid/sentinel/internal/healing"
	"github.com/unitygrid/sentinel/internal/router"
)

// Server wires the gin engine over the healing engine and failover router.
type Server struct {
	engine *healing.Engine
	router *router.Router
	alerts *alerting.Manager

	httpServer *http.Server
}

// NewServer creates the management API server.
func NewServer(engine *healing.Engine, rt *router.Router, alerts *alerting.Manager) *Server {
	return &Server{
		engine: engine,
		router: rt,
		alerts: alerts,
	}
}

// Handler builds the gin handler tree. Exposed separately so tests can
// drive it with httptest without binding a port.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		h := v1.Group("/healing")
		{
			h.GET("/rules", s.handleRules)
			h.GET("/history", s.handleHistory)
			h.GET("/throttle", s.handleThrottle)
			h.POST("/evaluate", s.handleEvaluate)
		}
		rt := v1.Group("/routing")
		{
			rt.GET("/status", s.handleRoutingStatus)
			rt.GET("/actions", s.handleRoutingActions)
			rt.GET("/health/:host", s.handleHostHealth)
			rt.POST("/route", s.handleRoute)
		}
		v1.GET("/alerts", s.handleAlerts)
	}

	return r
}

// Run serves the API on addr until ctx is cancelled, then shuts down with a
// five second grace period.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Management API listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return <-errCh
	}
}

// handleRules returns the currently loaded (enabled) rules.
func (s *Server) handleRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": s.engine.Rules()})
}

// handleHistory returns per-rule execution history with remaining cooldowns.
func (s *Server) handleHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"history": s.engine.ExecutionHistory()})
}

// handleThrottle reports the current request throttle state.
func (s *Server) handleThrottle(c *gin.Context) {
	t := s.engine.Throttle()
	if t == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "throttle not configured"})
		return
	}
	c.JSON(http.StatusOK, t.State())
}

// handleEvaluate triggers one full evaluate-and-execute cycle and returns
// the executions of the rules that triggered.
func (s *Server) handleEvaluate(c *gin.Context) {
	results := s.engine.EvaluateAndExecute(c.Request.Context(), nil)
	c.JSON(http.StatusOK, gin.H{
		"triggered":  len(results),
		"executions": results,
	})
}

// handleRoutingStatus returns the failover state and parallel host probes.
func (s *Server) handleRoutingStatus(c *gin.Context) {
	if s.router == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "routing not configured"})
		return
	}
	c.JSON(http.StatusOK, s.router.RoutingStatus(c.Request.Context()))
}

// handleRoutingActions returns recent automated routing actions.
func (s *Server) handleRoutingActions(c *gin.Context) {
	if s.router == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "routing not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": s.router.Actions()})
}

// handleHostHealth probes one host by its key ("primary" or "secondary").
func (s *Server) handleHostHealth(c *gin.Context) {
	if s.router == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "routing not configured"})
		return
	}
	key := router.HostKey(c.Param("host"))
	if key != router.HostPrimary && key != router.HostSecondary {
		c.JSON(http.StatusBadRequest, gin.H{"error": "host must be primary or secondary"})
		return
	}
	c.JSON(http.StatusOK, s.router.CheckHostHealth(c.Request.Context(), key))
}

// RouteRequest is the body of POST /api/v1/routing/route.
type RouteRequest struct {
	Message        string `json:"message"`
	AutoRoute      bool   `json:"autoRoute"`
	TaskType       string `json:"taskType,omitempty"`
	PreferredModel string `json:"preferredModel,omitempty"`
}

// handleRoute resolves the model and host for a message.
func (s *Server) handleRoute(c *gin.Context) {
	if s.router == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "routing not configured"})
		return
	}
	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	result := s.router.RouteRequest(c.Request.Context(), req.Message, router.Options{
		AutoRoute:      req.AutoRoute,
		TaskType:       router.TaskType(req.TaskType),
		PreferredModel: req.PreferredModel,
	})
	c.JSON(http.StatusOK, result)
}

// handleAlerts returns recent alert history, newest last.
func (s *Server) handleAlerts(c *gin.Context) {
	if s.alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alerting not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": s.alerts.History()})
}
