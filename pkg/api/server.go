// Package api exposes the HTTP surface: REST submission and history
// endpoints, the WebSocket stream hub, and the SSE stream endpoint.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/bus"
	"github.com/testrig-ai/testrig/pkg/config"
	"github.com/testrig-ai/testrig/pkg/database"
	"github.com/testrig-ai/testrig/pkg/sandbox"
	"github.com/testrig-ai/testrig/pkg/services"
)

// Deps bundles what the server serves from. Store, Factory, Sandbox and DB
// are optional; endpoints needing a missing dependency respond accordingly.
type Deps struct {
	Config   *config.ServerConfig
	Bus      *bus.Bus
	Pipeline *services.PipelineService
	Store    *services.Store
	Factory  *agent.Factory
	Sandbox  *sandbox.Manager
	DB       *database.Client
}

// Server is the HTTP server over the pipeline and its history.
type Server struct {
	deps   Deps
	hub    *StreamHub
	sse    *SSEHub
	logger *slog.Logger
	http   *http.Server
}

// NewServer builds the server and its stream hubs.
func NewServer(deps Deps) *Server {
	if deps.Config == nil {
		deps.Config = config.DefaultServerConfig()
	}
	s := &Server{
		deps:   deps,
		hub:    NewStreamHub(deps.Pipeline, deps.Config.AllowedWSOrigins),
		sse:    NewSSEHub(),
		logger: slog.Default().With("component", "api-server"),
	}
	return s
}

// Router assembles the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestLogger(), recovery(), cors())

	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/parse", s.submitParse)
		v1.POST("/ui", s.submitUI)
		v1.POST("/executions", s.submitExecution)

		v1.GET("/sessions", s.listSessions)
		v1.GET("/sessions/:id", s.getSession)
		v1.POST("/sessions/:id/cancel", s.cancelSession)
		v1.GET("/sessions/:id/executions", s.listSessionExecutions)

		v1.GET("/executions/:id", s.getExecution)
		v1.GET("/executions/:id/report", s.getExecutionReport)
		v1.GET("/executions/:id/logs", s.getExecutionLogs)

		v1.GET("/documents/:id/endpoints", s.getDocumentEndpoints)
		v1.GET("/documents/:id/analysis", s.getDocumentAnalysis)
		v1.GET("/documents/:id/scripts", s.getDocumentScripts)
		v1.GET("/scripts/search", s.searchScripts)

		v1.GET("/system", s.systemInfo)
	}

	r.GET("/ws", s.hub.Handle)
	r.GET("/events", gin.WrapH(s.sse.Handler()))

	return r
}

// Start wires the stream hubs to the bus and begins serving. Blocks until
// the listener fails or Shutdown is called.
func (s *Server) Start() error {
	if err := s.hub.Start(s.deps.Bus); err != nil {
		return fmt.Errorf("start stream hub: %w", err)
	}
	if err := s.sse.Start(s.deps.Bus); err != nil {
		return fmt.Errorf("start sse hub: %w", err)
	}
	if s.deps.Pipeline != nil {
		if err := s.deps.Pipeline.Start(); err != nil {
			return fmt.Errorf("start pipeline service: %w", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", s.deps.Config.Host, s.deps.Config.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the stream hubs.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	s.sse.Close()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// health handles GET /health. Unauthenticated and minimal: only the server's
// own dependencies are checked.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	httpStatus := http.StatusOK
	checks := gin.H{}

	if s.deps.DB != nil {
		dbHealth, err := database.Health(ctx, s.deps.DB.DB())
		checks["database"] = dbHealth
		if err != nil {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	c.JSON(httpStatus, gin.H{
		"status": status,
		"checks": checks,
	})
}
