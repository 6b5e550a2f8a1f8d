package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/testrig-ai/testrig/pkg/version"
)

// systemInfo handles GET /api/v1/system: version plus agent, bus, collector
// and sandbox counters.
func (s *Server) systemInfo(c *gin.Context) {
	info := gin.H{
		"name":    version.AppName,
		"version": version.GitCommit,
	}
	if s.deps.Factory != nil {
		info["pipeline"] = s.deps.Factory.Metrics()
	}
	if s.deps.Sandbox != nil {
		info["sandbox"] = s.deps.Sandbox.Stats()
	}
	info["stream_clients"] = s.hub.ActiveConnections()

	c.JSON(http.StatusOK, info)
}
