package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// getExecution handles GET /api/v1/executions/:id.
func (s *Server) getExecution(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("execution history not available"))
		return
	}
	record, err := s.deps.Store.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// getExecutionReport handles GET /api/v1/executions/:id/report.
func (s *Server) getExecutionReport(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("execution history not available"))
		return
	}
	report, err := s.deps.Store.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// getExecutionLogs handles GET /api/v1/executions/:id/logs with cursor
// pagination: ?after=<id>&limit=<n>.
func (s *Server) getExecutionLogs(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("execution history not available"))
		return
	}
	after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid after cursor"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))

	entries, err := s.deps.Store.ListExecutionLogs(c.Request.Context(), c.Param("id"), after, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	next := after
	if len(entries) > 0 {
		next = entries[len(entries)-1].ID
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries, "next_after": next})
}
