package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// listSessions handles GET /api/v1/sessions. Live sessions come from the
// tracker; pass ?history=true to read persisted sessions instead.
func (s *Server) listSessions(c *gin.Context) {
	if c.Query("history") == "true" {
		if s.deps.Store == nil {
			c.JSON(http.StatusServiceUnavailable, errorBody("session history not available"))
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		sessions, err := s.deps.Store.ListSessions(c.Request.Context(), limit)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
		return
	}

	if s.deps.Pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("pipeline not available"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": s.deps.Pipeline.List()})
}

// getSession handles GET /api/v1/sessions/:id.
func (s *Server) getSession(c *gin.Context) {
	if s.deps.Pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("pipeline not available"))
		return
	}
	sess, err := s.deps.Pipeline.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// cancelSession handles POST /api/v1/sessions/:id/cancel.
func (s *Server) cancelSession(c *gin.Context) {
	if s.deps.Pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("pipeline not available"))
		return
	}
	sessionID := c.Param("id")
	if !s.deps.Pipeline.Cancel(sessionID) {
		c.JSON(http.StatusConflict, errorBody("session has no cancellable work"))
		return
	}
	s.logger.Info("Session cancel requested", "session_id", sessionID)
	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID, "status": "cancelling"})
}

// listSessionExecutions handles GET /api/v1/sessions/:id/executions.
func (s *Server) listSessionExecutions(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("execution history not available"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := s.deps.Store.ListExecutions(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": records})
}
