package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/testrig-ai/testrig/pkg/services"
)

// submitParse handles POST /api/v1/parse: start the API pipeline for a
// document.
func (s *Server) submitParse(c *gin.Context) {
	if s.deps.Pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("pipeline not available"))
		return
	}
	var req services.ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	sess, err := s.deps.Pipeline.SubmitParse(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sess)
}

// submitUI handles POST /api/v1/ui: start the UI script pipeline from a page
// analysis.
func (s *Server) submitUI(c *gin.Context) {
	if s.deps.Pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("pipeline not available"))
		return
	}
	var req services.UIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	sess, err := s.deps.Pipeline.SubmitUI(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sess)
}

// submitExecution handles POST /api/v1/executions: run already generated
// scripts.
func (s *Server) submitExecution(c *gin.Context) {
	if s.deps.Pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("pipeline not available"))
		return
	}
	var req services.ExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	sess, err := s.deps.Pipeline.SubmitExecution(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sess)
}
