package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// getDocumentEndpoints handles GET /api/v1/documents/:id/endpoints.
func (s *Server) getDocumentEndpoints(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("document history not available"))
		return
	}
	endpoints, err := s.deps.Store.GetEndpoints(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints})
}

// getDocumentAnalysis handles GET /api/v1/documents/:id/analysis.
func (s *Server) getDocumentAnalysis(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("document history not available"))
		return
	}
	analysis, err := s.deps.Store.GetAnalysis(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// getDocumentScripts handles GET /api/v1/documents/:id/scripts.
func (s *Server) getDocumentScripts(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("document history not available"))
		return
	}
	scripts, err := s.deps.Store.ListScripts(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scripts": scripts})
}

// searchScripts handles GET /api/v1/scripts/search?q=<terms>. Full-text
// search over generated script content.
func (s *Server) searchScripts(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("script history not available"))
		return
	}
	terms := c.Query("q")
	if terms == "" {
		c.JSON(http.StatusBadRequest, errorBody("query parameter q is required"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	scripts, err := s.deps.Store.SearchScripts(c.Request.Context(), terms, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scripts": scripts})
}
