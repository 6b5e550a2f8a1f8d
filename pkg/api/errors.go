package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/testrig-ai/testrig/pkg/services"
)

// errorBody is the uniform error payload shape.
func errorBody(message string) gin.H {
	return gin.H{"error": message}
}

// respondServiceError maps service-layer errors to HTTP responses.
func respondServiceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	switch {
	case errors.As(err, &validErr):
		c.JSON(http.StatusBadRequest, errorBody(validErr.Error()))
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody("resource not found"))
	case errors.Is(err, services.ErrAlreadyExists):
		c.JSON(http.StatusConflict, errorBody("resource already exists"))
	case errors.Is(err, services.ErrAlreadyTerminal):
		c.JSON(http.StatusConflict, errorBody("execution already finished"))
	default:
		slog.Error("Unexpected service error", "error", err)
		c.JSON(http.StatusInternalServerError, errorBody("internal server error"))
	}
}
