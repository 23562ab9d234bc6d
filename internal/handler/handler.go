package handler

import (
	"errors"
	"net/http"

	"github.com/Sarevi/farmafollow-sub000/internal/service"

	"github.com/gin-gonic/gin"
)

// respondError maps the service failure taxonomy onto HTTP status codes.
// Unclassified errors are persistence failures and never leak details.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
