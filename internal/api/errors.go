package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/boxingbuddies/engagement/internal/engagement"
)

// respondError maps domain errors onto HTTP statuses. Unrecognized
// errors become 500s with a generic body; the detail stays in the
// server log only.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engagement.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, engagement.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, engagement.ErrConflict):
		// Transient race lost its retry budget; the client may simply
		// try again.
		c.JSON(http.StatusConflict, gin.H{"error": "temporary conflict, retry"})
	case errors.Is(err, engagement.ErrTransientStore):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
	c.Error(err)
}
