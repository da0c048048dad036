package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/gin-gonic/gin"
)

func writeError(c *gin.Context, err error) {
	writeMappedError(c, err, http.StatusInternalServerError)
}

// writePairingError treats unclassified failures as gateway trouble the client may retry.
func writePairingError(c *gin.Context, err error) {
	writeMappedError(c, err, http.StatusBadGateway)
}

func writeMappedError(c *gin.Context, err error, fallback int) {
	_ = c.Error(err)

	var gatewayErr *domain.GatewayError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "unavailable",
			"message": "request cancelled before pairing finished",
		})
	case errors.Is(err, domain.ErrInvalidPhone), errors.Is(err, domain.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.Is(err, domain.ErrInstanceNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "instance not found",
		})
	case errors.Is(err, domain.ErrInstanceConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "phone is paired under another owner",
		})
	case errors.Is(err, domain.ErrNoPairingPayload):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "no_pairing_payload",
			"message": err.Error(),
			"retry":   true,
		})
	case errors.As(err, &gatewayErr), fallback == http.StatusBadGateway:
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "gateway_error",
			"message": err.Error(),
			"retry":   true,
		})
	default:
		c.JSON(fallback, gin.H{
			"error":   "internal_error",
			"message": "internal server error",
		})
	}
}
