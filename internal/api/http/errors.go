package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/GriffinCanCode/webviewrpc/internal/coordinator"
	"github.com/gin-gonic/gin"
)

// statusOf maps coordinator errors to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrUnregistered):
		return http.StatusGone
	case errors.Is(err, coordinator.ErrCapacity), errors.Is(err, coordinator.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, coordinator.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case coordinator.IsRemote(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var remote *coordinator.RemoteError
	if errors.As(err, &remote) {
		body["remote"] = remote.Text
	}
	c.JSON(statusOf(err), body)
}
