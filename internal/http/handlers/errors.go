package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scorelend/backend/internal/domain/errs"
)

// lockRetryAfterSeconds is the Retry-After hint sent with lock_timeout.
const lockRetryAfterSeconds = "1"

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInsufficientScore):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrLockTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": code}. Internal errors are logged and
// never echoed to the client.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	code := errs.Code(err)
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", lockRetryAfterSeconds)
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "path", c.Request.URL.Path, "err", err)
	}
	c.JSON(status, gin.H{"error": code})
}
