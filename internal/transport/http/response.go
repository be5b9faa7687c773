package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"meetbook/backend/internal/auth"
	"meetbook/backend/internal/domain"
)

func success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, gin.H{
		"success": true,
		"data":    data,
	})
}

func fail(c *gin.Context, statusCode int, code, message string) {
	c.AbortWithStatusJSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// failWith writes the envelope matching err. Messages of unexpected errors
// stay in the log.
func failWith(c *gin.Context, log *slog.Logger, err error, attrs ...any) {
	args := append([]any{slog.Any("err", err), slog.String("path", c.FullPath())}, attrs...)

	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", vErr.Error())
	case errors.Is(err, auth.ErrUnauthenticated):
		log.Warn("rejected credentials", args...)
		fail(c, http.StatusUnauthorized, "UNAUTHENTICATED", "The link has expired or is invalid.")
	case errors.Is(err, domain.ErrNotFound):
		fail(c, http.StatusNotFound, "NOT_FOUND", "Not found.")
	case errors.Is(err, domain.ErrSlotUnavailable):
		log.Info("slot unavailable", args...)
		fail(c, http.StatusConflict, "SLOT_UNAVAILABLE", "That time is no longer available. Please pick another time.")
	case errors.Is(err, domain.ErrInvalidTransition):
		log.Info("invalid transition", args...)
		fail(c, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, domain.ErrCalendarNotConfigured), errors.Is(err, domain.ErrCalendarNotConnected):
		log.Warn("calendar setup incomplete", args...)
		fail(c, http.StatusPreconditionFailed, "CALENDAR_NOT_CONFIGURED", "Online booking is not set up for this meeting type yet.")
	case domain.IsProviderError(err), errors.Is(err, context.DeadlineExceeded):
		log.Warn("calendar provider failed", args...)
		fail(c, http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", "The calendar service is unavailable. Try again.")
	default:
		log.Error("request failed", args...)
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error.")
	}
}
