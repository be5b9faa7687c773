package grpc

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"meetbook/backend/internal/auth"
	"meetbook/backend/internal/domain"
)

// statusError logs err at a level matching its kind and converts it to a
// gRPC status. Internal details never reach the caller.
func statusError(log *slog.Logger, err error, attrs ...any) error {
	args := append([]any{slog.Any("err", err)}, attrs...)

	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", args...)
		return status.Error(codes.InvalidArgument, vErr.Error())
	case errors.Is(err, auth.ErrUnauthenticated):
		log.Warn("unauthenticated request")
		return status.Error(codes.Unauthenticated, "authentication required")
	case errors.Is(err, domain.ErrNotFound):
		log.Info("not found", args...)
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, domain.ErrSlotUnavailable):
		log.Info("slot unavailable", args...)
		return status.Error(codes.FailedPrecondition, "That time is no longer available. Please pick another time.")
	case errors.Is(err, domain.ErrInvalidTransition):
		log.Info("invalid transition", args...)
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrCalendarNotConfigured):
		log.Warn("calendar not configured", args...)
		return status.Error(codes.FailedPrecondition, "This meeting type has no calendar configured. An administrator must select one.")
	case errors.Is(err, domain.ErrCalendarNotConnected):
		log.Warn("calendar not connected", args...)
		return status.Error(codes.FailedPrecondition, "No calendar is connected for this account.")
	case domain.IsProviderError(err):
		log.Warn("calendar provider failed", args...)
		return status.Error(codes.Unavailable, "The calendar service is unavailable. Try again.")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("deadline exceeded", args...)
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	default:
		log.Error("request failed", args...)
		return status.Error(codes.Internal, "internal error")
	}
}
