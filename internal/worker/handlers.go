package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"meetbook/backend/internal/domain"
	"meetbook/backend/internal/service/booking"
)

// Processor is the part of the booking service the tasks drive.
type Processor interface {
	RetryCreateEvent(ctx context.Context, bookingID uuid.UUID) error
	RetryDeleteEvent(ctx context.Context, job booking.DeleteEventJob) error
	CompletePast(ctx context.Context, limit int) (int, error)
}

type handlers struct {
	svc Processor
	log *slog.Logger
}

func NewServeMux(svc Processor, log *slog.Logger) *asynq.ServeMux {
	if log == nil {
		log = slog.Default()
	}
	h := &handlers{svc: svc, log: log.With(slog.String("component", "worker"))}

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeCreateEvent, h.createEvent)
	mux.HandleFunc(TypeDeleteEvent, h.deleteEvent)
	mux.HandleFunc(TypeCompletePast, h.completePast)
	return mux
}

func (h *handlers) createEvent(ctx context.Context, task *asynq.Task) error {
	var p createEventPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil || p.BookingID == uuid.Nil {
		h.log.ErrorContext(ctx, "invalid payload", slog.String("type", task.Type()), slog.Any("err", err))
		return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
	}

	err := h.svc.RetryCreateEvent(ctx, p.BookingID)
	if err != nil {
		return h.failed(ctx, task, err, slog.String("booking_id", p.BookingID.String()))
	}
	return nil
}

func (h *handlers) deleteEvent(ctx context.Context, task *asynq.Task) error {
	var job booking.DeleteEventJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil || job.EventID == "" {
		h.log.ErrorContext(ctx, "invalid payload", slog.String("type", task.Type()), slog.Any("err", err))
		return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
	}

	if err := h.svc.RetryDeleteEvent(ctx, job); err != nil {
		return h.failed(ctx, task, err,
			slog.String("booking_id", job.BookingID.String()),
			slog.String("event_id", job.EventID),
		)
	}
	h.log.InfoContext(ctx, "calendar event deleted on retry", slog.String("booking_id", job.BookingID.String()), slog.String("event_id", job.EventID))
	return nil
}

func (h *handlers) completePast(ctx context.Context, task *asynq.Task) error {
	var p completePastPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
	}
	if p.Limit <= 0 {
		p.Limit = sweepBatch
	}
	n, err := h.svc.CompletePast(ctx, p.Limit)
	if err != nil {
		h.log.ErrorContext(ctx, "completion sweep failed", slog.Int("completed", n), slog.Any("err", err))
		return err
	}
	h.log.DebugContext(ctx, "completion sweep done", slog.Int("completed", n))
	return nil
}

// failed decides whether a calendar task is worth another attempt. Only
// provider failures are transient; anything else will fail the same way.
func (h *handlers) failed(ctx context.Context, task *asynq.Task, err error, attrs ...any) error {
	retry, _ := asynq.GetRetryCount(ctx)
	args := append([]any{slog.String("type", task.Type()), slog.Int("retry", retry), slog.Any("err", err)}, attrs...)

	if domain.IsProviderError(err) || errors.Is(err, context.DeadlineExceeded) {
		h.log.WarnContext(ctx, "calendar task failed, will retry", args...)
		return err
	}
	h.log.ErrorContext(ctx, "calendar task dropped", args...)
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}
