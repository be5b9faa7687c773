package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"meetbook/backend/internal/service/booking"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue hands failed calendar writes to the worker. It satisfies
// booking.RetryQueue.
type Queue struct {
	client enqueuer
	log    *slog.Logger
}

func NewQueue(client enqueuer, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{client: client, log: log.With(slog.String("component", "worker.queue"))}
}

func (q *Queue) EnqueueCreateEvent(ctx context.Context, bookingID uuid.UUID) error {
	task, opts, err := NewCreateEventTask(bookingID)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task, opts, slog.String("booking_id", bookingID.String()))
}

func (q *Queue) EnqueueDeleteEvent(ctx context.Context, job booking.DeleteEventJob) error {
	task, opts, err := NewDeleteEventTask(job)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task, opts,
		slog.String("booking_id", job.BookingID.String()),
		slog.String("event_id", job.EventID),
	)
}

func (q *Queue) enqueue(ctx context.Context, task *asynq.Task, opts []asynq.Option, attrs ...any) error {
	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		q.log.DebugContext(ctx, "task already queued", append([]any{slog.String("type", task.Type())}, attrs...)...)
		return nil
	}
	if err != nil {
		return err
	}
	q.log.InfoContext(ctx, "task enqueued", append([]any{
		slog.String("type", task.Type()),
		slog.String("task_id", info.ID),
		slog.String("queue", info.Queue),
	}, attrs...)...)
	return nil
}

var _ booking.RetryQueue = (*Queue)(nil)
