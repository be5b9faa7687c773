// Package worker runs the background side of the booking engine on asynq:
// retries of calendar writes that failed after a booking was committed, and
// the periodic sweep that completes past bookings.
package worker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"meetbook/backend/internal/service/booking"
)

const (
	TypeCreateEvent  = "calendar:create_event"
	TypeDeleteEvent  = "calendar:delete_event"
	TypeCompletePast = "booking:complete_past"

	QueueCalendar = "calendar"
	QueueDefault  = "default"
)

const (
	calendarMaxRetry = 10
	firstRetryDelay  = 30 * time.Second
	sweepBatch       = 200
)

type createEventPayload struct {
	BookingID uuid.UUID `json:"booking_id"`
}

type completePastPayload struct {
	Limit int `json:"limit"`
}

// NewCreateEventTask builds the retry of a booking's calendar event creation.
// The task id is derived from the booking so a booking has at most one
// pending creation.
func NewCreateEventTask(bookingID uuid.UUID) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(createEventPayload{BookingID: bookingID})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeCreateEvent, b)
	opts := []asynq.Option{
		asynq.Queue(QueueCalendar),
		asynq.MaxRetry(calendarMaxRetry),
		asynq.ProcessIn(firstRetryDelay),
		asynq.TaskID(fmt.Sprintf("%s:%s", TypeCreateEvent, bookingID)),
	}
	return task, opts, nil
}

func NewDeleteEventTask(job booking.DeleteEventJob) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeDeleteEvent, b)
	opts := []asynq.Option{
		asynq.Queue(QueueCalendar),
		asynq.MaxRetry(calendarMaxRetry),
		asynq.ProcessIn(firstRetryDelay),
		asynq.TaskID(fmt.Sprintf("%s:%s:%s", TypeDeleteEvent, job.TenantID, job.EventID)),
	}
	return task, opts, nil
}

func NewCompletePastTask(limit int) (*asynq.Task, error) {
	if limit <= 0 {
		limit = sweepBatch
	}
	b, err := json.Marshal(completePastPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCompletePast, b, asynq.Queue(QueueDefault), asynq.MaxRetry(0)), nil
}
