// Package booking reserves slots and drives bookings through their lifecycle.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"meetbook/backend/internal/calendar"
	"meetbook/backend/internal/domain"
	"meetbook/backend/internal/notify"
	"meetbook/backend/internal/store"
)

type Repository interface {
	store.BookingRepository
	GetMeetingType(ctx context.Context, meetingTypeID uuid.UUID) (domain.MeetingType, error)
	TemplatesForMeetingType(ctx context.Context, meetingTypeID uuid.UUID) ([]domain.AvailabilityTemplate, error)
	DefaultTemplate(ctx context.Context, tenantID string) (*domain.AvailabilityTemplate, error)
}

// BusySource is the busy-interval cache.
type BusySource interface {
	BusyIntervals(ctx context.Context, tenantID, selector string, from, to time.Time) ([]domain.Interval, error)
	FreshBusyIntervals(ctx context.Context, tenantID, selector string, from, to time.Time) ([]domain.Interval, error)
	Invalidate(ctx context.Context, tenantID string) error
}

// Calendar performs the external event side effects.
type Calendar interface {
	CreateEvent(ctx context.Context, req calendar.EventRequest) (string, error)
	CancelEvent(ctx context.Context, tenantID, selector, eventID string) error
}

// DeleteEventJob is an event deletion left to retry. The booking no longer
// references the event.
type DeleteEventJob struct {
	BookingID uuid.UUID `json:"booking_id"`
	TenantID  string    `json:"tenant_id"`
	Selector  string    `json:"selector"`
	EventID   string    `json:"event_id"`
}

// RetryQueue takes side effects that failed after the booking was committed.
type RetryQueue interface {
	EnqueueCreateEvent(ctx context.Context, bookingID uuid.UUID) error
	EnqueueDeleteEvent(ctx context.Context, job DeleteEventJob) error
}

type Options struct {
	// CancelCutoff is how long before the start a guest may still cancel.
	CancelCutoff time.Duration
	// LookaheadDays sizes the range fetched from the calendar per busy lookup.
	LookaheadDays int
	Now           func() time.Time
}

type Service struct {
	repo     Repository
	busy     BusySource
	calendar Calendar
	notifier notify.Notifier
	retries  RetryQueue
	opts     Options
	log      *slog.Logger
}

// NewService wires the booking engine. retries may be nil, in which case
// failed side effects are only logged.
func NewService(repo Repository, busy BusySource, cal Calendar, notifier notify.Notifier, retries RetryQueue, opts Options, log *slog.Logger) *Service {
	if opts.CancelCutoff <= 0 {
		opts.CancelCutoff = 24 * time.Hour
	}
	if opts.LookaheadDays <= 0 {
		opts.LookaheadDays = 14
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:     repo,
		busy:     busy,
		calendar: cal,
		notifier: notifier,
		retries:  retries,
		opts:     opts,
		log:      log.With(slog.String("component", "booking")),
	}
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

func (s *Service) meetingType(ctx context.Context, meetingTypeID uuid.UUID) (domain.MeetingType, error) {
	if meetingTypeID == uuid.Nil {
		return domain.MeetingType{}, domain.NewValidationError("meeting_type_id is required")
	}
	mt, err := s.repo.GetMeetingType(ctx, meetingTypeID)
	if err != nil {
		return domain.MeetingType{}, storeError(err)
	}
	return mt, nil
}

// ownedBooking loads a booking on behalf of an administrator. Bookings of
// other tenants are reported as missing.
func (s *Service) ownedBooking(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (domain.Booking, error) {
	if bookingID == uuid.Nil {
		return domain.Booking{}, domain.NewValidationError("booking_id is required")
	}
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, storeError(err)
	}
	if !actor.Owns(b.TenantID) {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *Service) GetBooking(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (domain.Booking, error) {
	return s.ownedBooking(ctx, actor, bookingID)
}

func (s *Service) ListBookings(ctx context.Context, actor domain.Actor, filter store.BookingFilter) ([]domain.Booking, error) {
	if actor.TenantID == "" {
		return nil, domain.ErrNotFound
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.NewValidationError("invalid status %q", filter.Status)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		return nil, domain.NewValidationError("to must be after from")
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 500
	}
	filter.TenantID = actor.TenantID
	return s.repo.ListBookings(ctx, filter)
}

// GetBookingByToken is the guest's view of a booking, found by its
// cancellation token.
func (s *Service) GetBookingByToken(ctx context.Context, token string) (domain.Booking, error) {
	if token == "" {
		return domain.Booking{}, domain.NewValidationError("token is required")
	}
	b, err := s.repo.GetBookingByToken(ctx, token)
	if err != nil {
		return domain.Booking{}, storeError(err)
	}
	return b, nil
}

func storeError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.ErrNotFound
	default:
		return err
	}
}

func (s *Service) notify(ctx context.Context, b domain.Booking, severity notify.Severity, title, body string) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Notify(ctx, notify.Notification{
		TenantID:  b.TenantID,
		BookingID: b.ID,
		Severity:  severity,
		Title:     title,
		Body:      body,
		SentAt:    s.now(),
	})
	if err != nil {
		s.log.WarnContext(ctx, "notification failed",
			slog.String("booking_id", b.ID.String()),
			slog.String("tenant_id", b.TenantID),
			slog.Any("err", err),
		)
	}
}

func (s *Service) invalidate(ctx context.Context, tenantID string) {
	if err := s.busy.Invalidate(ctx, tenantID); err != nil {
		s.log.WarnContext(ctx, "busy cache invalidation failed", slog.String("tenant_id", tenantID), slog.Any("err", err))
	}
}

// guestSummary is the one-line description used in notifications.
func guestSummary(b domain.Booking) string {
	return fmt.Sprintf("%s <%s> on %s", b.GuestName, b.GuestEmail, b.StartTime.UTC().Format("Mon 2 Jan 2006 15:04 MST"))
}
