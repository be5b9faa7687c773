package booking

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"meetbook/backend/internal/calendar"
	"meetbook/backend/internal/domain"
	"meetbook/backend/internal/notify"
	"meetbook/backend/internal/slots"
	"meetbook/backend/internal/store"
)

type CreateInput struct {
	MeetingTypeID  uuid.UUID
	GuestName      string
	GuestEmail     string
	GuestPhone     string
	Notes          string
	StartTime      time.Time
	IdempotencyKey string
}

// CreateBooking reserves the slot starting at StartTime. The slot is checked
// again against fresh calendar data and the stored bookings; the storage
// uniqueness guard settles concurrent requests for the same start.
func (s *Service) CreateBooking(ctx context.Context, in CreateInput) (domain.Booking, error) {
	b, err := s.newBooking(in)
	if err != nil {
		return domain.Booking{}, err
	}

	mt, err := s.meetingType(ctx, in.MeetingTypeID)
	if err != nil {
		return domain.Booking{}, err
	}
	if !mt.Active {
		return domain.Booking{}, domain.ErrNotFound
	}
	if !mt.RequiresConfirmation && mt.CalendarSelector == "" {
		return domain.Booking{}, domain.ErrCalendarNotConfigured
	}

	b.MeetingTypeID = mt.ID
	b.TenantID = mt.TenantID
	b.EndTime = b.StartTime.Add(mt.Duration())
	b.Status = domain.BookingConfirmed
	if mt.RequiresConfirmation {
		b.Status = domain.BookingPending
	}

	if b.ID != uuid.Nil {
		prior, found, err := s.replay(ctx, b)
		if err != nil || found {
			return prior, err
		}
	}

	day := domain.StartOfDay(b.StartTime)
	week, err := s.weekly(ctx, mt)
	if err != nil {
		return domain.Booking{}, err
	}
	windows := week.For(day)
	if len(windows) == 0 {
		return domain.Booking{}, domain.ErrSlotUnavailable
	}

	var busy []domain.Interval
	if mt.CalendarSelector != "" {
		busy, err = s.busy.FreshBusyIntervals(ctx, mt.TenantID, mt.CalendarSelector, day, day.Add(24*time.Hour))
		if err != nil {
			return domain.Booking{}, err
		}
	}

	var created domain.Booking
	err = s.repo.InMeetingTypeTransaction(ctx, mt.ID, func(ctx context.Context, tx store.BookingTx) error {
		existing, err := tx.ActiveBookings(ctx, mt.ID, day, day.Add(24*time.Hour))
		if err != nil {
			return err
		}
		offered := s.generate(mt, day, windows, busy, existing)
		if !slots.Contains(offered, b.StartTime, mt.Duration()) {
			return domain.ErrSlotUnavailable
		}
		created, err = tx.CreateBooking(ctx, b)
		return err
	})
	if errors.Is(err, store.ErrConflict) {
		err = domain.ErrSlotUnavailable
	}
	if errors.Is(err, domain.ErrSlotUnavailable) && b.ID != uuid.Nil {
		// The same key may have been committed by a concurrent request
		// after the replay check above.
		if prior, found, rerr := s.replay(ctx, b); rerr != nil || found {
			return prior, rerr
		}
	}
	if err != nil {
		return domain.Booking{}, err
	}

	s.log.InfoContext(ctx, "booking created",
		slog.String("booking_id", created.ID.String()),
		slog.String("tenant_id", created.TenantID),
		slog.String("status", string(created.Status)),
	)
	s.invalidate(ctx, created.TenantID)

	if created.Status == domain.BookingPending {
		s.notify(ctx, created, notify.SeverityInfo, "New booking pending your review", guestSummary(created))
		return created, nil
	}

	created = s.createEvent(ctx, created, mt)
	s.notify(ctx, created, notify.SeverityInfo, "Booking confirmed", guestSummary(created))
	return created, nil
}

func (s *Service) newBooking(in CreateInput) (domain.Booking, error) {
	name := strings.TrimSpace(in.GuestName)
	if name == "" {
		return domain.Booking{}, domain.NewValidationError("guest_name is required")
	}
	if len(name) > 200 {
		return domain.Booking{}, domain.NewValidationError("guest_name too long")
	}
	email := strings.TrimSpace(in.GuestEmail)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return domain.Booking{}, domain.NewValidationError("guest_email is invalid")
	}
	if len(in.Notes) > 2000 {
		return domain.Booking{}, domain.NewValidationError("notes too long")
	}
	if in.StartTime.IsZero() {
		return domain.Booking{}, domain.NewValidationError("start_time is required")
	}
	start := in.StartTime.UTC()
	if !start.Before(s.now().Add(366 * 24 * time.Hour)) {
		return domain.Booking{}, domain.NewValidationError("start_time too far in the future")
	}

	b := domain.Booking{
		GuestName:         name,
		GuestEmail:        email,
		Notes:             strings.TrimSpace(in.Notes),
		StartTime:         start,
		CancellationToken: newCancellationToken(),
	}
	if phone := strings.TrimSpace(in.GuestPhone); phone != "" {
		if len(phone) > 40 {
			return domain.Booking{}, domain.NewValidationError("guest_phone too long")
		}
		b.GuestPhone = &phone
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > 256 {
			return domain.Booking{}, domain.NewValidationError("idempotency_key too long")
		}
		b.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("meetbook:create_booking:"+in.MeetingTypeID.String()+":"+key))
	}
	return b, nil
}

// replay returns the booking an earlier request with the same idempotency key
// created.
func (s *Service) replay(ctx context.Context, b domain.Booking) (domain.Booking, bool, error) {
	prior, err := s.repo.GetBooking(ctx, b.ID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Booking{}, false, nil
	}
	if err != nil {
		return domain.Booking{}, false, err
	}
	if prior.MeetingTypeID != b.MeetingTypeID || prior.GuestEmail != b.GuestEmail || !prior.StartTime.Equal(b.StartTime) {
		return domain.Booking{}, false, domain.NewValidationError("idempotency_key was used for a different booking")
	}
	return prior, true, nil
}

// createEvent attempts the calendar event of a confirmed booking. A failure
// leaves the booking without an event and queues a retry.
func (s *Service) createEvent(ctx context.Context, b domain.Booking, mt domain.MeetingType) domain.Booking {
	eventID, err := s.calendar.CreateEvent(ctx, calendar.EventRequestFor(b, mt))
	if err != nil {
		s.log.WarnContext(ctx, "calendar event creation failed",
			slog.String("booking_id", b.ID.String()),
			slog.String("tenant_id", b.TenantID),
			slog.Any("err", err),
		)
		s.retryCreate(ctx, b)
		return b
	}

	recorded, err := s.repo.SetExternalEventID(ctx, b.ID, eventID)
	if err != nil {
		s.log.WarnContext(ctx, "record calendar event failed",
			slog.String("booking_id", b.ID.String()),
			slog.String("event_id", eventID),
			slog.Any("err", err),
		)
		s.deleteOrphan(ctx, b, mt.CalendarSelector, eventID)
		s.retryCreate(ctx, b)
		return b
	}
	if !recorded {
		// The booking left confirmed meanwhile or already has an event.
		s.deleteOrphan(ctx, b, mt.CalendarSelector, eventID)
		return b
	}
	b.ExternalEventID = &eventID
	return b
}

func (s *Service) deleteOrphan(ctx context.Context, b domain.Booking, selector, eventID string) {
	s.cancelEvent(ctx, DeleteEventJob{
		BookingID: b.ID,
		TenantID:  b.TenantID,
		Selector:  selector,
		EventID:   eventID,
	})
}

// cancelEvent deletes an event the booking no longer references. A failure
// is logged and queued for retry.
func (s *Service) cancelEvent(ctx context.Context, job DeleteEventJob) {
	err := s.calendar.CancelEvent(ctx, job.TenantID, job.Selector, job.EventID)
	if err == nil {
		return
	}
	s.log.WarnContext(ctx, "calendar event deletion failed",
		slog.String("booking_id", job.BookingID.String()),
		slog.String("tenant_id", job.TenantID),
		slog.String("event_id", job.EventID),
		slog.Any("err", err),
	)
	if s.retries == nil {
		return
	}
	if err := s.retries.EnqueueDeleteEvent(ctx, job); err != nil {
		s.log.ErrorContext(ctx, "enqueue event deletion failed", slog.String("booking_id", job.BookingID.String()), slog.Any("err", err))
	}
}

func (s *Service) retryCreate(ctx context.Context, b domain.Booking) {
	if s.retries == nil {
		return
	}
	if err := s.retries.EnqueueCreateEvent(ctx, b.ID); err != nil {
		s.log.ErrorContext(ctx, "enqueue event creation failed", slog.String("booking_id", b.ID.String()), slog.Any("err", err))
	}
}

func newCancellationToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
