package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"meetbook/backend/internal/calendar"
	"meetbook/backend/internal/domain"
	"meetbook/backend/internal/notify"
	"meetbook/backend/internal/store"
)

const minCancellationReason = 10

// Approve confirms a pending booking and creates its calendar event.
func (s *Service) Approve(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, hostNotes *string) (domain.Booking, error) {
	b, err := s.ownedBooking(ctx, actor, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if _, err := Next(b.Status, EventApprove); err != nil {
		return domain.Booking{}, err
	}
	mt, err := s.meetingType(ctx, b.MeetingTypeID)
	if err != nil {
		return domain.Booking{}, err
	}
	if mt.CalendarSelector == "" {
		return domain.Booking{}, domain.ErrCalendarNotConfigured
	}

	res, err := s.transition(ctx, b, EventApprove, store.BookingUpdate{HostNotes: trimmed(hostNotes)})
	if err != nil {
		return domain.Booking{}, err
	}
	confirmed := s.createEvent(ctx, res.Booking, mt)
	s.invalidate(ctx, confirmed.TenantID)
	s.notify(ctx, confirmed, notify.SeverityInfo, "Booking confirmed", guestSummary(confirmed))
	return confirmed, nil
}

func (s *Service) Reject(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, hostNotes *string) (domain.Booking, error) {
	b, err := s.ownedBooking(ctx, actor, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	res, err := s.transition(ctx, b, EventReject, store.BookingUpdate{
		ClearExternalEventID: true,
		HostNotes:            trimmed(hostNotes),
	})
	if err != nil {
		return domain.Booking{}, err
	}
	s.afterRelease(ctx, res)
	s.notify(ctx, res.Booking, notify.SeverityInfo, "Booking rejected", guestSummary(res.Booking))
	return res.Booking, nil
}

// Cancel cancels a confirmed booking on behalf of the tenant.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, reason string, hostNotes *string) (domain.Booking, error) {
	b, err := s.ownedBooking(ctx, actor, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	update := store.BookingUpdate{
		ClearExternalEventID: true,
		HostNotes:            trimmed(hostNotes),
	}
	if r := strings.TrimSpace(reason); r != "" {
		update.CancellationReason = &r
	}
	res, err := s.transition(ctx, b, EventCancel, update)
	if err != nil {
		return domain.Booking{}, err
	}
	s.afterRelease(ctx, res)
	s.notify(ctx, res.Booking, notify.SeverityInfo, "Booking cancelled", guestSummary(res.Booking))
	return res.Booking, nil
}

// CancelByToken lets a guest cancel their own booking. It must happen more
// than the cancel cutoff before the start and carry a reason.
func (s *Service) CancelByToken(ctx context.Context, token, reason string) (domain.Booking, error) {
	if token == "" {
		return domain.Booking{}, domain.NewValidationError("token is required")
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > 2000 {
		return domain.Booking{}, domain.NewValidationError("reason too long")
	}

	b, err := s.repo.GetBookingByToken(ctx, token)
	if err != nil {
		return domain.Booking{}, storeError(err)
	}
	if _, err := Next(b.Status, EventGuestCancel); err != nil {
		return domain.Booking{}, err
	}
	if b.StartTime.Sub(s.now()) <= s.opts.CancelCutoff {
		return domain.Booking{}, domain.ErrInvalidTransition
	}
	if utf8.RuneCountInString(reason) < minCancellationReason {
		return domain.Booking{}, fmt.Errorf("%w: reason must be at least %d characters", domain.ErrInvalidTransition, minCancellationReason)
	}

	res, err := s.transition(ctx, b, EventGuestCancel, store.BookingUpdate{
		ClearExternalEventID: true,
		CancellationReason:   &reason,
	})
	if err != nil {
		return domain.Booking{}, err
	}
	s.afterRelease(ctx, res)
	s.notify(ctx, res.Booking, notify.SeverityWarning, "Booking cancelled by guest", guestSummary(res.Booking)+": "+reason)
	return res.Booking, nil
}

// MarkCompleted closes a confirmed booking whose start has passed.
func (s *Service) MarkCompleted(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, storeError(err)
	}
	if !b.StartTime.Before(s.now()) {
		return domain.Booking{}, domain.ErrInvalidTransition
	}
	res, err := s.transition(ctx, b, EventComplete, store.BookingUpdate{})
	if err != nil {
		return domain.Booking{}, err
	}
	return res.Booking, nil
}

// CompletePast marks up to limit started bookings completed and returns how
// many changed.
func (s *Service) CompletePast(ctx context.Context, limit int) (int, error) {
	started, err := s.repo.ListConfirmedStartedBefore(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, b := range started {
		_, err := s.transition(ctx, b, EventComplete, store.BookingUpdate{})
		if errors.Is(err, domain.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return done, err
		}
		done++
	}
	if done > 0 {
		s.log.InfoContext(ctx, "bookings completed", slog.Int("count", done))
	}
	return done, nil
}

// RetryCreateEvent creates the missing calendar event of a confirmed
// booking. Bookings that moved on or already have an event are left alone.
func (s *Service) RetryCreateEvent(ctx context.Context, bookingID uuid.UUID) error {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if b.Status != domain.BookingConfirmed || b.ExternalEventID != nil {
		return nil
	}
	mt, err := s.meetingType(ctx, b.MeetingTypeID)
	if err != nil {
		return err
	}
	if mt.CalendarSelector == "" {
		return domain.ErrCalendarNotConfigured
	}

	eventID, err := s.calendar.CreateEvent(ctx, calendar.EventRequestFor(b, mt))
	if err != nil {
		return err
	}
	recorded, err := s.repo.SetExternalEventID(ctx, b.ID, eventID)
	if err != nil || !recorded {
		s.deleteOrphan(ctx, b, mt.CalendarSelector, eventID)
		return err
	}
	s.log.InfoContext(ctx, "calendar event created on retry", slog.String("booking_id", b.ID.String()), slog.String("event_id", eventID))
	return nil
}

func (s *Service) RetryDeleteEvent(ctx context.Context, job DeleteEventJob) error {
	return s.calendar.CancelEvent(ctx, job.TenantID, job.Selector, job.EventID)
}

// transition applies a lifecycle event with a compare-and-set on the status
// the booking was read with.
func (s *Service) transition(ctx context.Context, b domain.Booking, event Event, update store.BookingUpdate) (store.TransitionResult, error) {
	to, err := Next(b.Status, event)
	if err != nil {
		return store.TransitionResult{}, err
	}
	update.Status = to
	res, err := s.repo.TransitionBooking(ctx, b.ID, b.Status, update)
	switch {
	case errors.Is(err, store.ErrConflict):
		return store.TransitionResult{}, domain.ErrInvalidTransition
	case err != nil:
		return store.TransitionResult{}, storeError(err)
	}
	s.log.InfoContext(ctx, "booking transitioned",
		slog.String("booking_id", b.ID.String()),
		slog.String("event", string(event)),
		slog.String("from", string(b.Status)),
		slog.String("to", string(to)),
	)
	return res, nil
}

// afterRelease runs once a booking stopped holding its slot: the event it
// referenced is deleted and the tenant's busy data refreshed.
func (s *Service) afterRelease(ctx context.Context, res store.TransitionResult) {
	if res.PreviousExternalEventID != nil {
		selector := ""
		if mt, err := s.repo.GetMeetingType(ctx, res.Booking.MeetingTypeID); err == nil {
			selector = mt.CalendarSelector
		}
		s.cancelEvent(ctx, DeleteEventJob{
			BookingID: res.Booking.ID,
			TenantID:  res.Booking.TenantID,
			Selector:  selector,
			EventID:   *res.PreviousExternalEventID,
		})
	}
	s.invalidate(ctx, res.Booking.TenantID)
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
