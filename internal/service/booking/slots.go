package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"meetbook/backend/internal/availability"
	"meetbook/backend/internal/domain"
	"meetbook/backend/internal/slots"
)

const maxRangeDays = 31

type DaySlots struct {
	Date  time.Time     `json:"date"`
	Slots []domain.Slot `json:"slots"`
}

func (s *Service) ResolveAvailability(ctx context.Context, meetingTypeID uuid.UUID) (availability.Weekly, error) {
	mt, err := s.meetingType(ctx, meetingTypeID)
	if err != nil {
		return nil, err
	}
	return s.weekly(ctx, mt)
}

func (s *Service) weekly(ctx context.Context, mt domain.MeetingType) (availability.Weekly, error) {
	assigned, err := s.repo.TemplatesForMeetingType(ctx, mt.ID)
	if err != nil {
		return nil, err
	}
	var def *domain.AvailabilityTemplate
	if len(assigned) == 0 {
		def, err = s.repo.DefaultTemplate(ctx, mt.TenantID)
		if err != nil {
			return nil, err
		}
	}
	return availability.Resolve(availability.Select(assigned, def))
}

// GetSlots lists the bookable slots of one day. Busy data is looked up for
// the whole lookahead bucket containing the day, so consecutive days share
// one cached calendar query.
func (s *Service) GetSlots(ctx context.Context, meetingTypeID uuid.UUID, date time.Time) ([]domain.Slot, error) {
	mt, err := s.meetingType(ctx, meetingTypeID)
	if err != nil {
		return nil, err
	}
	if !mt.Active {
		return nil, domain.ErrNotFound
	}
	week, err := s.weekly(ctx, mt)
	if err != nil {
		return nil, err
	}

	day := domain.StartOfDay(date)
	windows := week.For(day)
	if len(windows) == 0 {
		return []domain.Slot{}, nil
	}

	from, to := s.bucket(day)
	busy, err := s.busyIntervals(ctx, mt, from, to)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.ActiveBookings(ctx, mt.ID, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}

	return s.generate(mt, day, windows, busy, existing), nil
}

// GetSlotsRange lists the slots of consecutive days from a single busy lookup
// covering all of them.
func (s *Service) GetSlotsRange(ctx context.Context, meetingTypeID uuid.UUID, from time.Time, days int) ([]DaySlots, error) {
	if days < 1 || days > maxRangeDays {
		return nil, domain.NewValidationError("days must be between 1 and %d", maxRangeDays)
	}
	mt, err := s.meetingType(ctx, meetingTypeID)
	if err != nil {
		return nil, err
	}
	if !mt.Active {
		return nil, domain.ErrNotFound
	}
	week, err := s.weekly(ctx, mt)
	if err != nil {
		return nil, err
	}

	first := domain.StartOfDay(from)
	end := first.AddDate(0, 0, days)
	busy, err := s.busyIntervals(ctx, mt, first, end)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.ActiveBookings(ctx, mt.ID, first, end)
	if err != nil {
		return nil, err
	}

	out := make([]DaySlots, 0, days)
	for day := first; day.Before(end); day = day.AddDate(0, 0, 1) {
		daySlots := []domain.Slot{}
		if windows := week.For(day); len(windows) > 0 {
			daySlots = s.generate(mt, day, windows, busy, existing)
		}
		out = append(out, DaySlots{Date: day, Slots: daySlots})
	}
	return out, nil
}

func (s *Service) generate(mt domain.MeetingType, day time.Time, windows []domain.TimeWindow, busy []domain.Interval, existing []domain.Booking) []domain.Slot {
	dayRange := domain.Interval{Start: day, End: day.Add(24 * time.Hour)}
	booked := make([]domain.Interval, 0, len(existing))
	for _, b := range existing {
		booked = append(booked, b.Interval())
	}
	out := slots.Generate(slots.Params{
		Date:         day,
		Windows:      windows,
		Busy:         slots.Within(busy, dayRange),
		Existing:     slots.Within(booked, dayRange),
		Duration:     mt.Duration(),
		BufferBefore: mt.BufferBefore(),
		BufferAfter:  mt.BufferAfter(),
		Now:          s.now(),
	})
	if out == nil {
		return []domain.Slot{}
	}
	return out
}

// busyIntervals reads through the cache. A meeting type without a calendar
// has no external busy time.
func (s *Service) busyIntervals(ctx context.Context, mt domain.MeetingType, from, to time.Time) ([]domain.Interval, error) {
	if mt.CalendarSelector == "" {
		return nil, nil
	}
	return s.busy.BusyIntervals(ctx, mt.TenantID, mt.CalendarSelector, from, to)
}

// bucket returns the lookahead range containing day. Buckets are aligned on
// the Unix epoch so that every day maps to the same cache key.
func (s *Service) bucket(day time.Time) (time.Time, time.Time) {
	size := int64(s.opts.LookaheadDays)
	index := day.Unix() / 86400
	if index < 0 {
		index -= size - 1
	}
	start := time.Unix((index/size)*size*86400, 0).UTC()
	return start, start.AddDate(0, 0, s.opts.LookaheadDays)
}
