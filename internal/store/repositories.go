package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"meetbook/backend/internal/domain"
)

type TemplateRepository interface {
	CreateTemplate(ctx context.Context, t domain.AvailabilityTemplate) (domain.AvailabilityTemplate, error)
	UpdateTemplate(ctx context.Context, t domain.AvailabilityTemplate) (domain.AvailabilityTemplate, error)
	SetDefaultTemplate(ctx context.Context, tenantID string, templateID uuid.UUID) error
	GetTemplate(ctx context.Context, tenantID string, templateID uuid.UUID) (domain.AvailabilityTemplate, error)
	ListTemplates(ctx context.Context, tenantID string) ([]domain.AvailabilityTemplate, error)
	// DefaultTemplate returns nil when the tenant has no default template.
	DefaultTemplate(ctx context.Context, tenantID string) (*domain.AvailabilityTemplate, error)
	TemplatesForMeetingType(ctx context.Context, meetingTypeID uuid.UUID) ([]domain.AvailabilityTemplate, error)
}

type MeetingTypeRepository interface {
	CreateMeetingType(ctx context.Context, mt domain.MeetingType) (domain.MeetingType, error)
	UpdateMeetingType(ctx context.Context, mt domain.MeetingType) (domain.MeetingType, error)
	GetMeetingType(ctx context.Context, meetingTypeID uuid.UUID) (domain.MeetingType, error)
	ListMeetingTypes(ctx context.Context, tenantID string) ([]domain.MeetingType, error)
	SetMeetingTypeTemplates(ctx context.Context, meetingTypeID uuid.UUID, templateIDs []uuid.UUID) error
}

type BookingFilter struct {
	TenantID      string
	MeetingTypeID uuid.UUID
	Status        domain.BookingStatus
	From          time.Time
	To            time.Time
	Limit         int
}

// BookingUpdate is applied together with a status change.
type BookingUpdate struct {
	Status               domain.BookingStatus
	ClearExternalEventID bool
	CancellationReason   *string
	HostNotes            *string
}

type TransitionResult struct {
	Booking                 domain.Booking
	PreviousExternalEventID *string
}

type BookingRepository interface {
	// InMeetingTypeTransaction runs fn in a transaction that holds the
	// meeting type's booking lock until commit.
	InMeetingTypeTransaction(ctx context.Context, meetingTypeID uuid.UUID, fn func(ctx context.Context, tx BookingTx) error) error

	GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	GetBookingByToken(ctx context.Context, token string) (domain.Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]domain.Booking, error)
	ActiveBookings(ctx context.Context, meetingTypeID uuid.UUID, from, to time.Time) ([]domain.Booking, error)

	// TransitionBooking applies update only while the booking still has the
	// expected status. A status that changed meanwhile yields ErrConflict.
	TransitionBooking(ctx context.Context, bookingID uuid.UUID, expected domain.BookingStatus, update BookingUpdate) (TransitionResult, error)
	// SetExternalEventID records the event of a confirmed booking that has
	// none yet. It reports false when the booking no longer qualifies.
	SetExternalEventID(ctx context.Context, bookingID uuid.UUID, eventID string) (bool, error)
	ListConfirmedStartedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Booking, error)
}

type CalendarConnectionRepository interface {
	GetCalendarConnection(ctx context.Context, tenantID string) (domain.CalendarConnection, error)
	SaveCalendarConnection(ctx context.Context, conn domain.CalendarConnection) error
	DeleteCalendarConnection(ctx context.Context, tenantID string) error
}
