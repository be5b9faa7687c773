package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"meetbook/backend/internal/domain"
)

// BookingTx is the view of the booking tables inside a meeting type
// transaction.
type BookingTx interface {
	ActiveBookings(ctx context.Context, meetingTypeID uuid.UUID, from, to time.Time) ([]domain.Booking, error)
	// CreateBooking returns ErrConflict when an active booking already holds
	// the start time or the id is taken.
	CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error)
}
