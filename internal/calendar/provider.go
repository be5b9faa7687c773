// Package calendar talks to the tenant's external calendar and dispatches
// booking side effects to it.
package calendar

import (
	"context"
	"errors"
	"time"

	"meetbook/backend/internal/domain"
)

var ErrEventNotFound = errors.New("calendar event not found")

type EventInput struct {
	Selector    string
	Summary     string
	Description string
	GuestName   string
	GuestEmail  string
	Start       time.Time
	End         time.Time
}

// Provider is the external calendar of a tenant. Implementations return
// domain.ErrCalendarNotConnected when the tenant has not granted access.
type Provider interface {
	ListCalendars(ctx context.Context, tenantID string) ([]domain.Calendar, error)
	QueryFreeBusy(ctx context.Context, tenantID, selector string, from, to time.Time) ([]domain.Interval, error)
	CreateEvent(ctx context.Context, tenantID string, in EventInput) (string, error)
	DeleteEvent(ctx context.Context, tenantID, selector, eventID string) error
}

// TokenStore persists the OAuth grant of each tenant.
type TokenStore interface {
	GetCalendarConnection(ctx context.Context, tenantID string) (domain.CalendarConnection, error)
	SaveCalendarConnection(ctx context.Context, conn domain.CalendarConnection) error
}

// DisabledProvider is used when no calendar integration is configured.
type DisabledProvider struct{}

func (DisabledProvider) ListCalendars(context.Context, string) ([]domain.Calendar, error) {
	return nil, domain.ErrCalendarNotConnected
}

func (DisabledProvider) QueryFreeBusy(context.Context, string, string, time.Time, time.Time) ([]domain.Interval, error) {
	return nil, domain.ErrCalendarNotConnected
}

func (DisabledProvider) CreateEvent(context.Context, string, EventInput) (string, error) {
	return "", domain.ErrCalendarNotConnected
}

func (DisabledProvider) DeleteEvent(context.Context, string, string, string) error {
	return domain.ErrCalendarNotConnected
}
