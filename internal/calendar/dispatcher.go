package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"meetbook/backend/internal/domain"
)

// Invalidator drops cached busy data of a tenant.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

type EventRequest struct {
	TenantID          string
	MeetingTypeName   string
	Selector          string
	GuestName         string
	GuestEmail        string
	GuestPhone        string
	Interval          domain.Interval
	Notes             string
	CancellationToken string
}

// EventRequestFor describes the calendar event of a booking.
func EventRequestFor(b domain.Booking, mt domain.MeetingType) EventRequest {
	req := EventRequest{
		TenantID:          b.TenantID,
		MeetingTypeName:   mt.Name,
		Selector:          mt.CalendarSelector,
		GuestName:         b.GuestName,
		GuestEmail:        b.GuestEmail,
		Interval:          b.Interval(),
		Notes:             b.Notes,
		CancellationToken: b.CancellationToken,
	}
	if b.GuestPhone != nil {
		req.GuestPhone = *b.GuestPhone
	}
	return req
}

// Dispatcher performs the calendar side effects of booking transitions.
// Every provider failure comes back as *domain.ProviderError; callers decide
// whether it matters.
type Dispatcher struct {
	provider Provider
	cache    Invalidator
	baseURL  string
	timeout  time.Duration
	log      *slog.Logger
	tracer   trace.Tracer
}

func NewDispatcher(provider Provider, cache Invalidator, publicBaseURL string, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		provider: provider,
		cache:    cache,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		timeout:  timeout,
		log:      log.With(slog.String("component", "calendar.dispatcher")),
		tracer:   otel.Tracer("meetbook/backend/internal/calendar"),
	}
}

// CancellationLink is the guest-facing URL that cancels a booking.
func (d *Dispatcher) CancellationLink(token string) string {
	return d.baseURL + "/v1/bookings/cancel/" + token
}

func (d *Dispatcher) CreateEvent(ctx context.Context, req EventRequest) (string, error) {
	ctx, span := d.tracer.Start(ctx, "calendar.create_event", trace.WithAttributes(
		attribute.String("tenant_id", req.TenantID),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	eventID, err := d.provider.CreateEvent(callCtx, req.TenantID, EventInput{
		Selector:    req.Selector,
		Summary:     d.summary(req),
		Description: d.description(req),
		GuestName:   req.GuestName,
		GuestEmail:  req.GuestEmail,
		Start:       req.Interval.Start,
		End:         req.Interval.End,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", domain.NewProviderError("create_event", err)
	}

	d.invalidate(ctx, req.TenantID)
	return eventID, nil
}

// CancelEvent deletes an event. An event already gone upstream counts as
// deleted.
func (d *Dispatcher) CancelEvent(ctx context.Context, tenantID, selector, eventID string) error {
	ctx, span := d.tracer.Start(ctx, "calendar.cancel_event", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("event_id", eventID),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.provider.DeleteEvent(callCtx, tenantID, selector, eventID)
	if err != nil && !errors.Is(err, ErrEventNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.NewProviderError("delete_event", err)
	}

	d.invalidate(ctx, tenantID)
	return nil
}

func (d *Dispatcher) invalidate(ctx context.Context, tenantID string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Invalidate(ctx, tenantID); err != nil {
		d.log.WarnContext(ctx, "busy cache invalidation failed", slog.String("tenant_id", tenantID), slog.Any("err", err))
	}
}

func (d *Dispatcher) summary(req EventRequest) string {
	if req.MeetingTypeName == "" {
		return "Booking with " + req.GuestName
	}
	return req.MeetingTypeName + " with " + req.GuestName
}

func (d *Dispatcher) description(req EventRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Guest: %s <%s>\n", req.GuestName, req.GuestEmail)
	if req.GuestPhone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", req.GuestPhone)
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		fmt.Fprintf(&b, "\n%s\n", notes)
	}
	fmt.Fprintf(&b, "\nCancel this booking: %s\n", d.CancellationLink(req.CancellationToken))
	return b.String()
}
