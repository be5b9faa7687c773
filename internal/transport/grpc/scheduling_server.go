package grpc

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"meetbook/backend/internal/auth"
	"meetbook/backend/internal/availability"
	"meetbook/backend/internal/domain"
	"meetbook/backend/internal/service/booking"
	"meetbook/backend/internal/service/catalog"
	"meetbook/backend/internal/store"
)

type bookingService interface {
	ResolveAvailability(ctx context.Context, meetingTypeID uuid.UUID) (availability.Weekly, error)
	GetSlots(ctx context.Context, meetingTypeID uuid.UUID, date time.Time) ([]domain.Slot, error)
	GetSlotsRange(ctx context.Context, meetingTypeID uuid.UUID, from time.Time, days int) ([]booking.DaySlots, error)
	CreateBooking(ctx context.Context, in booking.CreateInput) (domain.Booking, error)
	GetBookingByToken(ctx context.Context, token string) (domain.Booking, error)
	CancelByToken(ctx context.Context, token, reason string) (domain.Booking, error)
	GetBooking(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (domain.Booking, error)
	ListBookings(ctx context.Context, actor domain.Actor, filter store.BookingFilter) ([]domain.Booking, error)
	Approve(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, hostNotes *string) (domain.Booking, error)
	Reject(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, hostNotes *string) (domain.Booking, error)
	Cancel(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, reason string, hostNotes *string) (domain.Booking, error)
	MarkCompleted(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
}

type catalogService interface {
	CreateTemplate(ctx context.Context, actor domain.Actor, in catalog.TemplateInput) (domain.AvailabilityTemplate, error)
	UpdateTemplate(ctx context.Context, actor domain.Actor, templateID uuid.UUID, in catalog.TemplateInput) (domain.AvailabilityTemplate, error)
	SetDefaultTemplate(ctx context.Context, actor domain.Actor, templateID uuid.UUID) error
	GetTemplate(ctx context.Context, actor domain.Actor, templateID uuid.UUID) (domain.AvailabilityTemplate, error)
	ListTemplates(ctx context.Context, actor domain.Actor) ([]domain.AvailabilityTemplate, error)
	CreateMeetingType(ctx context.Context, actor domain.Actor, in catalog.MeetingTypeInput) (domain.MeetingType, error)
	UpdateMeetingType(ctx context.Context, actor domain.Actor, meetingTypeID uuid.UUID, in catalog.MeetingTypeInput) (domain.MeetingType, error)
	GetMeetingType(ctx context.Context, actor domain.Actor, meetingTypeID uuid.UUID) (domain.MeetingType, error)
	ListMeetingTypes(ctx context.Context, actor domain.Actor) ([]domain.MeetingType, error)
	AssignTemplates(ctx context.Context, actor domain.Actor, meetingTypeID uuid.UUID, templateIDs []uuid.UUID) (domain.MeetingType, error)
	SelectCalendar(ctx context.Context, actor domain.Actor, meetingTypeID uuid.UUID, selector string) (domain.MeetingType, error)
	ListCalendars(ctx context.Context, actor domain.Actor) ([]domain.Calendar, error)
	CalendarAuthURL(actor domain.Actor, state string) (string, error)
	DisconnectCalendar(ctx context.Context, actor domain.Actor) error
}

type stateIssuer interface {
	IssueState(actor domain.Actor) (string, error)
}

// SchedulingServer implements meetbook.v1.SchedulingService. Guest methods
// are public; every other method needs an actor placed in the context by
// AuthInterceptor.
type SchedulingServer struct {
	bookings bookingService
	catalog  catalogService
	states   stateIssuer
	log      *slog.Logger
}

func NewSchedulingServer(bookings bookingService, admin catalogService, states stateIssuer, log *slog.Logger) *SchedulingServer {
	if log == nil {
		log = slog.Default()
	}
	return &SchedulingServer{
		bookings: bookings,
		catalog:  admin,
		states:   states,
		log:      log.With(slog.String("component", "grpc.scheduling")),
	}
}

func (s *SchedulingServer) GetSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "GetSlots"))

	var in slotsRequest
	if err := decode(req, &in); err != nil {
		return nil, statusError(log, err)
	}
	date, err := parseDate(in.Date)
	if err != nil {
		return nil, statusError(log, err)
	}

	slots, err := s.bookings.GetSlots(ctx, in.MeetingTypeID, date)
	if err != nil {
		return nil, statusError(log, err, slog.String("meeting_type_id", in.MeetingTypeID.String()))
	}
	return encode(map[string]any{"date": in.Date, "slots": toSlots(slots)})
}

func (s *SchedulingServer) GetSlotsRange(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "GetSlotsRange"))

	var in slotsRequest
	if err := decode(req, &in); err != nil {
		return nil, statusError(log, err)
	}
	from, err := parseDate(in.Date)
	if err != nil {
		return nil, statusError(log, err)
	}

	days, err := s.bookings.GetSlotsRange(ctx, in.MeetingTypeID, from, in.Days)
	if err != nil {
		return nil, statusError(log, err, slog.String("meeting_type_id", in.MeetingTypeID.String()))
	}
	return encode(map[string]any{"days": toDaySlots(days)})
}

func (s *SchedulingServer) ResolveAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ResolveAvailability"))

	var in meetingTypeRequest
	if err := decode(req, &in); err != nil {
		return nil, statusError(log, err)
	}
	week, err := s.bookings.ResolveAvailability(ctx, in.MeetingTypeID)
	if err != nil {
		return nil, statusError(log, err, slog.String("meeting_type_id", in.MeetingTypeID.String()))
	}
	return encode(map[string]any{"windows": toWindows(week)})
}

func (s *SchedulingServer) CreateBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "CreateBooking"))

	var in createBookingRequest
	if err := decode(req, &in); err != nil {
		return nil, statusError(log, err)
	}
	if in.StartTime.IsZero() {
		return nil, statusError(log, domain.NewValidationError("start_time is required"))
	}

	b, err := s.bookings.CreateBooking(ctx, booking.CreateInput{
		MeetingTypeID:  in.MeetingTypeID,
		GuestName:      in.GuestName,
		GuestEmail:     in.GuestEmail,
		GuestPhone:     in.GuestPhone,
		Notes:          in.Notes,
		StartTime:      in.StartTime,
		IdempotencyKey: idempotencyKey(ctx),
	})
	if err != nil {
		return nil, statusError(log, err,
			slog.String("meeting_type_id", in.MeetingTypeID.String()),
			slog.Time("start_time", in.StartTime),
		)
	}

	log.Info("booking created",
		slog.String("booking_id", b.ID.String()),
		slog.String("tenant_id", b.TenantID),
		slog.String("status", string(b.Status)),
		slog.Time("start_time", b.StartTime),
	)
	return encode(map[string]any{"booking": toBooking(b, true)})
}

func (s *SchedulingServer) GetBookingByToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "GetBookingByToken"))

	var in tokenRequest
	if err := decode(req, &in); err != nil {
		return nil, statusError(log, err)
	}
	b, err := s.bookings.GetBookingByToken(ctx, strings.TrimSpace(in.Token))
	if err != nil {
		return nil, statusError(log, err)
	}
	return encode(map[string]any{"booking": toBooking(b, false)})
}

func (s *SchedulingServer) CancelBookingByToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "CancelBookingByToken"))

	var in tokenRequest
	if err := decode(req, &in); err != nil {
		return nil, statusError(log, err)
	}
	b, err := s.bookings.CancelByToken(ctx, strings.TrimSpace(in.Token), in.Reason)
	if err != nil {
		return nil, statusError(log, err)
	}
	log.Info("booking cancelled by guest", slog.String("booking_id", b.ID.String()), slog.String("tenant_id", b.TenantID))
	return encode(map[string]any{"booking": toBooking(b, false)})
}

func (s *SchedulingServer) GetBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "GetBooking"))

	actor, in, err := adminRequest[bookingRequest](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	b, err := s.bookings.GetBooking(ctx, actor, in.BookingID)
	if err != nil {
		return nil, statusError(log, err, slog.String("booking_id", in.BookingID.String()))
	}
	return encode(map[string]any{"booking": toBooking(b, false)})
}

func (s *SchedulingServer) ListBookings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ListBookings"))

	actor, in, err := adminRequest[listBookingsRequest](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	filter := store.BookingFilter{Status: domain.BookingStatus(in.Status), Limit: in.Limit}
	if in.MeetingTypeID != nil {
		filter.MeetingTypeID = *in.MeetingTypeID
	}
	if in.From != nil {
		filter.From = *in.From
	}
	if in.To != nil {
		filter.To = *in.To
	}

	list, err := s.bookings.ListBookings(ctx, actor, filter)
	if err != nil {
		return nil, statusError(log, err, slog.String("tenant_id", actor.TenantID))
	}
	return encode(map[string]any{"bookings": toBookings(list)})
}

func (s *SchedulingServer) ApproveBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, req, "ApproveBooking", func(actor domain.Actor, in bookingRequest) (domain.Booking, error) {
		return s.bookings.Approve(ctx, actor, in.BookingID, in.HostNotes)
	})
}

func (s *SchedulingServer) RejectBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, req, "RejectBooking", func(actor domain.Actor, in bookingRequest) (domain.Booking, error) {
		return s.bookings.Reject(ctx, actor, in.BookingID, in.HostNotes)
	})
}

func (s *SchedulingServer) CancelBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, req, "CancelBooking", func(actor domain.Actor, in bookingRequest) (domain.Booking, error) {
		return s.bookings.Cancel(ctx, actor, in.BookingID, in.Reason, in.HostNotes)
	})
}

func (s *SchedulingServer) CompleteBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, req, "CompleteBooking", func(actor domain.Actor, in bookingRequest) (domain.Booking, error) {
		if _, err := s.bookings.GetBooking(ctx, actor, in.BookingID); err != nil {
			return domain.Booking{}, err
		}
		return s.bookings.MarkCompleted(ctx, in.BookingID)
	})
}

func (s *SchedulingServer) transition(ctx context.Context, req *structpb.Struct, rpc string, apply func(domain.Actor, bookingRequest) (domain.Booking, error)) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", rpc))

	actor, in, err := adminRequest[bookingRequest](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	b, err := apply(actor, in)
	if err != nil {
		return nil, statusError(log, err,
			slog.String("booking_id", in.BookingID.String()),
			slog.String("tenant_id", actor.TenantID),
		)
	}
	log.Info("booking updated",
		slog.String("booking_id", b.ID.String()),
		slog.String("tenant_id", b.TenantID),
		slog.String("status", string(b.Status)),
	)
	return encode(map[string]any{"booking": toBooking(b, false)})
}

func (s *SchedulingServer) CreateTemplate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "CreateTemplate"))

	actor, in, err := adminRequest[templateRequest](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	t, err := s.catalog.CreateTemplate(ctx, actor, catalog.TemplateInput{
		Name:      in.Name,
		IsDefault: in.IsDefault,
		Active:    in.Active,
		Rules:     fromRules(in.Rules),
	})
	if err != nil {
		return nil, statusError(log, err, slog.String("tenant_id", actor.TenantID))
	}
	return encode(map[string]any{"template": toTemplate(t)})
}

func (s *SchedulingServer) UpdateTemplate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "UpdateTemplate"))

	actor, in, err := adminRequest[templateRequest](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	t, err := s.catalog.UpdateTemplate(ctx, actor, in.TemplateID, catalog.TemplateInput{
		Name:   in.Name,
		Active: in.Active,
		Rules:  fromRules(in.Rules),
	})
	if err != nil {
		return nil, statusError(log, err, slog.String("template_id", in.TemplateID.String()))
	}
	return encode(map[string]any{"template": toTemplate(t)})
}

func (s *SchedulingServer) SetDefaultTemplate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "SetDefaultTemplate"))

	actor, in, err := adminRequest[templateRequest](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	if err := s.catalog.SetDefaultTemplate(ctx, actor, in.TemplateID); err != nil {
		return nil, statusError(log, err, slog.String("template_id", in.TemplateID.String()))
	}
	return encode(map[string]any{})
}

func (s *SchedulingServer) GetTemplate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "GetTemplate"))

	actor, in, err := adminRequest[templateRequest](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	t, err := s.catalog.GetTemplate(ctx, actor, in.TemplateID)
	if err != nil {
		return nil, statusError(log, err, slog.String("template_id", in.TemplateID.String()))
	}
	return encode(map[string]any{"template": toTemplate(t)})
}

func (s *SchedulingServer) ListTemplates(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ListTemplates"))

	actor, _, err := adminRequest[struct{}](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	list, err := s.catalog.ListTemplates(ctx, actor)
	if err != nil {
		return nil, statusError(log, err, slog.String("tenant_id", actor.TenantID))
	}
	out := make([]templateMsg, 0, len(list))
	for _, t := range list {
		out = append(out, toTemplate(t))
	}
	return encode(map[string]any{"templates": out})
}

func (s *SchedulingServer) CreateMeetingType(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "CreateMeetingType"))

	actor, in, err := adminRequest[meetingTypeWriteRequest](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	mt, err := s.catalog.CreateMeetingType(ctx, actor, meetingTypeInput(in))
	if err != nil {
		return nil, statusError(log, err, slog.String("tenant_id", actor.TenantID))
	}
	return encode(map[string]any{"meeting_type": toMeetingType(mt)})
}

func (s *SchedulingServer) UpdateMeetingType(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "UpdateMeetingType"))

	actor, in, err := adminRequest[meetingTypeWriteRequest](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	mt, err := s.catalog.UpdateMeetingType(ctx, actor, in.MeetingTypeID, meetingTypeInput(in))
	if err != nil {
		return nil, statusError(log, err, slog.String("meeting_type_id", in.MeetingTypeID.String()))
	}
	return encode(map[string]any{"meeting_type": toMeetingType(mt)})
}

func (s *SchedulingServer) GetMeetingType(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "GetMeetingType"))

	actor, in, err := adminRequest[meetingTypeRequest](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	mt, err := s.catalog.GetMeetingType(ctx, actor, in.MeetingTypeID)
	if err != nil {
		return nil, statusError(log, err, slog.String("meeting_type_id", in.MeetingTypeID.String()))
	}
	return encode(map[string]any{"meeting_type": toMeetingType(mt)})
}

func (s *SchedulingServer) ListMeetingTypes(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ListMeetingTypes"))

	actor, _, err := adminRequest[struct{}](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	list, err := s.catalog.ListMeetingTypes(ctx, actor)
	if err != nil {
		return nil, statusError(log, err, slog.String("tenant_id", actor.TenantID))
	}
	out := make([]meetingTypeMsg, 0, len(list))
	for _, mt := range list {
		out = append(out, toMeetingType(mt))
	}
	return encode(map[string]any{"meeting_types": out})
}

func (s *SchedulingServer) AssignTemplates(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "AssignTemplates"))

	actor, in, err := adminRequest[meetingTypeWriteRequest](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	mt, err := s.catalog.AssignTemplates(ctx, actor, in.MeetingTypeID, in.TemplateIDs)
	if err != nil {
		return nil, statusError(log, err, slog.String("meeting_type_id", in.MeetingTypeID.String()))
	}
	return encode(map[string]any{"meeting_type": toMeetingType(mt)})
}

func (s *SchedulingServer) SelectCalendar(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "SelectCalendar"))

	actor, in, err := adminRequest[meetingTypeWriteRequest](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	mt, err := s.catalog.SelectCalendar(ctx, actor, in.MeetingTypeID, in.CalendarSelector)
	if err != nil {
		return nil, statusError(log, err, slog.String("meeting_type_id", in.MeetingTypeID.String()))
	}
	return encode(map[string]any{"meeting_type": toMeetingType(mt)})
}

func (s *SchedulingServer) ListCalendars(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ListCalendars"))

	actor, _, err := adminRequest[struct{}](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	cals, err := s.catalog.ListCalendars(ctx, actor)
	if err != nil {
		return nil, statusError(log, err, slog.String("tenant_id", actor.TenantID))
	}
	if cals == nil {
		cals = []domain.Calendar{}
	}
	return encode(map[string]any{"calendars": cals})
}

// CalendarAuthURL returns the provider consent page. The OAuth state is a
// short-lived token naming the tenant, checked again on the callback.
func (s *SchedulingServer) CalendarAuthURL(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "CalendarAuthURL"))

	actor, _, err := adminRequest[struct{}](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	state, err := s.states.IssueState(actor)
	if err != nil {
		return nil, statusError(log, err, slog.String("tenant_id", actor.TenantID))
	}
	url, err := s.catalog.CalendarAuthURL(actor, state)
	if err != nil {
		return nil, statusError(log, err, slog.String("tenant_id", actor.TenantID))
	}
	return encode(map[string]any{"url": url})
}

func (s *SchedulingServer) DisconnectCalendar(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "DisconnectCalendar"))

	actor, _, err := adminRequest[struct{}](ctx, req)
	if err != nil {
		return nil, statusError(log, err)
	}
	if err := s.catalog.DisconnectCalendar(ctx, actor); err != nil {
		return nil, statusError(log, err, slog.String("tenant_id", actor.TenantID))
	}
	return encode(map[string]any{"disconnected": true})
}

func adminRequest[T any](ctx context.Context, req *structpb.Struct) (domain.Actor, T, error) {
	var in T
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, in, auth.ErrUnauthenticated
	}
	if err := decode(req, &in); err != nil {
		return domain.Actor{}, in, err
	}
	return actor, in, nil
}

func meetingTypeInput(in meetingTypeWriteRequest) catalog.MeetingTypeInput {
	return catalog.MeetingTypeInput{
		Name:                 in.Name,
		DurationMinutes:      in.DurationMinutes,
		BufferBeforeMinutes:  in.BufferBeforeMinutes,
		BufferAfterMinutes:   in.BufferAfterMinutes,
		RequiresConfirmation: in.RequiresConfirmation,
		Active:               in.Active,
		TemplateIDs:          in.TemplateIDs,
	}
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
