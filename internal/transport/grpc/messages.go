package grpc

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"meetbook/backend/internal/availability"
	"meetbook/backend/internal/domain"
	"meetbook/backend/internal/service/booking"
)

const dateLayout = "2006-01-02"

// Messages travel as google.protobuf.Struct. Their fields use the JSON names
// declared on the types below.

type slotsRequest struct {
	MeetingTypeID uuid.UUID `json:"meeting_type_id"`
	Date          string    `json:"date"`
	Days          int       `json:"days"`
}

type meetingTypeRequest struct {
	MeetingTypeID uuid.UUID `json:"meeting_type_id"`
}

type createBookingRequest struct {
	MeetingTypeID uuid.UUID `json:"meeting_type_id"`
	GuestName     string    `json:"guest_name"`
	GuestEmail    string    `json:"guest_email"`
	GuestPhone    string    `json:"guest_phone"`
	Notes         string    `json:"notes"`
	StartTime     time.Time `json:"start_time"`
}

type tokenRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

type bookingRequest struct {
	BookingID uuid.UUID `json:"booking_id"`
	Reason    string    `json:"reason"`
	HostNotes *string   `json:"host_notes"`
}

type listBookingsRequest struct {
	MeetingTypeID *uuid.UUID `json:"meeting_type_id"`
	Status        string     `json:"status"`
	From          *time.Time `json:"from"`
	To            *time.Time `json:"to"`
	Limit         int        `json:"limit"`
}

type templateRequest struct {
	TemplateID uuid.UUID `json:"template_id"`
	Name       string    `json:"name"`
	IsDefault  bool      `json:"is_default"`
	Active     bool      `json:"active"`
	Rules      []ruleMsg `json:"rules"`
}

type meetingTypeWriteRequest struct {
	MeetingTypeID        uuid.UUID   `json:"meeting_type_id"`
	Name                 string      `json:"name"`
	DurationMinutes      int         `json:"duration_minutes"`
	BufferBeforeMinutes  int         `json:"buffer_before_minutes"`
	BufferAfterMinutes   int         `json:"buffer_after_minutes"`
	RequiresConfirmation bool        `json:"requires_confirmation"`
	Active               bool        `json:"active"`
	TemplateIDs          []uuid.UUID `json:"template_ids"`
	CalendarSelector     string      `json:"calendar_selector"`
}

type ruleMsg struct {
	DayOfWeek int16  `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type slotMsg struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type daySlotsMsg struct {
	Date  string    `json:"date"`
	Slots []slotMsg `json:"slots"`
}

type windowMsg struct {
	DayOfWeek int    `json:"day_of_week"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type bookingMsg struct {
	ID                 uuid.UUID  `json:"id"`
	MeetingTypeID      uuid.UUID  `json:"meeting_type_id"`
	GuestName          string     `json:"guest_name"`
	GuestEmail         string     `json:"guest_email"`
	GuestPhone         *string    `json:"guest_phone,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            time.Time  `json:"end_time"`
	Status             string     `json:"status"`
	ExternalEventID    *string    `json:"external_event_id,omitempty"`
	CancellationToken  string     `json:"cancellation_token,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	HostNotes          *string    `json:"host_notes,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}

type templateMsg struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	Active    bool      `json:"active"`
	Rules     []ruleMsg `json:"rules"`
}

type meetingTypeMsg struct {
	ID                   uuid.UUID   `json:"id"`
	Name                 string      `json:"name"`
	DurationMinutes      int         `json:"duration_minutes"`
	BufferBeforeMinutes  int         `json:"buffer_before_minutes"`
	BufferAfterMinutes   int         `json:"buffer_after_minutes"`
	RequiresConfirmation bool        `json:"requires_confirmation"`
	CalendarSelector     string      `json:"calendar_selector,omitempty"`
	Active               bool        `json:"active"`
	TemplateIDs          []uuid.UUID `json:"template_ids"`
}

func decode(req *structpb.Struct, v any) error {
	if req == nil {
		return domain.NewValidationError("request is required")
	}
	raw, err := protojson.Marshal(req)
	if err != nil {
		return domain.NewValidationError("malformed request: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.NewValidationError("malformed request: %v", err)
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, domain.NewValidationError("date must be YYYY-MM-DD")
	}
	return d, nil
}

func toSlots(in []domain.Slot) []slotMsg {
	out := make([]slotMsg, 0, len(in))
	for _, s := range in {
		out = append(out, slotMsg{Start: s.Start.UTC(), End: s.End.UTC()})
	}
	return out
}

func toDaySlots(in []booking.DaySlots) []daySlotsMsg {
	out := make([]daySlotsMsg, 0, len(in))
	for _, d := range in {
		out = append(out, daySlotsMsg{Date: d.Date.Format(dateLayout), Slots: toSlots(d.Slots)})
	}
	return out
}

func toWindows(week availability.Weekly) []windowMsg {
	days := make([]int, 0, len(week))
	for d := range week {
		days = append(days, int(d))
	}
	sort.Ints(days)

	out := []windowMsg{}
	for _, d := range days {
		for _, w := range week[time.Weekday(d)] {
			out = append(out, windowMsg{DayOfWeek: d, Start: w.Start.String(), End: w.End.String()})
		}
	}
	return out
}

func toBooking(b domain.Booking, withToken bool) bookingMsg {
	msg := bookingMsg{
		ID:                 b.ID,
		MeetingTypeID:      b.MeetingTypeID,
		GuestName:          b.GuestName,
		GuestEmail:         b.GuestEmail,
		GuestPhone:         b.GuestPhone,
		Notes:              b.Notes,
		StartTime:          b.StartTime.UTC(),
		EndTime:            b.EndTime.UTC(),
		Status:             string(b.Status),
		ExternalEventID:    b.ExternalEventID,
		CancellationReason: b.CancellationReason,
		HostNotes:          b.HostNotes,
		CreatedAt:          b.CreatedAt.UTC(),
	}
	if !b.UpdatedAt.IsZero() {
		u := b.UpdatedAt.UTC()
		msg.UpdatedAt = &u
	}
	if withToken {
		msg.CancellationToken = b.CancellationToken
	}
	return msg
}

func toBookings(in []domain.Booking) []bookingMsg {
	out := make([]bookingMsg, 0, len(in))
	for _, b := range in {
		out = append(out, toBooking(b, false))
	}
	return out
}

func toRules(in []domain.AvailabilityRule) []ruleMsg {
	out := make([]ruleMsg, 0, len(in))
	for _, r := range in {
		out = append(out, ruleMsg{DayOfWeek: r.DayOfWeek, StartTime: r.StartTime, EndTime: r.EndTime})
	}
	return out
}

func fromRules(in []ruleMsg) []domain.AvailabilityRule {
	out := make([]domain.AvailabilityRule, 0, len(in))
	for _, r := range in {
		out = append(out, domain.AvailabilityRule{DayOfWeek: r.DayOfWeek, StartTime: r.StartTime, EndTime: r.EndTime})
	}
	return out
}

func toTemplate(t domain.AvailabilityTemplate) templateMsg {
	return templateMsg{ID: t.ID, Name: t.Name, IsDefault: t.IsDefault, Active: t.Active, Rules: toRules(t.Rules)}
}

func toMeetingType(m domain.MeetingType) meetingTypeMsg {
	ids := m.TemplateIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return meetingTypeMsg{
		ID:                   m.ID,
		Name:                 m.Name,
		DurationMinutes:      m.DurationMinutes,
		BufferBeforeMinutes:  m.BufferBeforeMinutes,
		BufferAfterMinutes:   m.BufferAfterMinutes,
		RequiresConfirmation: m.RequiresConfirmation,
		CalendarSelector:     m.CalendarSelector,
		Active:               m.Active,
		TemplateIDs:          ids,
	}
}
