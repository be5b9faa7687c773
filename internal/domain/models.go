package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AvailabilityTemplate struct {
	bun.BaseModel `bun:"table:availability_templates"`

	ID        uuid.UUID          `bun:"id,pk,type:uuid"`
	TenantID  string             `bun:"tenant_id,notnull"`
	Name      string             `bun:"name,notnull"`
	IsDefault bool               `bun:"is_default,notnull"`
	Active    bool               `bun:"active,notnull"`
	Rules     []AvailabilityRule `bun:"rel:has-many,join:id=template_id"`
	CreatedAt time.Time          `bun:"created_at,notnull"`
	UpdatedAt time.Time          `bun:"updated_at,notnull"`
}

func (t *AvailabilityTemplate) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stamp(query, &t.ID, &t.CreatedAt, &t.UpdatedAt)
}

// AvailabilityRule is one weekly window of a template. StartTime and EndTime
// are wall-clock "HH:MM" strings.
type AvailabilityRule struct {
	bun.BaseModel `bun:"table:availability_rules"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	TemplateID uuid.UUID `bun:"template_id,notnull,type:uuid"`
	DayOfWeek  int16     `bun:"day_of_week,notnull"`
	StartTime  string    `bun:"start_time,notnull"`
	EndTime    string    `bun:"end_time,notnull"`
}

func (r *AvailabilityRule) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok && r.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		r.ID = id
	}
	return nil
}

type MeetingType struct {
	bun.BaseModel `bun:"table:meeting_types"`

	ID                   uuid.UUID   `bun:"id,pk,type:uuid"`
	TenantID             string      `bun:"tenant_id,notnull"`
	Name                 string      `bun:"name,notnull"`
	DurationMinutes      int         `bun:"duration_minutes,notnull"`
	BufferBeforeMinutes  int         `bun:"buffer_before_minutes,notnull"`
	BufferAfterMinutes   int         `bun:"buffer_after_minutes,notnull"`
	RequiresConfirmation bool        `bun:"requires_confirmation,notnull"`
	CalendarSelector     string      `bun:"calendar_selector,nullzero"`
	Active               bool        `bun:"active,notnull"`
	TemplateIDs          []uuid.UUID `bun:"-"`
	CreatedAt            time.Time   `bun:"created_at,notnull"`
	UpdatedAt            time.Time   `bun:"updated_at,notnull"`
}

func (m *MeetingType) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stamp(query, &m.ID, &m.CreatedAt, &m.UpdatedAt)
}

func (m MeetingType) Duration() time.Duration {
	return time.Duration(m.DurationMinutes) * time.Minute
}

func (m MeetingType) BufferBefore() time.Duration {
	return time.Duration(m.BufferBeforeMinutes) * time.Minute
}

func (m MeetingType) BufferAfter() time.Duration {
	return time.Duration(m.BufferAfterMinutes) * time.Minute
}

type MeetingTypeTemplate struct {
	bun.BaseModel `bun:"table:meeting_type_templates"`

	MeetingTypeID uuid.UUID `bun:"meeting_type_id,pk,type:uuid"`
	TemplateID    uuid.UUID `bun:"template_id,pk,type:uuid"`
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID                 uuid.UUID     `bun:"id,pk,type:uuid"`
	MeetingTypeID      uuid.UUID     `bun:"meeting_type_id,notnull,type:uuid"`
	TenantID           string        `bun:"tenant_id,notnull"`
	GuestName          string        `bun:"guest_name,notnull"`
	GuestEmail         string        `bun:"guest_email,notnull"`
	GuestPhone         *string       `bun:"guest_phone"`
	Notes              string        `bun:"notes,notnull"`
	StartTime          time.Time     `bun:"start_time,notnull"`
	EndTime            time.Time     `bun:"end_time,notnull"`
	Status             BookingStatus `bun:"status,notnull"`
	ExternalEventID    *string       `bun:"external_event_id"`
	CancellationToken  string        `bun:"cancellation_token,notnull,unique"`
	CancellationReason *string       `bun:"cancellation_reason"`
	HostNotes          *string       `bun:"host_notes"`
	CreatedAt          time.Time     `bun:"created_at,notnull"`
	UpdatedAt          time.Time     `bun:"updated_at,notnull"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stamp(query, &b.ID, &b.CreatedAt, &b.UpdatedAt)
}

func (b Booking) Interval() Interval {
	return Interval{Start: b.StartTime, End: b.EndTime}
}

// CalendarConnection holds the OAuth token a tenant granted for its external
// calendar.
type CalendarConnection struct {
	bun.BaseModel `bun:"table:calendar_connections"`

	TenantID     string    `bun:"tenant_id,pk"`
	Provider     string    `bun:"provider,notnull"`
	AccessToken  string    `bun:"access_token,notnull"`
	RefreshToken string    `bun:"refresh_token,notnull"`
	TokenType    string    `bun:"token_type,notnull"`
	Expiry       time.Time `bun:"expiry,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull"`
}

func (c *CalendarConnection) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
	case *bun.UpdateQuery:
		c.UpdatedAt = now
	}
	return nil
}

func stamp(query bun.Query, id *uuid.UUID, createdAt, updatedAt *time.Time) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if *id == uuid.Nil {
			v, err := uuid.NewV7()
			if err != nil {
				return err
			}
			*id = v
		}
		if createdAt.IsZero() {
			*createdAt = now
		}
		if updatedAt.IsZero() {
			*updatedAt = now
		}
	case *bun.UpdateQuery:
		*updatedAt = now
	}
	return nil
}
