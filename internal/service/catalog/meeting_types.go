package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"meetbook/backend/internal/domain"
	"meetbook/backend/internal/store"
)

const (
	minDuration = 5
	maxDuration = 480
	maxBuffer   = 120
)

type MeetingTypeInput struct {
	Name                 string
	DurationMinutes      int
	BufferBeforeMinutes  int
	BufferAfterMinutes   int
	RequiresConfirmation bool
	Active               bool
	TemplateIDs          []uuid.UUID
}

func (in MeetingTypeInput) validate() (string, error) {
	name, err := validName(in.Name)
	if err != nil {
		return "", err
	}
	if in.DurationMinutes < minDuration || in.DurationMinutes > maxDuration {
		return "", domain.NewValidationError("duration_minutes must be between %d and %d", minDuration, maxDuration)
	}
	if in.BufferBeforeMinutes < 0 || in.BufferBeforeMinutes > maxBuffer {
		return "", domain.NewValidationError("buffer_before_minutes must be between 0 and %d", maxBuffer)
	}
	if in.BufferAfterMinutes < 0 || in.BufferAfterMinutes > maxBuffer {
		return "", domain.NewValidationError("buffer_after_minutes must be between 0 and %d", maxBuffer)
	}
	return name, nil
}

func (s *Service) CreateMeetingType(ctx context.Context, actor domain.Actor, in MeetingTypeInput) (domain.MeetingType, error) {
	if err := requireTenant(actor); err != nil {
		return domain.MeetingType{}, err
	}
	name, err := in.validate()
	if err != nil {
		return domain.MeetingType{}, err
	}
	if err := s.checkTemplates(ctx, actor.TenantID, in.TemplateIDs); err != nil {
		return domain.MeetingType{}, err
	}

	mt, err := s.repo.CreateMeetingType(ctx, domain.MeetingType{
		TenantID:             actor.TenantID,
		Name:                 name,
		DurationMinutes:      in.DurationMinutes,
		BufferBeforeMinutes:  in.BufferBeforeMinutes,
		BufferAfterMinutes:   in.BufferAfterMinutes,
		RequiresConfirmation: in.RequiresConfirmation,
		Active:               in.Active,
		TemplateIDs:          in.TemplateIDs,
	})
	if err != nil {
		return domain.MeetingType{}, storeError(err)
	}
	s.log.InfoContext(ctx, "meeting type created", slog.String("tenant_id", actor.TenantID), slog.String("meeting_type_id", mt.ID.String()))
	return mt, nil
}

// UpdateMeetingType changes the settings of a meeting type. The calendar
// selector and template assignments have their own operations.
func (s *Service) UpdateMeetingType(ctx context.Context, actor domain.Actor, meetingTypeID uuid.UUID, in MeetingTypeInput) (domain.MeetingType, error) {
	current, err := s.GetMeetingType(ctx, actor, meetingTypeID)
	if err != nil {
		return domain.MeetingType{}, err
	}
	name, err := in.validate()
	if err != nil {
		return domain.MeetingType{}, err
	}

	current.Name = name
	current.DurationMinutes = in.DurationMinutes
	current.BufferBeforeMinutes = in.BufferBeforeMinutes
	current.BufferAfterMinutes = in.BufferAfterMinutes
	current.RequiresConfirmation = in.RequiresConfirmation
	current.Active = in.Active
	mt, err := s.repo.UpdateMeetingType(ctx, current)
	if err != nil {
		return domain.MeetingType{}, storeError(err)
	}
	return mt, nil
}

func (s *Service) GetMeetingType(ctx context.Context, actor domain.Actor, meetingTypeID uuid.UUID) (domain.MeetingType, error) {
	if err := requireTenant(actor); err != nil {
		return domain.MeetingType{}, err
	}
	mt, err := s.repo.GetMeetingType(ctx, meetingTypeID)
	if err != nil {
		return domain.MeetingType{}, storeError(err)
	}
	if !actor.Owns(mt.TenantID) {
		return domain.MeetingType{}, domain.ErrNotFound
	}
	return mt, nil
}

func (s *Service) ListMeetingTypes(ctx context.Context, actor domain.Actor) ([]domain.MeetingType, error) {
	if err := requireTenant(actor); err != nil {
		return nil, err
	}
	return s.repo.ListMeetingTypes(ctx, actor.TenantID)
}

// AssignTemplates replaces the templates of a meeting type. An empty list
// makes the meeting type fall back to the tenant default.
func (s *Service) AssignTemplates(ctx context.Context, actor domain.Actor, meetingTypeID uuid.UUID, templateIDs []uuid.UUID) (domain.MeetingType, error) {
	mt, err := s.GetMeetingType(ctx, actor, meetingTypeID)
	if err != nil {
		return domain.MeetingType{}, err
	}
	if err := s.checkTemplates(ctx, actor.TenantID, templateIDs); err != nil {
		return domain.MeetingType{}, err
	}
	if err := s.repo.SetMeetingTypeTemplates(ctx, mt.ID, templateIDs); err != nil {
		return domain.MeetingType{}, storeError(err)
	}
	return s.GetMeetingType(ctx, actor, mt.ID)
}

// SelectCalendar points a meeting type at one of the tenant's calendars. An
// empty selector detaches it.
func (s *Service) SelectCalendar(ctx context.Context, actor domain.Actor, meetingTypeID uuid.UUID, selector string) (domain.MeetingType, error) {
	mt, err := s.GetMeetingType(ctx, actor, meetingTypeID)
	if err != nil {
		return domain.MeetingType{}, err
	}

	selector = strings.TrimSpace(selector)
	if selector != "" {
		cals, err := s.calendars.Calendars(ctx, actor.TenantID)
		if err != nil {
			return domain.MeetingType{}, err
		}
		if !containsCalendar(cals, selector) {
			return domain.MeetingType{}, domain.NewValidationError("calendar %q is not available to this tenant", selector)
		}
	}

	mt.CalendarSelector = selector
	updated, err := s.repo.UpdateMeetingType(ctx, mt)
	if err != nil {
		return domain.MeetingType{}, storeError(err)
	}
	s.log.InfoContext(ctx, "calendar selected",
		slog.String("tenant_id", actor.TenantID),
		slog.String("meeting_type_id", mt.ID.String()),
		slog.String("selector", selector),
	)
	return updated, nil
}

func (s *Service) ListCalendars(ctx context.Context, actor domain.Actor) ([]domain.Calendar, error) {
	if err := requireTenant(actor); err != nil {
		return nil, err
	}
	return s.calendars.Calendars(ctx, actor.TenantID)
}

// CalendarAuthURL is where the tenant grants calendar access. state comes
// back unchanged on the OAuth callback.
func (s *Service) CalendarAuthURL(actor domain.Actor, state string) (string, error) {
	if err := requireTenant(actor); err != nil {
		return "", err
	}
	if s.connector == nil {
		return "", domain.NewValidationError("calendar integration is not configured")
	}
	return s.connector.AuthCodeURL(state), nil
}

// ConnectCalendar stores the grant obtained from an authorization code and
// drops cached calendar data of the tenant.
func (s *Service) ConnectCalendar(ctx context.Context, actor domain.Actor, code string) error {
	if err := requireTenant(actor); err != nil {
		return err
	}
	if s.connector == nil {
		return domain.NewValidationError("calendar integration is not configured")
	}
	if strings.TrimSpace(code) == "" {
		return domain.NewValidationError("code is required")
	}
	if err := s.connector.Exchange(ctx, actor.TenantID, code); err != nil {
		return domain.NewProviderError("exchange", err)
	}
	if err := s.calendars.Invalidate(ctx, actor.TenantID); err != nil {
		s.log.WarnContext(ctx, "busy cache invalidation failed", slog.String("tenant_id", actor.TenantID), slog.Any("err", err))
	}
	s.log.InfoContext(ctx, "calendar connected", slog.String("tenant_id", actor.TenantID))
	return nil
}

// DisconnectCalendar forgets the tenant's calendar grant. Meeting types keep
// their selector so a later reconnect restores them.
func (s *Service) DisconnectCalendar(ctx context.Context, actor domain.Actor) error {
	if err := requireTenant(actor); err != nil {
		return err
	}
	if err := s.repo.DeleteCalendarConnection(ctx, actor.TenantID); err != nil {
		return storeError(err)
	}
	if err := s.calendars.Invalidate(ctx, actor.TenantID); err != nil {
		s.log.WarnContext(ctx, "busy cache invalidation failed", slog.String("tenant_id", actor.TenantID), slog.Any("err", err))
	}
	s.log.InfoContext(ctx, "calendar disconnected", slog.String("tenant_id", actor.TenantID))
	return nil
}

func (s *Service) checkTemplates(ctx context.Context, tenantID string, ids []uuid.UUID) error {
	for _, id := range ids {
		_, err := s.repo.GetTemplate(ctx, tenantID, id)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewValidationError("template %s not found", id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func containsCalendar(cals []domain.Calendar, selector string) bool {
	for _, c := range cals {
		if c.ID == selector {
			return true
		}
	}
	return false
}
