// Package catalog administers the availability templates and meeting types of
// a tenant.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"meetbook/backend/internal/availability"
	"meetbook/backend/internal/domain"
	"meetbook/backend/internal/store"
)

type Repository interface {
	store.TemplateRepository
	store.MeetingTypeRepository
	store.CalendarConnectionRepository
}

// Calendars lists a tenant's calendars, normally through the busy cache.
type Calendars interface {
	Calendars(ctx context.Context, tenantID string) ([]domain.Calendar, error)
	Invalidate(ctx context.Context, tenantID string) error
}

// Connector runs the OAuth grant of the calendar provider.
type Connector interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, tenantID, code string) error
}

type Service struct {
	repo      Repository
	calendars Calendars
	connector Connector
	log       *slog.Logger
}

// NewService builds the catalog. connector may be nil when no calendar
// provider is configured.
func NewService(repo Repository, calendars Calendars, connector Connector, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:      repo,
		calendars: calendars,
		connector: connector,
		log:       log.With(slog.String("component", "catalog")),
	}
}

type TemplateInput struct {
	Name      string
	IsDefault bool
	Active    bool
	Rules     []domain.AvailabilityRule
}

func (s *Service) CreateTemplate(ctx context.Context, actor domain.Actor, in TemplateInput) (domain.AvailabilityTemplate, error) {
	if err := requireTenant(actor); err != nil {
		return domain.AvailabilityTemplate{}, err
	}
	name, err := validName(in.Name)
	if err != nil {
		return domain.AvailabilityTemplate{}, err
	}
	if err := availability.ValidateRules(in.Rules); err != nil {
		return domain.AvailabilityTemplate{}, err
	}

	t, err := s.repo.CreateTemplate(ctx, domain.AvailabilityTemplate{
		TenantID:  actor.TenantID,
		Name:      name,
		IsDefault: in.IsDefault,
		Active:    in.Active,
		Rules:     in.Rules,
	})
	if err != nil {
		return domain.AvailabilityTemplate{}, storeError(err)
	}
	s.log.InfoContext(ctx, "template created", slog.String("tenant_id", actor.TenantID), slog.String("template_id", t.ID.String()))
	return t, nil
}

// UpdateTemplate replaces the name, active flag and rules of a template. The
// default flag is changed with SetDefaultTemplate.
func (s *Service) UpdateTemplate(ctx context.Context, actor domain.Actor, templateID uuid.UUID, in TemplateInput) (domain.AvailabilityTemplate, error) {
	if err := requireTenant(actor); err != nil {
		return domain.AvailabilityTemplate{}, err
	}
	name, err := validName(in.Name)
	if err != nil {
		return domain.AvailabilityTemplate{}, err
	}
	if err := availability.ValidateRules(in.Rules); err != nil {
		return domain.AvailabilityTemplate{}, err
	}

	t, err := s.repo.UpdateTemplate(ctx, domain.AvailabilityTemplate{
		ID:       templateID,
		TenantID: actor.TenantID,
		Name:     name,
		Active:   in.Active,
		Rules:    in.Rules,
	})
	if err != nil {
		return domain.AvailabilityTemplate{}, storeError(err)
	}
	return t, nil
}

func (s *Service) SetDefaultTemplate(ctx context.Context, actor domain.Actor, templateID uuid.UUID) error {
	if err := requireTenant(actor); err != nil {
		return err
	}
	return storeError(s.repo.SetDefaultTemplate(ctx, actor.TenantID, templateID))
}

func (s *Service) GetTemplate(ctx context.Context, actor domain.Actor, templateID uuid.UUID) (domain.AvailabilityTemplate, error) {
	if err := requireTenant(actor); err != nil {
		return domain.AvailabilityTemplate{}, err
	}
	t, err := s.repo.GetTemplate(ctx, actor.TenantID, templateID)
	if err != nil {
		return domain.AvailabilityTemplate{}, storeError(err)
	}
	return t, nil
}

func (s *Service) ListTemplates(ctx context.Context, actor domain.Actor) ([]domain.AvailabilityTemplate, error) {
	if err := requireTenant(actor); err != nil {
		return nil, err
	}
	return s.repo.ListTemplates(ctx, actor.TenantID)
}

func requireTenant(actor domain.Actor) error {
	if actor.TenantID == "" {
		return domain.ErrNotFound
	}
	return nil
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.NewValidationError("name is required")
	}
	if len(name) > 120 {
		return "", domain.NewValidationError("name too long")
	}
	return name, nil
}

func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return domain.ErrNotFound
	case errors.Is(err, store.ErrConflict):
		return domain.NewValidationError("conflicting update, retry")
	default:
		return err
	}
}
