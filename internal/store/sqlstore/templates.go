package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"meetbook/backend/internal/domain"
	"meetbook/backend/internal/store"
)

func (s *Store) CreateTemplate(ctx context.Context, t domain.AvailabilityTemplate) (domain.AvailabilityTemplate, error) {
	var out domain.AvailabilityTemplate
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if t.IsDefault {
			if err := clearDefault(ctx, tx, t.TenantID); err != nil {
				return err
			}
		}

		m := domain.AvailabilityTemplate{
			ID:        t.ID,
			TenantID:  t.TenantID,
			Name:      t.Name,
			IsDefault: t.IsDefault,
			Active:    t.Active,
		}
		if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
			if _, ok := isUniqueViolation(err); ok {
				return store.ErrConflict
			}
			return err
		}
		if err := insertRules(ctx, tx, m.ID, t.Rules); err != nil {
			return err
		}

		got, err := getTemplate(ctx, tx, t.TenantID, m.ID)
		if err != nil {
			return err
		}
		out = got
		return nil
	})
	if err != nil {
		return domain.AvailabilityTemplate{}, err
	}
	return out, nil
}

// UpdateTemplate replaces the name, active flag and rules of a template.
func (s *Store) UpdateTemplate(ctx context.Context, t domain.AvailabilityTemplate) (domain.AvailabilityTemplate, error) {
	var out domain.AvailabilityTemplate
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*domain.AvailabilityTemplate)(nil)).
			Set("name = ?", t.Name).
			Set("active = ?", t.Active).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", t.ID).
			Where("tenant_id = ?", t.TenantID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if err := expectAffected(res); err != nil {
			return err
		}

		if _, err := tx.NewDelete().
			Model((*domain.AvailabilityRule)(nil)).
			Where("template_id = ?", t.ID).
			Exec(ctx); err != nil {
			return err
		}
		if err := insertRules(ctx, tx, t.ID, t.Rules); err != nil {
			return err
		}

		got, err := getTemplate(ctx, tx, t.TenantID, t.ID)
		if err != nil {
			return err
		}
		out = got
		return nil
	})
	if err != nil {
		return domain.AvailabilityTemplate{}, err
	}
	return out, nil
}

// SetDefaultTemplate makes the template the tenant's only default.
func (s *Store) SetDefaultTemplate(ctx context.Context, tenantID string, templateID uuid.UUID) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := getTemplate(ctx, tx, tenantID, templateID); err != nil {
			return err
		}
		if err := clearDefault(ctx, tx, tenantID); err != nil {
			return err
		}
		_, err := tx.NewUpdate().
			Model((*domain.AvailabilityTemplate)(nil)).
			Set("is_default = ?", true).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", templateID).
			Exec(ctx)
		return err
	})
}

func (s *Store) GetTemplate(ctx context.Context, tenantID string, templateID uuid.UUID) (domain.AvailabilityTemplate, error) {
	return getTemplate(ctx, s.db, tenantID, templateID)
}

func (s *Store) ListTemplates(ctx context.Context, tenantID string) ([]domain.AvailabilityTemplate, error) {
	var rows []domain.AvailabilityTemplate
	err := s.db.NewSelect().
		Model(&rows).
		Relation("Rules", orderRules).
		Where("tenant_id = ?", tenantID).
		OrderExpr("name ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) DefaultTemplate(ctx context.Context, tenantID string) (*domain.AvailabilityTemplate, error) {
	var t domain.AvailabilityTemplate
	err := s.db.NewSelect().
		Model(&t).
		Relation("Rules", orderRules).
		Where("tenant_id = ?", tenantID).
		Where("is_default = ?", true).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) TemplatesForMeetingType(ctx context.Context, meetingTypeID uuid.UUID) ([]domain.AvailabilityTemplate, error) {
	linked := s.db.NewSelect().
		Model((*domain.MeetingTypeTemplate)(nil)).
		Column("template_id").
		Where("meeting_type_id = ?", meetingTypeID)

	var rows []domain.AvailabilityTemplate
	err := s.db.NewSelect().
		Model(&rows).
		Relation("Rules", orderRules).
		Where("id IN (?)", linked).
		OrderExpr("name ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func getTemplate(ctx context.Context, db bun.IDB, tenantID string, templateID uuid.UUID) (domain.AvailabilityTemplate, error) {
	var t domain.AvailabilityTemplate
	err := db.NewSelect().
		Model(&t).
		Relation("Rules", orderRules).
		Where("id = ?", templateID).
		Where("tenant_id = ?", tenantID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.AvailabilityTemplate{}, notFound(err)
	}
	return t, nil
}

func orderRules(q *bun.SelectQuery) *bun.SelectQuery {
	return q.OrderExpr("day_of_week ASC, start_time ASC")
}

func clearDefault(ctx context.Context, tx bun.Tx, tenantID string) error {
	_, err := tx.NewUpdate().
		Model((*domain.AvailabilityTemplate)(nil)).
		Set("is_default = ?", false).
		Set("updated_at = ?", time.Now().UTC()).
		Where("tenant_id = ?", tenantID).
		Where("is_default = ?", true).
		Exec(ctx)
	return err
}

func insertRules(ctx context.Context, tx bun.Tx, templateID uuid.UUID, rules []domain.AvailabilityRule) error {
	if len(rules) == 0 {
		return nil
	}
	rows := make([]domain.AvailabilityRule, 0, len(rules))
	for _, r := range rules {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		rows = append(rows, domain.AvailabilityRule{
			ID:         id,
			TemplateID: templateID,
			DayOfWeek:  r.DayOfWeek,
			StartTime:  r.StartTime,
			EndTime:    r.EndTime,
		})
	}
	_, err := tx.NewInsert().Model(&rows).Exec(ctx)
	return err
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
