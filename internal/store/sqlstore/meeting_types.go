package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"meetbook/backend/internal/domain"
)

func (s *Store) CreateMeetingType(ctx context.Context, mt domain.MeetingType) (domain.MeetingType, error) {
	var out domain.MeetingType
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m := mt
		m.TemplateIDs = nil
		if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
			return err
		}
		if err := linkTemplates(ctx, tx, m.ID, mt.TemplateIDs); err != nil {
			return err
		}
		m.TemplateIDs = append([]uuid.UUID(nil), mt.TemplateIDs...)
		out = m
		return nil
	})
	if err != nil {
		return domain.MeetingType{}, err
	}
	return out, nil
}

// UpdateMeetingType rewrites the settings of a meeting type. Template
// assignments are changed with SetMeetingTypeTemplates.
func (s *Store) UpdateMeetingType(ctx context.Context, mt domain.MeetingType) (domain.MeetingType, error) {
	mt.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model(&mt).
		Column(
			"name",
			"duration_minutes",
			"buffer_before_minutes",
			"buffer_after_minutes",
			"requires_confirmation",
			"calendar_selector",
			"active",
			"updated_at",
		).
		Where("id = ?", mt.ID).
		Where("tenant_id = ?", mt.TenantID).
		Exec(ctx)
	if err != nil {
		return domain.MeetingType{}, err
	}
	if err := expectAffected(res); err != nil {
		return domain.MeetingType{}, err
	}
	return s.GetMeetingType(ctx, mt.ID)
}

func (s *Store) GetMeetingType(ctx context.Context, meetingTypeID uuid.UUID) (domain.MeetingType, error) {
	var mt domain.MeetingType
	err := s.db.NewSelect().
		Model(&mt).
		Where("id = ?", meetingTypeID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.MeetingType{}, notFound(err)
	}

	ids, err := templateIDs(ctx, s.db, meetingTypeID)
	if err != nil {
		return domain.MeetingType{}, err
	}
	mt.TemplateIDs = ids
	return mt, nil
}

func (s *Store) ListMeetingTypes(ctx context.Context, tenantID string) ([]domain.MeetingType, error) {
	var rows []domain.MeetingType
	err := s.db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenantID).
		OrderExpr("name ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		ids, err := templateIDs(ctx, s.db, rows[i].ID)
		if err != nil {
			return nil, err
		}
		rows[i].TemplateIDs = ids
	}
	return rows, nil
}

func (s *Store) SetMeetingTypeTemplates(ctx context.Context, meetingTypeID uuid.UUID, ids []uuid.UUID) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*domain.MeetingTypeTemplate)(nil)).
			Where("meeting_type_id = ?", meetingTypeID).
			Exec(ctx); err != nil {
			return err
		}
		return linkTemplates(ctx, tx, meetingTypeID, ids)
	})
}

func linkTemplates(ctx context.Context, tx bun.Tx, meetingTypeID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	rows := make([]domain.MeetingTypeTemplate, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		rows = append(rows, domain.MeetingTypeTemplate{MeetingTypeID: meetingTypeID, TemplateID: id})
	}
	_, err := tx.NewInsert().Model(&rows).Exec(ctx)
	return err
}

func templateIDs(ctx context.Context, db bun.IDB, meetingTypeID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := db.NewSelect().
		Model((*domain.MeetingTypeTemplate)(nil)).
		Column("template_id").
		Where("meeting_type_id = ?", meetingTypeID).
		OrderExpr("template_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
