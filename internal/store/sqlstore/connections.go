package sqlstore

import (
	"context"

	"meetbook/backend/internal/domain"
)

func (s *Store) GetCalendarConnection(ctx context.Context, tenantID string) (domain.CalendarConnection, error) {
	var c domain.CalendarConnection
	err := s.db.NewSelect().Model(&c).Where("tenant_id = ?", tenantID).Limit(1).Scan(ctx)
	if err != nil {
		return domain.CalendarConnection{}, notFound(err)
	}
	return c, nil
}

// SaveCalendarConnection inserts or replaces the tenant's grant. A refresh
// that returns no new refresh token keeps the stored one.
func (s *Store) SaveCalendarConnection(ctx context.Context, conn domain.CalendarConnection) error {
	conn.Expiry = conn.Expiry.UTC()
	_, err := s.db.NewInsert().
		Model(&conn).
		On("CONFLICT (tenant_id) DO UPDATE").
		Set("provider = EXCLUDED.provider").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = CASE WHEN EXCLUDED.refresh_token = '' THEN ?TableAlias.refresh_token ELSE EXCLUDED.refresh_token END").
		Set("token_type = EXCLUDED.token_type").
		Set("expiry = EXCLUDED.expiry").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) DeleteCalendarConnection(ctx context.Context, tenantID string) error {
	res, err := s.db.NewDelete().
		Model((*domain.CalendarConnection)(nil)).
		Where("tenant_id = ?", tenantID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectAffected(res)
}
