package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"meetbook/backend/internal/domain"
	"meetbook/backend/internal/store"
)

type bookingTx struct {
	tx bun.Tx
}

// InMeetingTypeTransaction serializes booking writes of one meeting type. On
// PostgreSQL a transaction-scoped advisory lock is taken; SQLite runs with a
// single connection, so transactions are already serialized.
func (s *Store) InMeetingTypeTransaction(ctx context.Context, meetingTypeID uuid.UUID, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockMeetingType(ctx, tx, meetingTypeID); err != nil {
			return err
		}
		return fn(ctx, bookingTx{tx: tx})
	})
}

func lockMeetingType(ctx context.Context, tx bun.Tx, meetingTypeID uuid.UUID) error {
	if !isPostgres(tx) {
		return nil
	}
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "meetbook:meeting_type:"+meetingTypeID.String()).Exec(ctx)
	return err
}

func (r bookingTx) ActiveBookings(ctx context.Context, meetingTypeID uuid.UUID, from, to time.Time) ([]domain.Booking, error) {
	return activeBookings(ctx, r.tx, meetingTypeID, from, to)
}

func (r bookingTx) CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	b.StartTime = b.StartTime.UTC()
	b.EndTime = b.EndTime.UTC()

	if _, err := r.tx.NewInsert().Model(&b).Exec(ctx); err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return domain.Booking{}, store.ErrConflict
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func (s *Store) GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := s.db.NewSelect().Model(&b).Where("id = ?", bookingID).Limit(1).Scan(ctx)
	if err != nil {
		return domain.Booking{}, notFound(err)
	}
	return b, nil
}

func (s *Store) GetBookingByToken(ctx context.Context, token string) (domain.Booking, error) {
	var b domain.Booking
	err := s.db.NewSelect().Model(&b).Where("cancellation_token = ?", token).Limit(1).Scan(ctx)
	if err != nil {
		return domain.Booking{}, notFound(err)
	}
	return b, nil
}

func (s *Store) ListBookings(ctx context.Context, f store.BookingFilter) ([]domain.Booking, error) {
	var rows []domain.Booking
	q := s.db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", f.TenantID)
	if f.MeetingTypeID != uuid.Nil {
		q = q.Where("meeting_type_id = ?", f.MeetingTypeID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if !f.From.IsZero() {
		q = q.Where("end_time > ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("start_time < ?", f.To.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.OrderExpr("start_time ASC, id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) ActiveBookings(ctx context.Context, meetingTypeID uuid.UUID, from, to time.Time) ([]domain.Booking, error) {
	return activeBookings(ctx, s.db, meetingTypeID, from, to)
}

func activeBookings(ctx context.Context, db bun.IDB, meetingTypeID uuid.UUID, from, to time.Time) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := db.NewSelect().
		Model(&rows).
		Where("meeting_type_id = ?", meetingTypeID).
		Where("status IN (?)", bun.In(domain.ActiveStatuses)).
		Where("start_time < ?", to.UTC()).
		Where("end_time > ?", from.UTC()).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) TransitionBooking(ctx context.Context, bookingID uuid.UUID, expected domain.BookingStatus, u store.BookingUpdate) (store.TransitionResult, error) {
	var out store.TransitionResult
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var b domain.Booking
		q := tx.NewSelect().Model(&b).Where("id = ?", bookingID).Limit(1)
		if isPostgres(tx) {
			q = q.For("UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			return notFound(err)
		}
		if b.Status != expected {
			return store.ErrConflict
		}

		now := time.Now().UTC()
		upd := tx.NewUpdate().
			Model((*domain.Booking)(nil)).
			Set("status = ?", u.Status).
			Set("updated_at = ?", now).
			Where("id = ?", bookingID).
			Where("status = ?", expected)
		if u.ClearExternalEventID {
			upd = upd.Set("external_event_id = NULL")
		}
		if u.CancellationReason != nil {
			upd = upd.Set("cancellation_reason = ?", *u.CancellationReason)
		}
		if u.HostNotes != nil {
			upd = upd.Set("host_notes = ?", *u.HostNotes)
		}

		res, err := upd.Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrConflict
		}

		out.PreviousExternalEventID = b.ExternalEventID
		b.Status = u.Status
		b.UpdatedAt = now
		if u.ClearExternalEventID {
			b.ExternalEventID = nil
		}
		if u.CancellationReason != nil {
			b.CancellationReason = u.CancellationReason
		}
		if u.HostNotes != nil {
			b.HostNotes = u.HostNotes
		}
		out.Booking = b
		return nil
	})
	if err != nil {
		return store.TransitionResult{}, err
	}
	return out, nil
}

func (s *Store) SetExternalEventID(ctx context.Context, bookingID uuid.UUID, eventID string) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*domain.Booking)(nil)).
		Set("external_event_id = ?", eventID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", bookingID).
		Where("status = ?", domain.BookingConfirmed).
		Where("external_event_id IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) ListConfirmedStartedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Booking, error) {
	var rows []domain.Booking
	q := s.db.NewSelect().
		Model(&rows).
		Where("status = ?", domain.BookingConfirmed).
		Where("start_time < ?", before.UTC()).
		OrderExpr("start_time ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}
