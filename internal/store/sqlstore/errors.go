package sqlstore

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"meetbook/backend/internal/store"
)

// isUniqueViolation reports whether err is a unique or exclusion constraint
// failure. The constraint name is returned when the driver exposes it.
func isUniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" || pgErr.Code == "23P01" {
			return pgErr.ConstraintName, true
		}
		return "", false
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return constraintFromMessage(liteErr.Error()), true
		case sqlite3.SQLITE_CONSTRAINT:
			if strings.Contains(liteErr.Error(), "UNIQUE constraint failed") {
				return constraintFromMessage(liteErr.Error()), true
			}
		}
	}
	return "", false
}

// constraintFromMessage extracts "bookings.id" from
// "UNIQUE constraint failed: bookings.id".
func constraintFromMessage(msg string) string {
	const marker = "constraint failed: "
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return ""
	}
	after := msg[i+len(marker):]
	if i := strings.IndexAny(after, ", ("); i >= 0 {
		after = after[:i]
	}
	return after
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
