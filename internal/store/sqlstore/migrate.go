package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

type schemaMigration struct {
	bun.BaseModel `bun:"table:schema_migrations"`

	Version   string    `bun:"version,pk"`
	AppliedAt time.Time `bun:"applied_at,notnull"`
}

// Migrate applies the "-- +goose Up" section of every embedded migration of
// the database's dialect that has not run yet.
func Migrate(ctx context.Context, db *bun.DB) error {
	dir := "migrations/sqlite"
	if isPostgres(db) {
		dir = "migrations/postgres"
	}

	if _, err := db.NewCreateTable().Model((*schemaMigration)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrationFS, dir+"/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(path.Base(name), ".sql")
		applied, err := db.NewSelect().Model((*schemaMigration)(nil)).Where("version = ?", version).Exists(ctx)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if applied {
			continue
		}

		b, err := migrationFS.ReadFile(name)
		if err != nil {
			return err
		}
		upSQL, err := upSection(string(b))
		if err != nil {
			return fmt.Errorf("migration %s: %w", version, err)
		}

		err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			for _, stmt := range statements(upSQL) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("%w\n%s", err, stmt)
				}
			}
			_, err := tx.NewInsert().Model(&schemaMigration{Version: version, AppliedAt: time.Now().UTC()}).Exec(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
	}
	return nil
}

const (
	upMarker   = "-- +goose Up"
	downMarker = "-- +goose Down"
)

// upSection returns the statements between the Up marker and the Down marker
// (or the end of the file).
func upSection(migration string) (string, error) {
	_, rest, found := strings.Cut(migration, upMarker)
	if !found {
		return "", fmt.Errorf("no %q section", upMarker)
	}
	up, _, _ := strings.Cut(rest, downMarker)
	return strings.TrimSpace(up), nil
}

// statements splits a migration body on semicolons. Migrations must not use
// semicolons inside literals or function bodies.
func statements(body string) []string {
	var out []string
	for _, stmt := range strings.Split(body, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
