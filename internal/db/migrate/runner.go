// Package migrate applies the schema migrations embedded in internal/db.
package migrate

import (
	"errors"
	"fmt"

	"ghostauth/internal/db"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ErrNoChange reports that the schema is already at the target version.
var ErrNoChange = migrate.ErrNoChange

// Up applies all pending migrations.
func Up(dsn string) error {
	return run(dsn, (*migrate.Migrate).Up)
}

// Down rolls every migration back.
func Down(dsn string) error {
	return run(dsn, (*migrate.Migrate).Down)
}

func run(dsn string, apply func(*migrate.Migrate) error) error {
	if dsn == "" {
		return errors.New("DATABASE_URL is not set")
	}
	src, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	return apply(m)
}
