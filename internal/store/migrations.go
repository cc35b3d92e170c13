package store

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/hyperengineering/lakesync/migrations"
)

// RunMigrations applies lakesync's own bookkeeping-table migrations
// (cursors, outboxes, idempotency cache) via goose against the embedded
// migrations.FS. Synced data tables are not migrated here; EnsureTable
// creates and additively alters those at runtime from the schema.Registry.
func RunMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
