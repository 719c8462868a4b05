package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	stdsql "database/sql"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// runMigrations applies embedded schema migrations using golang-migrate,
// then creates the full-text-search GIN index that isn't expressible as a
// plain migration-friendly DDL statement on its own (it must run after the
// messages table exists).
//
// Migration workflow mirrors the teacher: edit migrations/*.sql, commit,
// and the binary applies pending migrations on startup via the files
// embedded at compile time.
func runMigrations(ctx context.Context, db *stdsql.DB, databaseName string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("failed to check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found — binary may be built incorrectly")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the migration source driver, never m.Close() — that also
	// closes the database driver, which would call db.Close() before
	// createGINIndexes below runs on the same *sql.DB; newClient closes db
	// itself once runMigrations returns.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}

	if err := createGINIndexes(ctx, db); err != nil {
		return fmt.Errorf("failed to create GIN indexes: %w", err)
	}

	return nil
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return false, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && len(name) > 4 && name[len(name)-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}

// createGINIndexes creates the full-text search index over message content
// that the out-of-scope analytics reader (spec.md §1, §6) queries. Messages
// store content as jsonb; the index is built over its flattened text form.
func createGINIndexes(ctx context.Context, db *stdsql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_messages_content_gin
		 ON messages USING gin(to_tsvector('english', content::text))`)
	if err != nil {
		return fmt.Errorf("failed to create messages content GIN index: %w", err)
	}
	return nil
}
