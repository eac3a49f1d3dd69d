package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies embedded migrations in name order, each in its own
// transaction, and records them in schema_migrations so reruns skip them.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	files, err := migrationFiles(migrationsFS)
	if err != nil {
		return err
	}

	_, err = db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(
		name       text PRIMARY KEY,
		applied_at timestamptz NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := applyMigration(ctx, db, f); err != nil {
			return fmt.Errorf("migration %s failed: %w", f, err)
		}
	}
	return nil
}

func migrationFiles(fsys fs.ReadDirFS) ([]string, error) {
	entries, err := fsys.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, "migrations/"+e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func applyMigration(ctx context.Context, db *pgxpool.Pool, name string) error {
	sqlBytes, err := migrationsFS.ReadFile(name)
	if err != nil {
		return err
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var applied string
	err = tx.QueryRow(ctx, `SELECT name FROM schema_migrations WHERE name=$1 FOR UPDATE`, name).Scan(&applied)
	switch {
	case err == nil:
		return tx.Commit(ctx)
	case !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(name) VALUES($1)`, name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
