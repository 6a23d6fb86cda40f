package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RunMigrations applies every *.sql file under migrationsPath in lexical
// order, recording each one in schema_migrations so reruns are no-ops. The
// version row is claimed inside the same transaction that runs the SQL, so
// two binaries starting at once cannot apply a migration twice.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrationsPath string) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(migrationsPath, "*.sql"))
	if err != nil {
		return fmt.Errorf("glob migration files: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		applied, err := applyMigration(ctx, pool, f)
		if err != nil {
			return err
		}
		if applied {
			slog.Info("applied migration", "version", filepath.Base(f))
		}
	}
	return nil
}

// applyMigration runs one migration file transactionally. It reports false
// without touching the schema when the version is already recorded.
func applyMigration(ctx context.Context, pool *pgxpool.Pool, path string) (bool, error) {
	version := filepath.Base(path)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx for %s: %w", version, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING",
		version,
	)
	if err != nil {
		return false, fmt.Errorf("record migration %s: %w", version, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	sql, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", version, err)
	}
	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		return false, fmt.Errorf("execute migration %s: %w", version, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", version, err)
	}
	return true, nil
}
