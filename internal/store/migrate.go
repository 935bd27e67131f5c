package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"sort"
)

// Arbitrary key for pg_advisory_xact_lock; API replicas starting together
// apply each migration once.
const migrationLockKey = 0x76697369746d6170

// ApplyMigrations runs the *.up.sql files in dir that schema_migrations has
// not recorded, in file name order, one transaction per file.
func ApplyMigrations(ctx context.Context, db *sql.DB, dir string) error {
	return ApplyMigrationsFS(ctx, db, os.DirFS(dir))
}

func ApplyMigrationsFS(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}
	versions, err := upMigrations(fsys)
	if err != nil {
		return err
	}
	for _, version := range versions {
		if err := applyMigration(ctx, db, fsys, version); err != nil {
			return err
		}
	}
	return nil
}

func upMigrations(fsys fs.FS) ([]string, error) {
	names, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("list migrations: no *.up.sql files found")
	}
	sort.Strings(names)
	return names, nil
}

func applyMigration(ctx context.Context, db *sql.DB, fsys fs.FS, version string) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(migrationLockKey)); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}

	var done bool
	err = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&done)
	if err != nil {
		return fmt.Errorf("check migration %s: %w", version, err)
	}
	if done {
		return tx.Commit()
	}

	contents, err := fs.ReadFile(fsys, version)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}
	if _, err = tx.ExecContext(ctx, string(contents)); err != nil {
		return fmt.Errorf("execute migration %s: %w", version, err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, version); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}
