package store

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"
)

//go:embed migrations/001_initial_schema.sql
var initialSchemaSQL string

// schemaMigration is one versioned step of the database schema.
type schemaMigration struct {
	version int
	name    string
	sql     string
}

var schemaMigrations = []schemaMigration{
	{version: 1, name: "initial_schema", sql: initialSchemaSQL},
}

// applyMigrations brings the database up to the latest schema version. Each
// pending migration runs in its own transaction and is recorded in the
// schema_version table, so a partially applied step rolls back whole.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return storeErr("create schema_version", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&applied); err != nil {
		return storeErr("read schema_version", err)
	}

	for _, m := range schemaMigrations {
		if m.version <= applied {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m schemaMigration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin migration "+m.name, err)
	}
	for _, stmt := range sqlStatements(m.sql) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return storeErr("apply migration "+m.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
		_ = tx.Rollback()
		return storeErr("record migration "+m.name, err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit migration "+m.name, err)
	}
	return nil
}

// sqlStatements splits a migration script into executable statements,
// dropping comment-only and blank fragments.
func sqlStatements(script string) []string {
	var out []string
	for _, fragment := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(fragment); hasExecutableSQL(stmt) {
			out = append(out, stmt)
		}
	}
	return out
}

func hasExecutableSQL(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return true
		}
	}
	return false
}
