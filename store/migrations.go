package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate applies every DDL statement for schemaVersion that has not yet
// been recorded, inside a single write transaction. Migrations are
// forward-only and idempotent: re-running against an already-migrated
// database is a no-op (§6 "schema versioning is linear").
func (db *DB) migrate(ctx context.Context) error {
	return db.WriteTx(ctx, func(tx *sql.Tx) error {
		var applied int
		row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'`)
		if err := row.Scan(&applied); err != nil {
			return fmt.Errorf("checking schema_migrations presence: %w", err)
		}

		if applied == 0 {
			for _, stmt := range statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("applying schema statement: %w", err)
				}
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, schemaVersion); err != nil {
				return fmt.Errorf("recording schema version: %w", err)
			}
			return nil
		}

		var current int
		row = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
		if err := row.Scan(&current); err != nil {
			return fmt.Errorf("reading current schema version: %w", err)
		}
		if current >= schemaVersion {
			return nil
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying schema statement: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("recording schema version: %w", err)
		}
		return nil
	})
}
