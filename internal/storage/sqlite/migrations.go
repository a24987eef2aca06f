package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/storage/sqlite/migrations"
)

// migration is one post-baseline schema change. Versions are assigned once
// and never reused; the list is append-only.
type migration struct {
	version int
	name    string
	apply   func(db *sql.DB) error
}

var allMigrations = []migration{
	{1, "scan_run_id_column", migrations.AddScanRunIDColumn},
	{2, "file_events_table", migrations.AddFileEventsTable},
}

// RunMigrations applies every unapplied migration in order. Each migration is
// individually idempotent, so a crash between apply and record just replays
// on the next open.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("error reading migration versions: %w", err)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("failed to close migration rows: %w", err)
	}

	for _, m := range allMigrations {
		if applied[m.version] {
			continue
		}
		if err := m.apply(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.version, idgen.Now()); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
	}
	return nil
}
