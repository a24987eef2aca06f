// Package migrations holds post-baseline schema changes. Each function is
// idempotent: it probes the live schema before altering it, so re-running a
// partially applied migration is safe.
package migrations

import (
	"database/sql"
	"fmt"
)

// AddScanRunIDColumn tags findings with the scan run that last touched them,
// which is what clean_stale_findings keys on.
func AddScanRunIDColumn(db *sql.DB) error {
	exists, err := columnExists(db, "scan_findings", "scan_run_id")
	if err != nil {
		return err
	}
	if !exists {
		if _, err := db.Exec(`ALTER TABLE scan_findings ADD COLUMN scan_run_id TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add scan_run_id column: %w", err)
		}
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_findings_run ON scan_findings(scan_source, scan_run_id)`); err != nil {
		return fmt.Errorf("failed to index scan_run_id: %w", err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (found bool, retErr error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to check %s schema: %w", table, err)
	}
	defer func() {
		if err := rows.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("failed to close schema rows: %w", err)
		}
	}()

	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dflt *string
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("failed to scan column info: %w", err)
		}
		if name == column {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("error reading column info: %w", err)
	}
	return found, nil
}
