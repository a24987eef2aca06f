package migrations

import (
	"database/sql"
	"fmt"
)

// AddFileEventsTable records file metadata changes so the file timeline can
// show them alongside findings and associations.
func AddFileEventsTable(db *sql.DB) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS file_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_file_events_file ON file_events(file_id, id);`
	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("failed to create file_events table: %w", err)
	}
	return nil
}
