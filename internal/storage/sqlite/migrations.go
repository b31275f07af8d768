package sqlite

import "database/sql"

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    agent       TEXT NOT NULL DEFAULT '',
    message     TEXT NOT NULL DEFAULT '',
    response    TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'completed'
                CHECK(status IN ('completed','failed')),
    error       TEXT NOT NULL DEFAULT '',
    tools_used  TEXT NOT NULL DEFAULT '[]',
    created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
    duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
`

func runMigrations(db *sql.DB) error {
	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	// Check current version
	var current int
	row := db.QueryRow("SELECT version FROM schema_version LIMIT 1")
	if err := row.Scan(&current); err != nil {
		// Table doesn't exist or is empty — run initial schema
		current = 0
	}

	if current >= schemaVersion {
		return nil
	}

	if current < 1 {
		if _, err := db.Exec(schemaV1); err != nil {
			return err
		}
	}

	// Upsert schema version
	_, err := db.Exec(`
		DELETE FROM schema_version;
		INSERT INTO schema_version (version) VALUES (?);
	`, schemaVersion)
	return err
}
