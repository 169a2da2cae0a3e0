package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all clusterq tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id              TEXT PRIMARY KEY,
		state           TEXT NOT NULL DEFAULT 'CREATED',
		completion_time TEXT,
		reason          TEXT NOT NULL DEFAULT '',
		report          TEXT,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS job_events (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id      TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		type        TEXT NOT NULL,
		payload     TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS job_commands (
		id           TEXT PRIMARY KEY,
		job_id       TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		position     INTEGER NOT NULL,
		host         TEXT NOT NULL,
		kind         TEXT NOT NULL,
		target       TEXT NOT NULL DEFAULT '',
		params       TEXT NOT NULL DEFAULT '{}',
		status       TEXT NOT NULL DEFAULT 'PENDING',
		exit_code    INTEGER NOT NULL DEFAULT 0,
		stdout       TEXT NOT NULL DEFAULT '',
		stderr       TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		completed_at TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state)`,
	`CREATE INDEX IF NOT EXISTS idx_job_events_job_id ON job_events(job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_job_commands_job_id ON job_commands(job_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_job_commands_key ON job_commands(job_id, kind, target, host)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "job_commands",
		column:   "reason",
		alterSQL: "ALTER TABLE job_commands ADD COLUMN reason TEXT NOT NULL DEFAULT ''",
	},
	{
		table:    "job_commands",
		column:   "updated_at",
		alterSQL: "ALTER TABLE job_commands ADD COLUMN updated_at TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_job_commands_status ON job_commands(job_id, status)",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
