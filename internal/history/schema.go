// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

// SchemaVersion is bumped on incompatible schema changes.
const SchemaVersion = 1

// Schema creates the history tables.
const Schema = `
CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL,
	degraded     INTEGER NOT NULL DEFAULT 0,
	best_attempt INTEGER NOT NULL DEFAULT 0,
	attempts     INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	text         TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id         TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	number          INTEGER NOT NULL,
	model           TEXT NOT NULL DEFAULT '',
	input_chars     INTEGER NOT NULL,
	output_chars    INTEGER NOT NULL,
	tokens          INTEGER NOT NULL,
	elapsed_seconds REAL NOT NULL,
	passed          INTEGER NOT NULL,
	issue_count     INTEGER NOT NULL,
	text            TEXT NOT NULL,
	started_at      INTEGER NOT NULL,
	UNIQUE(task_id, number)
);

CREATE TABLE IF NOT EXISTS issues (
	attempt_id INTEGER NOT NULL REFERENCES attempts(id) ON DELETE CASCADE,
	category   TEXT NOT NULL,
	severity   TEXT NOT NULL,
	code       TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_task ON attempts(task_id);
CREATE INDEX IF NOT EXISTS idx_issues_attempt ON issues(attempt_id);
CREATE INDEX IF NOT EXISTS idx_tasks_updated ON tasks(updated_at);
`

// InitMetadata seeds the metadata table.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
`
