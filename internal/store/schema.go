package store

// schemaSQL holds the sqlite schema. Statements are split on ";" and applied
// in order by migrate.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS task_snapshots (
	context_id TEXT NOT NULL,
	task_id    TEXT NOT NULL,
	state      TEXT NOT NULL,
	settings   TEXT NOT NULL,
	history    TEXT NOT NULL,
	saved_at   TEXT NOT NULL,
	PRIMARY KEY (context_id, task_id)
);

CREATE TABLE IF NOT EXISTS task_index (
	task_id    TEXT PRIMARY KEY,
	context_id TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS context_messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	context_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	payload    TEXT NOT NULL,
	UNIQUE (context_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_context_messages_context
	ON context_messages (context_id, seq);
`
