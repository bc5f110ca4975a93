package sqlite

// Schema provisions the conversation log and the per-user fact table.
// Every statement is idempotent so it can run on each open and on /init.
//
// Timestamps are stored as fixed-width UTC text (see timeLayout) so that
// lexical order equals chronological order.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	message    TEXT NOT NULL,
	response   TEXT NOT NULL,
	metadata   TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_user_created
	ON conversations (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS memories (
	user_id    TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (user_id, key)
);
`
