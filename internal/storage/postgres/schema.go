package postgres

// Schema provisions the conversation log and the per-user fact table.
// All statements use IF NOT EXISTS so the schema can be applied on every
// start and again on /init.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
    seq BIGSERIAL,
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    message TEXT NOT NULL,
    response TEXT NOT NULL,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_conversations_user_created
    ON conversations (user_id, created_at DESC, seq DESC);

CREATE TABLE IF NOT EXISTS memories (
    user_id TEXT NOT NULL,
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, key)
);
`
