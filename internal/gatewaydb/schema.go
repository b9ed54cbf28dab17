package gatewaydb

// schemaDDL realizes the persistence schema named in the design: a message
// row clustered by sent_at per conversation, a conversation row keyed by
// conversation_id, and a choosee_presence row keyed by
// (conversation_id, occurred_at).
const schemaDDL = `
CREATE TABLE IF NOT EXISTS conversations (
	conversation_id  TEXT PRIMARY KEY,
	chooser_username TEXT NOT NULL,
	choosee_username TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
	content         TEXT NOT NULL,
	sent_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	from_chooser    BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_conversation_sent_at_idx ON messages (conversation_id, sent_at);

CREATE TABLE IF NOT EXISTS choosee_presence (
	conversation_id TEXT NOT NULL,
	occurred_at     TIMESTAMPTZ NOT NULL,
	leaving         BOOLEAN NOT NULL,
	chooser_hash    TEXT NOT NULL,
	PRIMARY KEY (conversation_id, occurred_at)
);
`
