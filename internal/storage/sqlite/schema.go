package sqlite

// profileSchema backs the speaker-profile store. Each enrolled embedding is
// one row; the autoincrement seq preserves global enrollment order, which
// the matcher uses for deterministic tie-breaking.
const profileSchema = `
CREATE TABLE IF NOT EXISTS speaker_embeddings (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	speaker_id TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	dimension  INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_speaker_embeddings_speaker
	ON speaker_embeddings(speaker_id);
`

// identitySchema backs the token → username registry. The UNIQUE constraint
// on username enforces the active-token/active-username bijection.
const identitySchema = `
CREATE TABLE IF NOT EXISTS identities (
	token      TEXT PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// conversationSchema backs per-token conversation logs. The full turn
// sequence is one JSON object per token; every append rewrites it whole.
const conversationSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	token      TEXT PRIMARY KEY,
	turns      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
