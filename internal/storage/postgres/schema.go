// Package postgres provides PostgreSQL implementations of the storage
// interfaces, with optional pgvector-accelerated speaker matching.
package postgres

// Schema contains the SQL statements to create the database schema.
// Embeddings are always stored in the binary BYTEA column; the pgvector
// column is added by MigrationPgvector when the extension is available.
const Schema = `
CREATE TABLE IF NOT EXISTS speaker_embeddings (
	seq        BIGSERIAL PRIMARY KEY,
	speaker_id TEXT NOT NULL,
	embedding  BYTEA NOT NULL,
	dimension  INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_speaker_embeddings_speaker
	ON speaker_embeddings(speaker_id);

CREATE TABLE IF NOT EXISTS identities (
	token      TEXT PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversations (
	token      TEXT PRIMARY KEY,
	turns      JSONB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// MigrationPgvector adds the vector column used for native cosine-distance
// matching. Applied only when the pgvector extension is installed.
const MigrationPgvector = `
ALTER TABLE speaker_embeddings ADD COLUMN IF NOT EXISTS embedding_vec vector;
`
