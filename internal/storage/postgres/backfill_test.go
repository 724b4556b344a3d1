package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newVectorTestStore connects to the test database and requires native
// pgvector matching. Tests are skipped without POSTGRES_TEST_DSN or when
// the server lacks the extension.
func newVectorTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}

	store, err := NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if !store.pgvectorAvailable {
		t.Skip("pgvector extension not available; skipping native matching tests")
	}

	require.NoError(t, store.TruncateForTest(context.Background()))
	return store
}

// insertLegacyRow plants a row the way a server without pgvector wrote it:
// BYTEA embedding only, no vector.
func insertLegacyRow(t *testing.T, store *Store, id string, embedding []float64) {
	t.Helper()
	_, err := store.db.Exec(
		`INSERT INTO speaker_embeddings (speaker_id, embedding, dimension) VALUES ($1, $2, $3)`,
		id, serializeEmbedding(embedding), len(embedding))
	require.NoError(t, err)
}

func countRowsWithoutVectors(t *testing.T, store *Store) int {
	t.Helper()
	var n int
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*) FROM speaker_embeddings WHERE embedding_vec IS NULL`).Scan(&n))
	return n
}

// Rows enrolled before the vector column existed get vectors on the next
// open, so native matching sees every speaker.
func TestOpenBackfillsVectorlessRows(t *testing.T) {
	store := newVectorTestStore(t)
	ctx := context.Background()

	insertLegacyRow(t, store, "legacy", []float64{1, 0, 0})
	require.NoError(t, store.Enroll(ctx, "fresh", []float64{0, 1, 0}))
	require.Equal(t, 1, countRowsWithoutVectors(t, store))

	reopened, err := NewStore(os.Getenv("POSTGRES_TEST_DSN"))
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	assert.Zero(t, countRowsWithoutVectors(t, reopened))

	id, confidence, err := reopened.MatchEmbedding(ctx, []float64{0.9, 0.1, 0})
	require.NoError(t, err)
	assert.Equal(t, "legacy", id)
	assert.Greater(t, confidence, 0.9)
}

// With only vector-less rows present, matching must neither crash on a
// NULL aggregate nor report an empty store; it falls back to the stored
// BYTEA embeddings.
func TestMatchEmbeddingWithOnlyVectorlessRows(t *testing.T) {
	store := newVectorTestStore(t)
	ctx := context.Background()

	insertLegacyRow(t, store, "legacy", []float64{1, 0, 0})

	id, confidence, err := store.MatchEmbedding(ctx, []float64{1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, "legacy", id)
	assert.InDelta(t, 1.0, confidence, 1e-9)
}

// Mixed rows: the native query skips NULL vectors instead of letting them
// win the ordering.
func TestMatchEmbeddingIgnoresVectorlessRows(t *testing.T) {
	store := newVectorTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Enroll(ctx, "fresh", []float64{0, 1, 0}))
	insertLegacyRow(t, store, "legacy", []float64{1, 0, 0})

	id, _, err := store.MatchEmbedding(ctx, []float64{0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, "fresh", id)
}
