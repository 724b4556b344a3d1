package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nate-ai/nate/internal/storage"
	"github.com/nate-ai/nate/internal/storage/postgres"
	"github.com/nate-ai/nate/pkg/types"
)

// newTestStore connects to the test database, applies the schema, and
// truncates all tables. If POSTGRES_TEST_DSN is not set, tests are skipped.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}

	store, err := postgres.NewStore(dsn)
	require.NoError(t, err, "NewStore should succeed")
	require.NoError(t, store.TruncateForTest(context.Background()))

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTokenLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	token, err := store.GenerateToken(ctx, "Alice")
	require.NoError(t, err)

	username, err := store.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	_, err = store.GenerateToken(ctx, "ALICE")
	assert.ErrorIs(t, err, storage.ErrDuplicateUser)

	require.NoError(t, store.RevokeToken(ctx, token))
	_, err = store.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, storage.ErrInvalidToken)
}

func TestProfileLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Enroll(ctx, "bob", []float64{0, 1, 0}))
	require.NoError(t, store.Enroll(ctx, "alice", []float64{1, 0, 0}))
	require.NoError(t, store.Enroll(ctx, "bob", []float64{0, 0.9, 0.1}))

	profiles, err := store.Profiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "bob", profiles[0].ID, "first enrollment order must hold")
	assert.Len(t, profiles[0].Embeddings, 2)

	require.NoError(t, store.DeleteProfile(ctx, "bob"))
	profiles, err = store.Profiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "alice", profiles[0].ID)
}

func TestMatchEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.MatchEmbedding(ctx, []float64{1, 0, 0})
	assert.ErrorIs(t, err, storage.ErrNoEnrolledSpeakers)

	require.NoError(t, store.Enroll(ctx, "alice", []float64{1, 0, 0}))
	require.NoError(t, store.Enroll(ctx, "bob", []float64{0, 1, 0}))

	id, confidence, err := store.MatchEmbedding(ctx, []float64{0.9, 0.1, 0})
	require.NoError(t, err)
	assert.Equal(t, "alice", id)
	assert.Greater(t, confidence, 0.9)
}

func TestConversationLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	turns, err := store.Load(ctx, "tok-1")
	require.NoError(t, err)
	assert.Empty(t, turns)

	turns = []types.Message{
		{Role: types.RoleUser, Content: "alice: hi"},
		{Role: types.RoleAssistant, Content: "hello"},
	}
	require.NoError(t, store.Append(ctx, "tok-1", turns))

	got, err := store.Load(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, turns, got)

	require.NoError(t, store.Delete(ctx, "tok-1"))
	require.NoError(t, store.Delete(ctx, "tok-1"), "delete is idempotent")

	got, err = store.Load(ctx, "tok-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
