// Package storage provides composable storage interfaces for the Nate
// assistant core.
//
// Three durable mappings back the system: speaker profiles (identity →
// voice embeddings), the identity registry (token → username), and
// per-token conversation logs. Each interface is small enough to implement
// independently; the SQLite and PostgreSQL backends implement all three.
// Cross-references between the mappings are by opaque token only; no
// backend holds a reference into another's storage.
package storage

import (
	"context"

	"github.com/nate-ai/nate/pkg/types"
)

// ProfileStore persists speaker voice profiles.
type ProfileStore interface {
	// Enroll case-normalizes id and appends embedding to its profile,
	// creating the profile on first enrollment. Embeddings are never
	// deduplicated: n calls yield n stored embeddings.
	Enroll(ctx context.Context, id string, embedding []float64) error

	// Profiles returns every enrolled profile ordered by first enrollment
	// (oldest first). The matcher relies on this order for deterministic
	// tie-breaking. Returns an empty slice when nothing is enrolled.
	Profiles(ctx context.Context) ([]types.SpeakerProfile, error)

	// DeleteProfile removes the whole profile for id. Deleting an absent
	// profile is a no-op, not an error.
	DeleteProfile(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}

// IdentityStore is the durable token → username registry. Active tokens and
// active usernames form a bijection: usernames are case-folded and unique.
type IdentityStore interface {
	// GenerateToken mints a fresh opaque token for username and persists
	// the mapping. Returns ErrDuplicateUser when the case-folded username
	// is already mapped to an active token.
	GenerateToken(ctx context.Context, username string) (string, error)

	// ValidateToken resolves a token to its username.
	// Returns ErrInvalidToken when the token is unmapped.
	ValidateToken(ctx context.Context, token string) (string, error)

	// ResolveToken finds the active token for a case-folded username.
	// Returns ErrNotEnrolled when the username has no active token.
	ResolveToken(ctx context.Context, username string) (string, error)

	// RevokeToken deletes the mapping for token.
	// Returns ErrInvalidToken when the token is unmapped.
	RevokeToken(ctx context.Context, token string) error

	// Close releases any resources held by the store.
	Close() error
}

// ConversationStore persists per-token conversation logs. The store never
// inspects turn ordering or roles; that contract belongs to the caller.
type ConversationStore interface {
	// Load returns the full turn sequence for token, in insertion order.
	// A missing log resolves to an empty slice, not an error.
	Load(ctx context.Context, token string) ([]types.Message, error)

	// Append overwrites the persisted log with the full updated sequence.
	// This is a whole-object rewrite: callers read-modify-write the entire
	// history themselves and must serialize concurrent writers per token.
	Append(ctx context.Context, token string, turns []types.Message) error

	// Delete removes the persisted log for token. Idempotent: deleting an
	// absent log is a no-op.
	Delete(ctx context.Context, token string) error

	// Close releases any resources held by the store.
	Close() error
}

// EmbeddingMatcher is an optional interface-upgrade for profile stores that
// can answer nearest-match queries natively (the pgvector backend). The
// orchestrator prefers it over the generic in-process matcher when present.
type EmbeddingMatcher interface {
	// MatchEmbedding returns the enrolled identity whose best embedding has
	// the highest cosine similarity to query, with that similarity as the
	// confidence. Ties resolve to the earliest-enrolled profile.
	// Returns ErrNoEnrolledSpeakers when nothing is enrolled.
	MatchEmbedding(ctx context.Context, query []float64) (id string, confidence float64, err error)
}
