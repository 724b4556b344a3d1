package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nate-ai/nate/internal/storage"
	"github.com/nate-ai/nate/pkg/types"
)

// ProfileStore implements storage.ProfileStore using SQLite.
type ProfileStore struct {
	db *sql.DB
}

// NewProfileStore opens (or creates) the speaker-profile database at dsn.
func NewProfileStore(dsn string) (*ProfileStore, error) {
	db, err := openDB(dsn, profileSchema)
	if err != nil {
		return nil, err
	}
	return &ProfileStore{db: db}, nil
}

// Enroll appends embedding to the profile for id, creating the profile on
// first enrollment. The id is case-normalized so that enrollment and
// matching agree on profile keys regardless of caller casing.
func (s *ProfileStore) Enroll(ctx context.Context, id string, embedding []float64) error {
	if id == "" {
		return fmt.Errorf("%w: speaker id is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}

	id = strings.ToLower(id)

	query := `
		INSERT INTO speaker_embeddings (speaker_id, embedding, dimension)
		VALUES (?, ?, ?)
	`

	if _, err := s.db.ExecContext(ctx, query, id, serializeEmbedding(embedding), len(embedding)); err != nil {
		return fmt.Errorf("failed to enroll speaker %q: %w", id, err)
	}

	return nil
}

// Profiles returns every enrolled profile with its embeddings in enrollment
// order. Profile order follows each speaker's first enrollment, oldest
// first, which the matcher relies on for deterministic tie-breaking.
func (s *ProfileStore) Profiles(ctx context.Context) ([]types.SpeakerProfile, error) {
	query := `
		SELECT speaker_id, embedding, dimension
		FROM speaker_embeddings
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list speaker profiles: %w", err)
	}
	defer rows.Close()

	var (
		byID    = make(map[string]int)
		results []types.SpeakerProfile
	)

	for rows.Next() {
		var (
			id        string
			blob      []byte
			dimension int
		)
		if err := rows.Scan(&id, &blob, &dimension); err != nil {
			return nil, fmt.Errorf("failed to scan speaker embedding: %w", err)
		}

		embedding, err := deserializeEmbedding(blob, dimension)
		if err != nil {
			// Unreadable durable state fails closed rather than dropping
			// the speaker from match results.
			return nil, fmt.Errorf("%w: speaker %q: %v", storage.ErrCorrupted, id, err)
		}

		idx, seen := byID[id]
		if !seen {
			results = append(results, types.SpeakerProfile{ID: id})
			idx = len(results) - 1
			byID[id] = idx
		}
		results[idx].Embeddings = append(results[idx].Embeddings, embedding)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate speaker embeddings: %w", err)
	}

	return results, nil
}

// DeleteProfile removes all embeddings for id. Deleting an absent profile
// is a no-op.
func (s *ProfileStore) DeleteProfile(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: speaker id is required", storage.ErrInvalidInput)
	}

	id = strings.ToLower(id)

	if _, err := s.db.ExecContext(ctx, `DELETE FROM speaker_embeddings WHERE speaker_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete speaker profile %q: %w", id, err)
	}

	return nil
}

// Close releases the underlying database connection.
func (s *ProfileStore) Close() error {
	return s.db.Close()
}
