package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nate-ai/nate/internal/storage"
	"github.com/nate-ai/nate/pkg/types"
)

// ConversationStore implements storage.ConversationStore using SQLite.
// Each token's log is one JSON object; Append rewrites it whole.
type ConversationStore struct {
	db *sql.DB
}

// NewConversationStore opens (or creates) the conversation database at dsn.
func NewConversationStore(dsn string) (*ConversationStore, error) {
	db, err := openDB(dsn, conversationSchema)
	if err != nil {
		return nil, err
	}
	return &ConversationStore{db: db}, nil
}

// Load returns the full turn sequence for token. A token with no log yet
// resolves to an empty slice, not an error.
func (s *ConversationStore) Load(ctx context.Context, token string) ([]types.Message, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", storage.ErrInvalidInput)
	}

	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT turns FROM conversations WHERE token = ?`, token).Scan(&blob)
	if err != nil {
		if err == sql.ErrNoRows {
			return []types.Message{}, nil
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	var turns []types.Message
	if err := json.Unmarshal(blob, &turns); err != nil {
		// A malformed log fails closed. Returning an empty history here
		// would silently orphan the stored turns on the next Append.
		return nil, fmt.Errorf("%w: conversation log for token %q: %v", storage.ErrCorrupted, token, err)
	}

	return turns, nil
}

// Append overwrites the persisted log for token with the full sequence.
func (s *ConversationStore) Append(ctx context.Context, token string, turns []types.Message) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", storage.ErrInvalidInput)
	}

	blob, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	query := `
		INSERT INTO conversations (token, turns, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(token) DO UPDATE SET
			turns = excluded.turns,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.ExecContext(ctx, query, token, blob); err != nil {
		return fmt.Errorf("failed to persist conversation: %w", err)
	}

	return nil
}

// Delete removes the log for token. Idempotent: a second delete succeeds.
func (s *ConversationStore) Delete(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", storage.ErrInvalidInput)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE token = ?`, token); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	return nil
}

// Close releases the underlying database connection.
func (s *ConversationStore) Close() error {
	return s.db.Close()
}
