package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nate-ai/nate/internal/storage"
)

// IdentityStore implements storage.IdentityStore using SQLite.
type IdentityStore struct {
	db *sql.DB
}

// NewIdentityStore opens (or creates) the identity database at dsn.
func NewIdentityStore(dsn string) (*IdentityStore, error) {
	db, err := openDB(dsn, identitySchema)
	if err != nil {
		return nil, err
	}
	return &IdentityStore{db: db}, nil
}

// GenerateToken mints a fresh opaque token for username and persists the
// mapping. Usernames are case-folded before the uniqueness check, so
// "Alice" and "alice" are the same user. Token collisions are treated as
// negligible (random UUIDv4), matching the registry contract.
func (s *IdentityStore) GenerateToken(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", fmt.Errorf("%w: username is required", storage.ErrInvalidInput)
	}

	username = strings.ToLower(username)
	token := uuid.NewString()

	query := `INSERT INTO identities (token, username) VALUES (?, ?)`

	if _, err := s.db.ExecContext(ctx, query, token, username); err != nil {
		// The UNIQUE constraint on username enforces the bijection; a
		// violation means the user already holds an active token.
		if strings.Contains(err.Error(), "UNIQUE") {
			return "", fmt.Errorf("%w: %q", storage.ErrDuplicateUser, username)
		}
		return "", fmt.Errorf("failed to store token for %q: %w", username, err)
	}

	return token, nil
}

// ValidateToken resolves token to its username.
func (s *IdentityStore) ValidateToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: token is required", storage.ErrInvalidInput)
	}

	var username string
	err := s.db.QueryRowContext(ctx, `SELECT username FROM identities WHERE token = ?`, token).Scan(&username)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("%w: %q", storage.ErrInvalidToken, token)
		}
		return "", fmt.Errorf("failed to validate token: %w", err)
	}

	return username, nil
}

// ResolveToken finds the active token for a case-folded username.
func (s *IdentityStore) ResolveToken(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", fmt.Errorf("%w: username is required", storage.ErrInvalidInput)
	}

	username = strings.ToLower(username)

	var token string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM identities WHERE username = ?`, username).Scan(&token)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("%w: %q", storage.ErrNotEnrolled, username)
		}
		return "", fmt.Errorf("failed to resolve token for %q: %w", username, err)
	}

	return token, nil
}

// RevokeToken deletes the mapping for token.
func (s *IdentityStore) RevokeToken(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %q", storage.ErrInvalidToken, token)
	}

	return nil
}

// Close releases the underlying database connection.
func (s *IdentityStore) Close() error {
	return s.db.Close()
}
