package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/nate-ai/nate/internal/speaker"
	"github.com/nate-ai/nate/internal/storage"
	"github.com/nate-ai/nate/pkg/types"
)

// Store implements storage.ProfileStore, storage.IdentityStore, and
// storage.ConversationStore against one PostgreSQL database. When the
// pgvector extension is available it also answers nearest-match queries
// natively via storage.EmbeddingMatcher.
type Store struct {
	db                *sql.DB
	pgvectorAvailable bool // true when the pgvector extension is present
}

// NewStore opens a PostgreSQL connection, applies the schema, and probes
// for pgvector support.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}

	// Try to enable the pgvector extension. This may fail on servers
	// without pgvector installed; log a warning and continue with the
	// in-process fallback matcher.
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("postgres: pgvector extension not available (native matching disabled): %v", err)
	} else {
		s.pgvectorAvailable = true
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if s.pgvectorAvailable {
		if _, err := db.Exec(MigrationPgvector); err != nil {
			log.Printf("postgres: failed to apply pgvector migration (native matching disabled): %v", err)
			s.pgvectorAvailable = false
		}
	}

	if s.pgvectorAvailable {
		// Rows enrolled while the extension was unavailable carry only the
		// BYTEA embedding; give them vectors so native matching sees every
		// speaker. The fallback matcher covers any rows left behind.
		if err := s.backfillVectors(); err != nil {
			log.Printf("postgres: failed to backfill embedding vectors: %v", err)
		}
	}

	return s, nil
}

// backfillVectors populates embedding_vec for rows that predate the
// pgvector migration.
func (s *Store) backfillVectors() error {
	rows, err := s.db.Query(`SELECT seq, embedding, dimension FROM speaker_embeddings WHERE embedding_vec IS NULL`)
	if err != nil {
		return fmt.Errorf("failed to list rows without vectors: %w", err)
	}
	defer rows.Close()

	type pending struct {
		seq       int64
		embedding []float64
	}
	var backlog []pending

	for rows.Next() {
		var (
			seq       int64
			blob      []byte
			dimension int
		)
		if err := rows.Scan(&seq, &blob, &dimension); err != nil {
			return fmt.Errorf("failed to scan row without vector: %w", err)
		}
		embedding, err := deserializeEmbedding(blob, dimension)
		if err != nil {
			return fmt.Errorf("%w: embedding seq %d: %v", storage.ErrCorrupted, seq, err)
		}
		backlog = append(backlog, pending{seq: seq, embedding: embedding})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate rows without vectors: %w", err)
	}

	for _, p := range backlog {
		f32 := make([]float32, len(p.embedding))
		for i, v := range p.embedding {
			f32[i] = float32(v)
		}
		if _, err := s.db.Exec(`UPDATE speaker_embeddings SET embedding_vec = $1 WHERE seq = $2`, pgvector.NewVector(f32), p.seq); err != nil {
			return fmt.Errorf("failed to backfill vector for seq %d: %w", p.seq, err)
		}
	}

	return nil
}

// Enroll appends embedding to the profile for the case-normalized id.
// The embedding is always stored in the BYTEA column; when pgvector is
// available it is also stored as a vector for native distance queries.
func (s *Store) Enroll(ctx context.Context, id string, embedding []float64) error {
	if id == "" {
		return fmt.Errorf("%w: speaker id is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}

	id = strings.ToLower(id)

	if s.pgvectorAvailable {
		f32 := make([]float32, len(embedding))
		for i, v := range embedding {
			f32[i] = float32(v)
		}
		query := `
			INSERT INTO speaker_embeddings (speaker_id, embedding, dimension, embedding_vec)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := s.db.ExecContext(ctx, query, id, serializeEmbedding(embedding), len(embedding), pgvector.NewVector(f32)); err != nil {
			return fmt.Errorf("failed to enroll speaker %q: %w", id, err)
		}
		return nil
	}

	query := `
		INSERT INTO speaker_embeddings (speaker_id, embedding, dimension)
		VALUES ($1, $2, $3)
	`
	if _, err := s.db.ExecContext(ctx, query, id, serializeEmbedding(embedding), len(embedding)); err != nil {
		return fmt.Errorf("failed to enroll speaker %q: %w", id, err)
	}

	return nil
}

// Profiles returns every enrolled profile ordered by first enrollment.
func (s *Store) Profiles(ctx context.Context) ([]types.SpeakerProfile, error) {
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

// DeleteProfile removes all embeddings for id. No-op when absent.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: speaker id is required", storage.ErrInvalidInput)
	}

	id = strings.ToLower(id)

	if _, err := s.db.ExecContext(ctx, `DELETE FROM speaker_embeddings WHERE speaker_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete speaker profile %q: %w", id, err)
	}

	return nil
}

// MatchEmbedding returns the enrolled identity with the highest cosine
// similarity to query. With pgvector the max-over-embeddings aggregation
// and earliest-enrollment tie-break run in SQL; otherwise it falls back to
// the in-process matcher over Profiles.
func (s *Store) MatchEmbedding(ctx context.Context, query []float64) (string, float64, error) {
	if len(query) == 0 {
		return "", 0, fmt.Errorf("%w: query embedding cannot be empty", storage.ErrInvalidInput)
	}

	if !s.pgvectorAvailable {
		return speaker.NewMatcher(s).MatchEmbedding(ctx, query)
	}

	f32 := make([]float32, len(query))
	for i, v := range query {
		f32[i] = float32(v)
	}

	// Per-profile score is the best (max) similarity over all enrolled
	// embeddings; ties between profiles resolve to the one enrolled first.
	// Rows without a vector are excluded: a NULL aggregate would sort
	// ahead of every real similarity under DESC and break the scan.
	stmt := `
		SELECT speaker_id,
		       MAX(1 - (embedding_vec <=> $1::vector)) AS similarity,
		       MIN(seq) AS first_seq
		FROM speaker_embeddings
		WHERE embedding_vec IS NOT NULL
		GROUP BY speaker_id
		ORDER BY similarity DESC, first_seq ASC
		LIMIT 1
	`

	var (
		id         string
		similarity float64
		firstSeq   int64
	)
	err := s.db.QueryRowContext(ctx, stmt, pgvector.NewVector(f32)).Scan(&id, &similarity, &firstSeq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No vector-bearing rows. BYTEA-only rows may still exist when
			// the backfill could not run to completion; the in-process
			// matcher reads those and reports ErrNoEnrolledSpeakers itself
			// when the store is truly empty.
			return speaker.NewMatcher(s).MatchEmbedding(ctx, query)
		}
		return "", 0, fmt.Errorf("failed to match embedding: %w", err)
	}

	return id, similarity, nil
}

// GenerateToken mints a fresh opaque token for the case-folded username.
func (s *Store) GenerateToken(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", fmt.Errorf("%w: username is required", storage.ErrInvalidInput)
	}

	username = strings.ToLower(username)
	token := uuid.NewString()

	_, err := s.db.ExecContext(ctx, `INSERT INTO identities (token, username) VALUES ($1, $2)`, token, username)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return "", fmt.Errorf("%w: %q", storage.ErrDuplicateUser, username)
		}
		return "", fmt.Errorf("failed to store token for %q: %w", username, err)
	}

	return token, nil
}

// ValidateToken resolves token to its username.
func (s *Store) ValidateToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: token is required", storage.ErrInvalidInput)
	}

	var username string
	err := s.db.QueryRowContext(ctx, `SELECT username FROM identities WHERE token = $1`, token).Scan(&username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %q", storage.ErrInvalidToken, token)
		}
		return "", fmt.Errorf("failed to validate token: %w", err)
	}

	return username, nil
}

// ResolveToken finds the active token for a case-folded username.
func (s *Store) ResolveToken(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", fmt.Errorf("%w: username is required", storage.ErrInvalidInput)
	}

	username = strings.ToLower(username)

	var token string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM identities WHERE username = $1`, username).Scan(&token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %q", storage.ErrNotEnrolled, username)
		}
		return "", fmt.Errorf("failed to resolve token for %q: %w", username, err)
	}

	return token, nil
}

// RevokeToken deletes the mapping for token.
func (s *Store) RevokeToken(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE token = $1`, token)
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

// Load returns the full turn sequence for token, empty when no log exists.
func (s *Store) Load(ctx context.Context, token string) ([]types.Message, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", storage.ErrInvalidInput)
	}

	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT turns FROM conversations WHERE token = $1`, token).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []types.Message{}, nil
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	var turns []types.Message
	if err := json.Unmarshal(blob, &turns); err != nil {
		return nil, fmt.Errorf("%w: conversation log for token %q: %v", storage.ErrCorrupted, token, err)
	}

	return turns, nil
}

// Append overwrites the persisted log for token with the full sequence.
func (s *Store) Append(ctx context.Context, token string, turns []types.Message) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", storage.ErrInvalidInput)
	}

	blob, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	query := `
		INSERT INTO conversations (token, turns, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (token) DO UPDATE SET
			turns = EXCLUDED.turns,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.ExecContext(ctx, query, token, blob); err != nil {
		return fmt.Errorf("failed to persist conversation: %w", err)
	}

	return nil
}

// Delete removes the log for token. Idempotent.
func (s *Store) Delete(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", storage.ErrInvalidInput)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// TruncateForTest empties all tables. Integration tests use it to isolate
// cases against a shared database.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE speaker_embeddings, identities, conversations`)
	return err
}

// serializeEmbedding converts a float64 slice to little-endian bytes.
func serializeEmbedding(embedding []float64) []byte {
	buf := make([]byte, len(embedding)*8)
	for i, v := range embedding {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// deserializeEmbedding converts little-endian bytes back to float64s.
func deserializeEmbedding(buf []byte, dimension int) ([]float64, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}

	expectedSize := dimension * 8
	if len(buf) != expectedSize {
		return nil, fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", expectedSize, len(buf))
	}

	embedding := make([]float64, dimension)
	for i := 0; i < dimension; i++ {
		embedding[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}

	return embedding, nil
}
