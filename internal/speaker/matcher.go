// Package speaker implements nearest-match classification of voice
// embeddings against the enrolled speaker-profile store.
package speaker

import (
	"context"
	"fmt"
	"math"

	"github.com/nate-ai/nate/internal/storage"
)

// Matcher classifies query embeddings against a profile store. Matching is
// read-only; it may run concurrently with enrollment on other identities.
type Matcher struct {
	profiles storage.ProfileStore
}

// NewMatcher creates a matcher over the given profile store.
func NewMatcher(profiles storage.ProfileStore) *Matcher {
	return &Matcher{profiles: profiles}
}

// MatchEmbedding returns the enrolled identity whose profile scores highest
// against query, with that score as the confidence.
//
// A profile's score is the maximum cosine similarity between query and any
// of its enrolled embeddings. Taking the max (never the min or an average)
// lets a speaker be recognized when any single enrolled utterance matches
// well, instead of requiring one canonical embedding to generalize. Ties
// resolve to the earliest-enrolled profile: the comparison is strictly
// greater-than over a list ordered by first enrollment.
//
// Returns storage.ErrNoEnrolledSpeakers when the store is empty.
func (m *Matcher) MatchEmbedding(ctx context.Context, query []float64) (string, float64, error) {
	if len(query) == 0 {
		return "", 0, fmt.Errorf("%w: query embedding cannot be empty", storage.ErrInvalidInput)
	}

	profiles, err := m.profiles.Profiles(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("failed to load speaker profiles: %w", err)
	}

	if len(profiles) == 0 {
		return "", 0, storage.ErrNoEnrolledSpeakers
	}

	bestID := ""
	bestScore := math.Inf(-1)

	for _, profile := range profiles {
		score := math.Inf(-1)
		for _, enrolled := range profile.Embeddings {
			if sim := CosineSimilarity(query, enrolled); sim > score {
				score = sim
			}
		}
		if score > bestScore {
			bestID = profile.ID
			bestScore = score
		}
	}

	return bestID, bestScore, nil
}

// CosineSimilarity computes the cosine similarity between two vectors,
// in [-1, 1] (equal to 1 − cosine distance). Mismatched lengths or a
// zero-magnitude vector yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
