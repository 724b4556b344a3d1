package speaker

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/nate-ai/nate/internal/storage"
	"github.com/nate-ai/nate/pkg/types"
)

// stubProfiles is a fixed in-memory profile store for matcher tests.
type stubProfiles struct {
	profiles []types.SpeakerProfile
}

func (s *stubProfiles) Enroll(ctx context.Context, id string, embedding []float64) error {
	return nil
}

func (s *stubProfiles) Profiles(ctx context.Context) ([]types.SpeakerProfile, error) {
	return s.profiles, nil
}

func (s *stubProfiles) DeleteProfile(ctx context.Context, id string) error { return nil }

func (s *stubProfiles) Close() error { return nil }

func TestMatchEmbeddingPicksHighestScoringProfile(t *testing.T) {
	store := &stubProfiles{profiles: []types.SpeakerProfile{
		{ID: "alice", Embeddings: [][]float64{{1, 0, 0}}},
		{ID: "bob", Embeddings: [][]float64{{0, 1, 0}}},
	}}
	m := NewMatcher(store)

	// Closer to bob's axis than alice's.
	id, conf, err := m.MatchEmbedding(context.Background(), []float64{0.2, 0.9, 0})
	if err != nil {
		t.Fatalf("MatchEmbedding() failed: %v", err)
	}
	if id != "bob" {
		t.Errorf("matched %q, want bob", id)
	}
	if conf <= 0.9 {
		t.Errorf("confidence %f, want > 0.9", conf)
	}
}

// A profile scores by its best embedding, so one close enrolled utterance
// outweighs several distant ones.
func TestMatchEmbeddingUsesBestEmbeddingPerProfile(t *testing.T) {
	store := &stubProfiles{profiles: []types.SpeakerProfile{
		{ID: "alice", Embeddings: [][]float64{
			{0, 0, 1},
			{0, 1, 0},
			{1, 0, 0}, // exact match for the query below
		}},
		{ID: "bob", Embeddings: [][]float64{{0.9, 0.1, 0}}},
	}}
	m := NewMatcher(store)

	id, conf, err := m.MatchEmbedding(context.Background(), []float64{1, 0, 0})
	if err != nil {
		t.Fatalf("MatchEmbedding() failed: %v", err)
	}
	if id != "alice" {
		t.Errorf("matched %q, want alice", id)
	}
	if math.Abs(conf-1.0) > 1e-9 {
		t.Errorf("confidence %f, want 1.0", conf)
	}
}

func TestMatchEmbeddingTieBreaksEarliestEnrolled(t *testing.T) {
	// Identical profiles; the first-enrolled one must win.
	store := &stubProfiles{profiles: []types.SpeakerProfile{
		{ID: "first", Embeddings: [][]float64{{1, 0}}},
		{ID: "second", Embeddings: [][]float64{{1, 0}}},
	}}
	m := NewMatcher(store)

	id, _, err := m.MatchEmbedding(context.Background(), []float64{1, 0})
	if err != nil {
		t.Fatalf("MatchEmbedding() failed: %v", err)
	}
	if id != "first" {
		t.Errorf("matched %q, want first", id)
	}
}

func TestMatchEmbeddingEmptyStore(t *testing.T) {
	m := NewMatcher(&stubProfiles{})

	_, _, err := m.MatchEmbedding(context.Background(), []float64{1, 0})
	if !errors.Is(err, storage.ErrNoEnrolledSpeakers) {
		t.Errorf("got %v, want ErrNoEnrolledSpeakers", err)
	}
}

func TestMatchEmbeddingRejectsEmptyQuery(t *testing.T) {
	m := NewMatcher(&stubProfiles{profiles: []types.SpeakerProfile{
		{ID: "alice", Embeddings: [][]float64{{1, 0}}},
	}})

	_, _, err := m.MatchEmbedding(context.Background(), nil)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("got %v, want ErrInvalidInput", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1.0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1.0},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"scale invariant", []float64{1, 1}, []float64{5, 5}, 1.0},
		{"length mismatch", []float64{1, 0}, []float64{1, 0, 0}, 0},
		{"zero vector", []float64{0, 0}, []float64{1, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
