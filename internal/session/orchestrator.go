// Package session composes the identity registry, conversation memory,
// speaker-profile store, speech pipeline, and chat provider into the two
// request paths the assistant serves: chat turns and audio identification.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nate-ai/nate/internal/llm"
	"github.com/nate-ai/nate/internal/speaker"
	"github.com/nate-ai/nate/internal/speech"
	"github.com/nate-ai/nate/internal/storage"
	"github.com/nate-ai/nate/pkg/types"
)

// Event is broadcast to observers (the WebSocket hub) after notable
// operations. Fields are sparse; only those relevant to the event type are
// set.
type Event struct {
	Type       string  `json:"type"`
	Username   string  `json:"username,omitempty"`
	SpeakerID  string  `json:"speaker_id,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Segments   int     `json:"segments,omitempty"`
}

// Event type constants.
const (
	EventUserEnrolled  = "user_enrolled"
	EventUserRemoved   = "user_removed"
	EventVoiceEnrolled = "voice_enrolled"
	EventIdentified    = "speakers_identified"
)

// Config assembles an Orchestrator.
type Config struct {
	Identities    storage.IdentityStore
	Conversations storage.ConversationStore
	Profiles      storage.ProfileStore
	Pipeline      speech.Pipeline
	Provider      llm.ChatProvider

	// Preamble is the system instruction injected ahead of every
	// conversation sent to the provider.
	Preamble string

	// MinConfidence rejects matches scoring below it as "unknown" while
	// still reporting the raw similarity. Zero disables the floor.
	MinConfidence float64

	// Notify receives events after notable operations. Optional; called
	// synchronously, so implementations should hand off quickly.
	Notify func(Event)
}

// Orchestrator serves chat turns and audio identification requests.
//
// Locking discipline: a per-token mutex serializes the whole conversation
// read-modify-write cycle, including the provider call inside it.
// Conversation persistence is whole-object rewrite, so concurrent writers
// for the same token would otherwise lose turns. Operations on different
// tokens never block each other, and the stores themselves are never
// locked across pipeline or provider calls.
type Orchestrator struct {
	identities    storage.IdentityStore
	conversations storage.ConversationStore
	profiles      storage.ProfileStore
	matcher       storage.EmbeddingMatcher
	pipeline      speech.Pipeline
	provider      llm.ChatProvider
	preamble      string
	minConfidence float64
	notify        func(Event)
	locks         *tokenLocks
}

// New creates an Orchestrator. When the profile store answers nearest-match
// queries natively (the pgvector backend), it is used directly; otherwise
// the generic in-process matcher runs over the store.
func New(cfg Config) *Orchestrator {
	matcher, ok := cfg.Profiles.(storage.EmbeddingMatcher)
	if !ok {
		matcher = speaker.NewMatcher(cfg.Profiles)
	}

	notify := cfg.Notify
	if notify == nil {
		notify = func(Event) {}
	}

	return &Orchestrator{
		identities:    cfg.Identities,
		conversations: cfg.Conversations,
		profiles:      cfg.Profiles,
		matcher:       matcher,
		pipeline:      cfg.Pipeline,
		provider:      cfg.Provider,
		preamble:      cfg.Preamble,
		minConfidence: cfg.MinConfidence,
		notify:        notify,
		locks:         newTokenLocks(),
	}
}

// EnrollUser registers username and returns its fresh session token.
func (o *Orchestrator) EnrollUser(ctx context.Context, username string) (string, error) {
	token, err := o.identities.GenerateToken(ctx, username)
	if err != nil {
		return "", err
	}

	o.notify(Event{Type: EventUserEnrolled, Username: username})
	return token, nil
}

// RemoveUser revokes token and cascades: the conversation log and the
// speaker profile for that token are deleted as well.
func (o *Orchestrator) RemoveUser(ctx context.Context, token string) error {
	username, err := o.identities.ValidateToken(ctx, token)
	if err != nil {
		return err
	}

	unlock := o.locks.lock(token)
	defer unlock()

	if err := o.identities.RevokeToken(ctx, token); err != nil {
		return err
	}
	if err := o.conversations.Delete(ctx, token); err != nil {
		return fmt.Errorf("failed to delete conversation for revoked token: %w", err)
	}
	if err := o.profiles.DeleteProfile(ctx, token); err != nil {
		return fmt.Errorf("failed to delete speaker profile for revoked token: %w", err)
	}

	o.notify(Event{Type: EventUserRemoved, Username: username})
	return nil
}

// Ask runs one chat turn for the identity behind token.
//
// The user turn is recorded as "username: prompt" so the model can tell
// speakers apart. History is persisted only after a successful provider
// reply: a failed call leaves the durable log untouched, so no prompt is
// ever recorded without its response.
func (o *Orchestrator) Ask(ctx context.Context, token, prompt string) (string, error) {
	username, err := o.identities.ValidateToken(ctx, token)
	if err != nil {
		return "", err
	}

	unlock := o.locks.lock(token)
	defer unlock()

	history, err := o.conversations.Load(ctx, token)
	if err != nil {
		return "", err
	}

	history = append(history, types.Message{
		Role:    types.RoleUser,
		Content: fmt.Sprintf("%s: %s", username, prompt),
	})

	conversation := make([]types.Message, 0, len(history)+1)
	conversation = append(conversation, types.Message{Role: types.RoleSystem, Content: o.preamble})
	conversation = append(conversation, history...)

	reply, err := o.provider.Chat(ctx, conversation)
	if err != nil {
		return "", err
	}

	history = append(history, reply)

	if err := o.conversations.Append(ctx, token, history); err != nil {
		return "", err
	}

	return reply.Content, nil
}

// History returns the stored conversation for token.
func (o *Orchestrator) History(ctx context.Context, token string) ([]types.Message, error) {
	if _, err := o.identities.ValidateToken(ctx, token); err != nil {
		return nil, err
	}
	return o.conversations.Load(ctx, token)
}

// Transcribe returns the transcript of the audio without identification.
func (o *Orchestrator) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return o.pipeline.Transcribe(ctx, audio)
}

// EnrollVoice extracts a voice embedding from audio and appends it to the
// speaker profile behind token. Enrollment without a valid identity token
// is rejected.
func (o *Orchestrator) EnrollVoice(ctx context.Context, token string, audio []byte) error {
	username, err := o.identities.ValidateToken(ctx, token)
	if err != nil {
		return err
	}

	embedding, err := o.pipeline.EmbedUtterance(ctx, audio)
	if err != nil {
		return err
	}

	if err := o.profiles.Enroll(ctx, token, embedding); err != nil {
		return err
	}

	o.notify(Event{Type: EventVoiceEnrolled, Username: username})
	return nil
}

// TranscribeIdentify transcribes audio and attributes each diarized segment
// to an enrolled identity.
//
// Diarizer output order is not guaranteed monotonic, so segments are sorted
// by start time before matching. With an empty profile store the request
// does not fail: every segment is labeled "unknown" with confidence 0.
// Matches below the configured confidence floor are likewise reported as
// "unknown", carrying their raw similarity. No state is persisted.
func (o *Orchestrator) TranscribeIdentify(ctx context.Context, audio []byte) (*types.IdentifyResult, error) {
	transcript, segments, err := o.pipeline.Diarize(ctx, audio)
	if err != nil {
		return nil, err
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})

	speakerSegments := make([]types.SpeakerSegment, 0, len(segments))
	for _, seg := range segments {
		id, confidence, err := o.matcher.MatchEmbedding(ctx, seg.Embedding)
		if err != nil {
			if errors.Is(err, storage.ErrNoEnrolledSpeakers) {
				id, confidence = types.UnknownSpeaker, 0
			} else {
				return nil, err
			}
		} else if o.minConfidence > 0 && confidence < o.minConfidence {
			id = types.UnknownSpeaker
		}

		speakerSegments = append(speakerSegments, types.SpeakerSegment{
			SpeakerID:  id,
			Start:      seg.Start,
			End:        seg.End,
			Confidence: confidence,
		})
	}

	o.notify(Event{Type: EventIdentified, Segments: len(speakerSegments)})

	return &types.IdentifyResult{
		Transcript:      transcript,
		SpeakerSegments: speakerSegments,
	}, nil
}
