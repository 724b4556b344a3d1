package types

// SpeakerProfile is the durable voice record for one enrolled identity.
// Embeddings accumulate in enrollment order and are never removed
// individually; deleting the identity drops the whole profile.
type SpeakerProfile struct {
	// ID is the case-normalized opaque identity key (a session token).
	ID string `json:"id"`

	// Embeddings is the ordered list of enrolled voice embeddings.
	// Repeated enrollment with different tones/volumes grows this list and
	// improves per-speaker matching accuracy.
	Embeddings [][]float64 `json:"embeddings"`
}

// DiarizedSegment is one speaker turn produced by the external speech
// pipeline. It is ephemeral: the raw embedding is matched against enrolled
// profiles and then discarded, never persisted.
type DiarizedSegment struct {
	Start     float64   `json:"start"` // seconds from start of audio
	End       float64   `json:"end"`   // seconds from start of audio
	Embedding []float64 `json:"embedding"`
}

// SpeakerSegment is a diarized segment attributed to an enrolled identity.
type SpeakerSegment struct {
	// SpeakerID is the best-matching identity token, or UnknownSpeaker.
	SpeakerID string `json:"speaker_id"`

	Start float64 `json:"start"`
	End   float64 `json:"end"`

	// Confidence is the cosine similarity against the best-matching
	// enrolled embedding, reported directly (range [-1, 1]).
	Confidence float64 `json:"confidence"`
}

// IdentifyResult is the outcome of transcribing and speaker-attributing one
// audio recording.
type IdentifyResult struct {
	Transcript      string           `json:"transcript"`
	SpeakerSegments []SpeakerSegment `json:"speaker_segments"`
}
