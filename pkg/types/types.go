// Package types defines the core data structures shared across the Nate
// assistant: conversation turns, speaker profiles, and the segment types
// exchanged with the speech pipeline.
package types

// Role identifies the author of a conversation turn.
type Role string

// Conversation role constants. These mirror the common chat-completion
// vocabulary; provider clients translate them to their own wire formats.
const (
	// RoleSystem is the instruction preamble injected ahead of history.
	RoleSystem Role = "system"

	// RoleUser is a turn authored by an enrolled user.
	RoleUser Role = "user"

	// RoleAssistant is a turn authored by the assistant.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known conversation roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single conversation turn. Turns are immutable once written;
// the conversation log is an append-only ordered sequence of them.
type Message struct {
	Role    Role   `json:"role"`    // system, user, or assistant
	Content string `json:"content"` // turn text; user turns are "username: prompt"
}

// UnknownSpeaker is the sentinel speaker ID reported when no enrolled
// profile matches a diarized segment (empty store, or similarity below the
// configured confidence floor).
const UnknownSpeaker = "unknown"
