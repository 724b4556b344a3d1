// Package llm provides chat-completion clients for the supported language
// model providers. Exactly one provider is active per deployment, selected
// by configuration through NewChatProvider; all providers normalize their
// wire formats to the common role/content message model.
package llm

import (
	"context"
	"errors"

	"github.com/nate-ai/nate/pkg/types"
)

// ErrProvider wraps any failure from the active language model backend.
// Callers match it with errors.Is; the concrete cause stays in the chain.
var ErrProvider = errors.New("language model provider error")

// ChatProvider is the interface for multi-turn chat completion.
// The message list carries the system preamble plus the full conversation
// history; the reply is a single assistant turn.
type ChatProvider interface {
	Chat(ctx context.Context, messages []types.Message) (types.Message, error)
	GetModel() string
}
