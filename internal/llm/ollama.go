package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nate-ai/nate/internal/circuit"
	"github.com/nate-ai/nate/pkg/types"
)

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the model name to use for chat (default: gemma3:1b-it-qat)
	Model string

	// Timeout is the request timeout duration (default: 60s)
	Timeout time.Duration
}

// OllamaClient implements ChatProvider against a local Ollama server.
// All HTTP calls are wrapped with circuit breaker protection.
type OllamaClient struct {
	cfg            OllamaConfig
	client         *http.Client
	circuitBreaker *circuit.Breaker
}

// NewOllamaClient creates a new Ollama client with the given configuration.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "gemma3:1b-it-qat"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OllamaClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		circuitBreaker: circuit.New("ollama"),
	}
}

// ollamaChatRequest is the request body for POST /api/chat.
type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaChatResponse is the response body from POST /api/chat.
type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// Chat sends the conversation to Ollama and returns the assistant reply.
// Ollama shares the system/user/assistant role vocabulary, so messages map
// one-to-one onto the wire format.
func (c *OllamaClient) Chat(ctx context.Context, messages []types.Message) (types.Message, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.chat(ctx, messages)
	})
	if err != nil {
		if errors.Is(err, circuit.ErrOpen) {
			return types.Message{}, fmt.Errorf("%w: ollama circuit breaker open: %v", ErrProvider, err)
		}
		return types.Message{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	return result.(types.Message), nil
}

func (c *OllamaClient) chat(ctx context.Context, messages []types.Message) (types.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	wire := make([]ollamaChatMessage, len(messages))
	for i, m := range messages {
		wire[i] = ollamaChatMessage{Role: string(m.Role), Content: m.Content}
	}

	reqBody := ollamaChatRequest{
		Model:    c.cfg.Model,
		Messages: wire,
		Stream:   false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return types.Message{}, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return types.Message{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if respData.Message.Content == "" {
		return types.Message{}, fmt.Errorf("ollama returned empty message")
	}

	return types.Message{Role: types.RoleAssistant, Content: respData.Message.Content}, nil
}

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string {
	return c.cfg.Model
}
