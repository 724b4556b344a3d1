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

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey  string
	Model   string        // default: claude-haiku-4-5-20251001
	Timeout time.Duration // default: 60s
}

// AnthropicClient implements ChatProvider using the Anthropic Messages API.
type AnthropicClient struct {
	cfg            AnthropicConfig
	baseURL        string
	client         *http.Client
	circuitBreaker *circuit.Breaker
}

// NewAnthropicClient creates a new Anthropic client with the given configuration.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5-20251001"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &AnthropicClient{
		cfg:     cfg,
		baseURL: "https://api.anthropic.com",
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		circuitBreaker: circuit.New("anthropic"),
	}
}

// anthropicMessagesRequest is the request body for POST /v1/messages.
type anthropicMessagesRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicMessagesResponse is the response body from POST /v1/messages.
type anthropicMessagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// Chat sends the conversation to Anthropic and returns the assistant reply.
// The Messages API has no system role: system turns are lifted into the
// top-level system field (concatenated in order) and the remaining turns
// map one-to-one.
func (c *AnthropicClient) Chat(ctx context.Context, messages []types.Message) (types.Message, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.chat(ctx, messages)
	})
	if err != nil {
		if errors.Is(err, circuit.ErrOpen) {
			return types.Message{}, fmt.Errorf("%w: anthropic circuit breaker open: %v", ErrProvider, err)
		}
		return types.Message{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	return result.(types.Message), nil
}

func (c *AnthropicClient) chat(ctx context.Context, messages []types.Message) (types.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var system string
	wire := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		wire = append(wire, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	reqBody := anthropicMessagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: 4096,
		System:    system,
		Messages:  wire,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return types.Message{}, fmt.Errorf("anthropic returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData anthropicMessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return types.Message{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(respData.Content) == 0 {
		return types.Message{}, fmt.Errorf("anthropic returned empty content")
	}

	return types.Message{Role: types.RoleAssistant, Content: respData.Content[0].Text}, nil
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.cfg.Model
}
