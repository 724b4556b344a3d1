package speech

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

// ClientConfig holds configuration for the pipeline sidecar client.
type ClientConfig struct {
	// BaseURL is the base URL of the speech sidecar service
	// (default: http://localhost:8090).
	BaseURL string

	// Timeout bounds each pipeline call. Diarization of long recordings is
	// slow, so the default is generous (default: 120s).
	Timeout time.Duration
}

// Client implements Pipeline against an HTTP sidecar exposing the neural
// transcription/diarization/embedding stack. All calls are wrapped with
// circuit breaker protection.
type Client struct {
	cfg            ClientConfig
	client         *http.Client
	circuitBreaker *circuit.Breaker
}

// NewClient creates a pipeline client with the given configuration.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8090"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		circuitBreaker: circuit.New("speech"),
	}
}

// transcribeResponse is the response body from POST /transcribe.
type transcribeResponse struct {
	Transcript string `json:"transcript"`
}

// diarizeResponse is the response body from POST /diarize.
type diarizeResponse struct {
	Transcript string                 `json:"transcript"`
	Segments   []types.DiarizedSegment `json:"segments"`
}

// embedResponse is the response body from POST /embed.
type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Transcribe returns the full transcript of the audio.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	var out transcribeResponse
	if err := c.post(ctx, "/transcribe", audio, &out); err != nil {
		return "", err
	}
	return out.Transcript, nil
}

// Diarize returns the transcript plus diarized speaker turns with
// embeddings.
func (c *Client) Diarize(ctx context.Context, audio []byte) (string, []types.DiarizedSegment, error) {
	var out diarizeResponse
	if err := c.post(ctx, "/diarize", audio, &out); err != nil {
		return "", nil, err
	}
	return out.Transcript, out.Segments, nil
}

// EmbedUtterance extracts a single voice embedding from the audio.
func (c *Client) EmbedUtterance(ctx context.Context, audio []byte) ([]float64, error) {
	var out embedResponse
	if err := c.post(ctx, "/embed", audio, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: sidecar returned empty embedding", ErrPipeline)
	}
	return out.Embedding, nil
}

// post sends audio bytes to the sidecar and decodes the JSON response into
// out, through the circuit breaker.
func (c *Client) post(ctx context.Context, path string, audio []byte, out interface{}) error {
	_, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return nil, c.doPost(ctx, path, audio, out)
	})
	if err != nil {
		if errors.Is(err, circuit.ErrOpen) {
			return fmt.Errorf("%w: speech circuit breaker open: %v", ErrPipeline, err)
		}
		return fmt.Errorf("%w: %v", ErrPipeline, err)
	}
	return nil
}

func (c *Client) doPost(ctx context.Context, path string, audio []byte, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+path, bytes.NewReader(audio))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("speech sidecar returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
