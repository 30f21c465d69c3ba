// Package openai provides a completion provider for OpenAI-compatible
// /chat/completions endpoints.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/chatguard/internal/core/domain"
	"github.com/custodia-labs/chatguard/internal/core/ports/driven"
)

// Ensure Provider implements the interface.
var _ driven.CompletionProvider = (*Provider)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "https://api.siliconflow.cn/v1"
	DefaultTimeout = 120 * time.Second

	providerName = "openai"
)

// Config holds configuration for the OpenAI-compatible provider.
type Config struct {
	// APIKey is sent as a bearer token (required).
	APIKey string

	// BaseURL is the API base URL. Any OpenAI-compatible endpoint works.
	BaseURL string

	// Model is used when a request names none (default: domain.DefaultModel).
	Model string

	// Timeout bounds one call including a full stream (default: 120s).
	Timeout time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Provider talks to an OpenAI-compatible chat completions API.
type Provider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// chatCompletionRequest is the /chat/completions request format.
type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []chatCompletionMsg `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature"`
	Stream      bool                `json:"stream,omitempty"`
}

type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiError is the error object OpenAI-compatible APIs return.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// chatCompletionResponse is the /chat/completions response format. Usage is
// kept untyped since compatible providers add their own counters.
type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]any `json:"usage"`
	Error *apiError      `json:"error,omitempty"`
}

// chatCompletionChunk is one SSE event of a streamed completion.
type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

// NewProvider creates a new OpenAI-compatible provider.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = domain.DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Provider{
		client:  client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}, nil
}

// Complete performs a blocking chat completion.
func (p *Provider) Complete(ctx context.Context, req driven.CompletionRequest) (*driven.Completion, error) {
	resp, err := p.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("openai: failed to decode response: %w", err)
	}
	if result.Error != nil {
		return nil, &domain.ProviderError{Provider: providerName, Message: result.Error.Message}
	}
	if len(result.Choices) == 0 {
		return nil, &domain.ProviderError{Provider: providerName, Message: "no choices in response"}
	}

	return &driven.Completion{
		Content: result.Choices[0].Message.Content,
		Usage:   result.Usage,
	}, nil
}

// Stream starts a streamed chat completion read from server-sent events.
func (p *Provider) Stream(ctx context.Context, req driven.CompletionRequest) (driven.CompletionStream, error) {
	resp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return &sseStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// post sends the request and returns the response if the status is 200.
func (p *Provider) post(ctx context.Context, req driven.CompletionRequest, stream bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	msgs := make([]chatCompletionMsg, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = chatCompletionMsg{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

// statusError builds a ProviderError from a non-200 response, preferring the
// message in the JSON error body.
func statusError(resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &domain.ProviderError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read body: %v", err),
		}
	}
	var body struct {
		Error *apiError `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != nil && body.Error.Message != "" {
		msg = body.Error.Message
	}
	return &domain.ProviderError{Provider: providerName, StatusCode: resp.StatusCode, Message: msg}
}

// ModelName returns the configured model.
func (p *Provider) ModelName() string {
	return p.model
}

// Ping validates the API is reachable by listing models.
// This is a lightweight check that validates connectivity and the API key.
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", http.NoBody)
	if err != nil {
		return fmt.Errorf("openai: failed to create ping request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// Close releases resources.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// sseStream decodes "data:" events until the "[DONE]" sentinel.
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader

	closeOnce sync.Once
	closed    atomic.Bool
	done      bool
}

// Recv returns the next non-empty content delta.
func (s *sseStream) Recv() (driven.CompletionChunk, error) {
	if s.closed.Load() {
		return driven.CompletionChunk{}, domain.ErrStreamClosed
	}
	if s.done {
		return driven.CompletionChunk{}, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if data, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), "data:"); ok {
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				s.done = true
				return driven.CompletionChunk{}, io.EOF
			}

			var chunk chatCompletionChunk
			if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr != nil {
				return driven.CompletionChunk{}, fmt.Errorf("openai: decoding stream event: %w", jsonErr)
			}
			if chunk.Error != nil {
				return driven.CompletionChunk{}, &domain.ProviderError{Provider: providerName, Message: chunk.Error.Message}
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				return driven.CompletionChunk{Content: chunk.Choices[0].Delta.Content}, nil
			}
		}

		switch {
		case err == nil:
		case s.closed.Load():
			return driven.CompletionChunk{}, domain.ErrStreamClosed
		case errors.Is(err, io.EOF):
			// Upstream hung up without sending [DONE].
			s.done = true
			return driven.CompletionChunk{}, io.EOF
		default:
			return driven.CompletionChunk{}, fmt.Errorf("openai: reading stream: %w", err)
		}
	}
}

// Close releases the connection. It may be called from another goroutine to
// unblock a pending Recv, and more than once.
func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.body.Close()
	})
	return err
}
