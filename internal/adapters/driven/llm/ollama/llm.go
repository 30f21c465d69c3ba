// Package ollama provides a completion provider using a local Ollama server.
package ollama

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
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "qwq"
	DefaultTimeout = 120 * time.Second

	providerName = "ollama"
)

// Config holds configuration for the Ollama provider.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the model to use when a request names none (default: qwq).
	Model string

	// Timeout bounds one call including a full stream (default: 120s).
	Timeout time.Duration
}

// Provider talks to the Ollama chat API.
type Provider struct {
	client  *http.Client
	baseURL string
	model   string
}

// chatRequest is the Ollama /api/chat request format.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *options      `json:"options,omitempty"`
}

// options holds generation parameters.
type options struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

// chatMessage is the Ollama chat message format.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is one /api/chat reply. Streaming sends one per line, the
// last with Done set and the token counts filled in.
type chatResponse struct {
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
	Error           string      `json:"error,omitempty"`
}

// usage maps Ollama token counts onto the OpenAI usage keys.
func (r chatResponse) usage() map[string]any {
	if !r.Done {
		return nil
	}
	return map[string]any{
		"prompt_tokens":     r.PromptEvalCount,
		"completion_tokens": r.EvalCount,
		"total_tokens":      r.PromptEvalCount + r.EvalCount,
	}
}

// NewProvider creates a new Ollama provider.
func NewProvider(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Provider{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
	}
}

// Complete performs a blocking chat completion.
func (p *Provider) Complete(ctx context.Context, req driven.CompletionRequest) (*driven.Completion, error) {
	resp, err := p.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama: failed to decode response: %w", err)
	}
	if result.Error != "" {
		return nil, &domain.ProviderError{Provider: providerName, Message: result.Error}
	}

	return &driven.Completion{
		Content: result.Message.Content,
		Usage:   result.usage(),
	}, nil
}

// Stream starts a streamed chat completion read as newline-delimited JSON.
func (p *Provider) Stream(ctx context.Context, req driven.CompletionRequest) (driven.CompletionStream, error) {
	resp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	return &ndjsonStream{body: resp.Body, scanner: scanner}, nil
}

func (p *Provider) post(ctx context.Context, req driven.CompletionRequest, stream bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	msgs := make([]chatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = chatMessage{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   stream,
		Options: &options{
			NumPredict:  req.MaxTokens,
			Temperature: req.Temperature,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

// statusError builds a ProviderError from a non-200 response.
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
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &domain.ProviderError{Provider: providerName, StatusCode: resp.StatusCode, Message: msg}
}

// ModelName returns the configured model.
func (p *Provider) ModelName() string {
	return p.model
}

// Ping validates the service is reachable by checking the /api/tags endpoint.
// This is a lightweight check that validates connectivity without running inference.
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("ollama: failed to create ping request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: ping failed: %w", err)
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

// ndjsonStream reads one chatResponse per line until Done.
type ndjsonStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	closeOnce sync.Once
	closed    atomic.Bool
	done      bool
}

// Recv returns the next non-empty message fragment.
func (s *ndjsonStream) Recv() (driven.CompletionChunk, error) {
	if s.closed.Load() {
		return driven.CompletionChunk{}, domain.ErrStreamClosed
	}

	for !s.done && s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var msg chatResponse
		if err := json.Unmarshal(line, &msg); err != nil {
			return driven.CompletionChunk{}, fmt.Errorf("ollama: decoding stream line: %w", err)
		}
		if msg.Error != "" {
			return driven.CompletionChunk{}, &domain.ProviderError{Provider: providerName, Message: msg.Error}
		}
		s.done = msg.Done
		if msg.Message.Content != "" {
			return driven.CompletionChunk{Content: msg.Message.Content}, nil
		}
	}

	if err := s.scanner.Err(); err != nil && !s.done {
		if s.closed.Load() || errors.Is(err, io.ErrClosedPipe) {
			return driven.CompletionChunk{}, domain.ErrStreamClosed
		}
		return driven.CompletionChunk{}, fmt.Errorf("ollama: reading stream: %w", err)
	}
	s.done = true
	return driven.CompletionChunk{}, io.EOF
}

// Close releases the connection. It may be called more than once.
func (s *ndjsonStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.body.Close()
	})
	return err
}
