package driven

import (
	"context"

	"github.com/custodia-labs/chatguard/internal/core/domain"
)

// CompletionProvider sends a conversation to a language model.
//
// Implementations may include:
//   - OpenAI-compatible /chat/completions endpoints
//   - Ollama (local models)
type CompletionProvider interface {
	// Complete performs a single blocking completion.
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// Stream starts an incremental completion. The caller must Close the
	// returned stream.
	Stream(ctx context.Context, req CompletionRequest) (CompletionStream, error)

	// ModelName returns the upstream model used when a request names none.
	ModelName() string

	// Ping validates the service is reachable by making a lightweight request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// CompletionStream yields partial completions in order.
// Each Recv reads exactly one more chunk from the provider, so the consumer
// controls the pace.
type CompletionStream interface {
	// Recv returns the next chunk. It returns io.EOF after the last chunk.
	Recv() (CompletionChunk, error)

	// Close stops the stream and releases the underlying connection.
	Close() error
}

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// CompletionRequest is one provider call.
type CompletionRequest struct {
	// Model overrides the provider's configured model when non-empty.
	Model string

	Messages []ChatMessage

	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic, 1.0 = creative).
	Temperature float64
}

// Completion is a full provider reply.
type Completion struct {
	Content string

	// Usage is the provider's usage object as decoded JSON. Nil if absent.
	Usage map[string]any
}

// CompletionChunk is one incremental piece of a streamed reply.
type CompletionChunk struct {
	Content string
}

// ToChatMessages converts domain messages to provider messages.
func ToChatMessages(msgs []domain.Message) []ChatMessage {
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ChatMessage{Role: m.Role.String(), Content: m.Content}
	}
	return out
}
