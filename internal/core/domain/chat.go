package domain

import (
	"fmt"
	"time"
)

// Role identifies the author of a chat message.
type Role string

// Chat roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid returns true if the role is recognised.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (r Role) String() string {
	return string(r)
}

// Metadata keys written on messages and persisted turns.
const (
	MetaSensitiveWords = "sensitive_words"
	MetaError          = "error"
	MetaErrorMessage   = "error_message"
	MetaPartial        = "partial"
	MetaCancelled      = "cancelled"
	MetaKnowledgeIDs   = "knowledge_ids"
)

// Request defaults applied when the caller omits a field.
const (
	DefaultModel       = "Qwen/QwQ-32B"
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
)

// Message is a single chat message as exchanged with callers and providers.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ChatRequest is an inbound chat request. The last message is the newest user message.
type ChatRequest struct {
	UserID            string         `json:"user_id"`
	SessionID         string         `json:"session_id,omitempty"`
	Messages          []Message      `json:"messages"`
	Model             string         `json:"model,omitempty"`
	MaxTokens         *int           `json:"max_tokens,omitempty"`
	Temperature       *float64       `json:"temperature,omitempty"`
	Stream            bool           `json:"stream,omitempty"`
	AdditionalContext map[string]any `json:"additional_context,omitempty"`
}

// Validate checks the request shape before it enters the pipeline.
func (r *ChatRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidInput)
	}
	for i, msg := range r.Messages {
		if !msg.Role.IsValid() {
			return fmt.Errorf("%w: message %d has unknown role %q", ErrInvalidInput, i, msg.Role)
		}
	}
	if last := r.Messages[len(r.Messages)-1]; last.Role != RoleUser {
		return fmt.Errorf("%w: last message must have role %q", ErrInvalidInput, RoleUser)
	}
	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		return fmt.Errorf("%w: max_tokens must be positive", ErrInvalidInput)
	}
	return nil
}

// ModelOrDefault returns the requested model identifier or DefaultModel.
func (r *ChatRequest) ModelOrDefault() string {
	if r.Model == "" {
		return DefaultModel
	}
	return r.Model
}

// MaxTokensOrDefault returns the requested token budget or DefaultMaxTokens.
func (r *ChatRequest) MaxTokensOrDefault() int {
	if r.MaxTokens == nil {
		return DefaultMaxTokens
	}
	return *r.MaxTokens
}

// TemperatureOrDefault returns the requested temperature or DefaultTemperature.
func (r *ChatRequest) TemperatureOrDefault() float64 {
	if r.Temperature == nil {
		return DefaultTemperature
	}
	return *r.Temperature
}

// Latest returns the newest user message.
// Callers must have validated the request first.
func (r *ChatRequest) Latest() Message {
	return r.Messages[len(r.Messages)-1]
}

// Prior returns every message before the newest one.
func (r *ChatRequest) Prior() []Message {
	return r.Messages[:len(r.Messages)-1]
}

// ChatResponse is the synchronous reply to a ChatRequest.
type ChatResponse struct {
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Message   Message        `json:"message"`
	Model     string         `json:"model"`
	Usage     map[string]int `json:"usage"`
	Timestamp time.Time      `json:"timestamp"`
}

// StreamUnit is one event of a streamed reply.
// Exactly one unit per stream has IsFinal set, and it is always the last.
type StreamUnit struct {
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Content   string         `json:"content"`
	Model     string         `json:"model"`
	IsFinal   bool           `json:"is_final"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ChatTurn is one persisted message in the append-only conversation log.
type ChatTurn struct {
	// ID is assigned by the history store on append.
	ID int64 `json:"id"`

	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Role      Role   `json:"role"`

	// RawContent is the message as received or generated, before masking.
	RawContent string `json:"content"`

	// FilteredContent is RawContent with every registered term masked.
	FilteredContent string `json:"filtered_content"`

	Metadata  map[string]any `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
}

// SessionSummary describes one conversation session of a user.
type SessionSummary struct {
	SessionID         string    `json:"session_id"`
	LatestMessageTime time.Time `json:"latest_message_time"`
}

// HistoryQuery narrows a history listing.
type HistoryQuery struct {
	// SessionID restricts results to one session when non-empty.
	SessionID string

	// Limit is the maximum number of turns to return (default 100).
	Limit int

	// Offset skips the most recent turns for paging.
	Offset int
}

// DefaultHistoryLimit is applied when HistoryQuery.Limit is not positive.
const DefaultHistoryLimit = 100

// Normalise applies defaults to a history query.
func (q HistoryQuery) Normalise() HistoryQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultHistoryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// DeleteFilter selects turns to remove. At least one field must be set.
type DeleteFilter struct {
	ID        int64
	UserID    string
	SessionID string
}

// IsEmpty returns true if no selection criteria are set.
func (f DeleteFilter) IsEmpty() bool {
	return f.ID == 0 && f.UserID == "" && f.SessionID == ""
}
