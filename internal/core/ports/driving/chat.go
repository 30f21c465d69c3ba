package driving

import (
	"context"

	"github.com/custodia-labs/chatguard/internal/core/domain"
)

// EmitFunc receives stream units in order. Returning an error stops the
// stream, e.g. when the caller has disconnected.
type EmitFunc func(unit domain.StreamUnit) error

// ChatService runs chat requests through the filtering and retrieval pipeline.
type ChatService interface {
	// Chat processes a request and returns the complete reply.
	Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)

	// ChatStream processes a request and emits partial units followed by
	// exactly one final unit.
	ChatStream(ctx context.Context, req domain.ChatRequest, emit EmitFunc) error
}

// ContentFilter exposes the sensitive-term matcher.
type ContentFilter interface {
	// Filter masks registered terms in text.
	Filter(text string) (masked string, found []string)
}

// KnowledgeSearch exposes knowledge retrieval.
type KnowledgeSearch interface {
	// SearchKnowledge returns the documents most relevant to query.
	SearchKnowledge(query string, topK int) []domain.RetrievalHit

	// KnowledgeDocument returns the document with the given id.
	KnowledgeDocument(id string) (domain.KnowledgeDocument, bool)
}
