package mcp

import (
	"github.com/custodia-labs/chatguard/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Chat runs the moderated chat pipeline.
	Chat driving.ChatService

	// Filter masks sensitive terms.
	Filter driving.ContentFilter

	// Knowledge searches the reference corpus.
	Knowledge driving.KnowledgeSearch

	// History reads stored conversations. Optional.
	History driving.HistoryService
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	switch {
	case p.Chat == nil:
		return ErrMissingChatService
	case p.Filter == nil:
		return ErrMissingFilter
	case p.Knowledge == nil:
		return ErrMissingKnowledge
	}
	return nil
}
