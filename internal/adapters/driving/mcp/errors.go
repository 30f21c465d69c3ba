// Package mcp provides an MCP (Model Context Protocol) server adapter for chatguard.
// It lets AI assistants chat through the moderation pipeline and inspect its
// filter, knowledge base and history.
package mcp

import "errors"

var (
	// ErrMissingChatService is returned when the chat service is not provided.
	ErrMissingChatService = errors.New("mcp: chat service is required")

	// ErrMissingFilter is returned when the content filter is not provided.
	ErrMissingFilter = errors.New("mcp: content filter is required")

	// ErrMissingKnowledge is returned when knowledge search is not provided.
	ErrMissingKnowledge = errors.New("mcp: knowledge search is required")

	// ErrHistoryUnavailable is returned by the history tool when no history
	// service is configured.
	ErrHistoryUnavailable = errors.New("mcp: chat history is not available")
)
