package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/chatguard/internal/core/domain"
	"github.com/custodia-labs/chatguard/internal/core/knowledge"
)

// ChatInput is the input schema for the chat tool.
type ChatInput struct {
	UserID      string  `json:"user_id" jsonschema:"identifier of the user the conversation belongs to"`
	Message     string  `json:"message" jsonschema:"the user message to send"`
	SessionID   string  `json:"session_id,omitempty" jsonschema:"session to continue when the server accepts client session ids"`
	Model       string  `json:"model,omitempty" jsonschema:"upstream model name (default Qwen/QwQ-32B)"`
	MaxTokens   int     `json:"max_tokens,omitempty" jsonschema:"maximum tokens to generate (default 1000)"`
	Temperature float64 `json:"temperature,omitempty" jsonschema:"sampling temperature (default 0.7)"`
}

// ChatOutput is the output schema for the chat tool.
type ChatOutput struct {
	SessionID      string         `json:"session_id"`
	Content        string         `json:"content"`
	Model          string         `json:"model"`
	SensitiveWords []string       `json:"sensitive_words"`
	Usage          map[string]int `json:"usage,omitempty"`
}

// HistoryInput is the input schema for the history tool.
type HistoryInput struct {
	UserID    string `json:"user_id" jsonschema:"identifier of the user"`
	SessionID string `json:"session_id,omitempty" jsonschema:"restrict to one session"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of turns to return (default 100)"`
}

// HistoryOutput is the output schema for the history tool.
type HistoryOutput struct {
	Turns []TurnOutput `json:"turns"`
	Count int          `json:"count"`
}

// TurnOutput is one stored turn. Only the filtered text is exposed.
type TurnOutput struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// FilterInput is the input schema for the filter_text tool.
type FilterInput struct {
	Text string `json:"text" jsonschema:"text to scan for sensitive terms"`
}

// FilterOutput is the output schema for the filter_text tool.
type FilterOutput struct {
	Masked string   `json:"masked"`
	Found  []string `json:"found"`
}

// KnowledgeInput is the input schema for the search_knowledge tool.
type KnowledgeInput struct {
	Query string `json:"query" jsonschema:"the question to find reference documents for"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"maximum number of documents to return (default 3)"`
}

// KnowledgeOutput is the output schema for the search_knowledge tool.
type KnowledgeOutput struct {
	Results []KnowledgeResultOutput `json:"results"`
	Count   int                     `json:"count"`
}

// KnowledgeResultOutput represents a single retrieved document.
type KnowledgeResultOutput struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "chat",
		Description: "Send a message through the moderated chat pipeline; sensitive terms are masked in both directions",
	}, s.handleChat)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "history",
		Description: "List a user's stored chat turns, most recent first",
	}, s.handleHistory)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "filter_text",
		Description: "Mask sensitive terms in a piece of text",
	}, s.handleFilter)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_knowledge",
		Description: "Find the reference documents most relevant to a query",
	}, s.handleSearchKnowledge)
}

// handleChat handles the chat tool invocation.
func (s *Server) handleChat(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ChatInput,
) (*mcp.CallToolResult, ChatOutput, error) {
	req := domain.ChatRequest{
		UserID:    input.UserID,
		SessionID: input.SessionID,
		Model:     input.Model,
		Messages:  []domain.Message{{Role: domain.RoleUser, Content: input.Message}},
	}
	if input.MaxTokens > 0 {
		req.MaxTokens = &input.MaxTokens
	}
	if input.Temperature > 0 {
		req.Temperature = &input.Temperature
	}

	resp, err := s.ports.Chat.Chat(ctx, req)
	if err != nil {
		return nil, ChatOutput{}, err
	}

	found := []string{}
	if words, ok := resp.Message.Metadata[domain.MetaSensitiveWords].([]string); ok {
		found = append(found, words...)
	}

	return nil, ChatOutput{
		SessionID:      resp.SessionID,
		Content:        resp.Message.Content,
		Model:          resp.Model,
		SensitiveWords: found,
		Usage:          resp.Usage,
	}, nil
}

// handleHistory handles the history tool invocation.
func (s *Server) handleHistory(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input HistoryInput,
) (*mcp.CallToolResult, HistoryOutput, error) {
	if s.ports.History == nil {
		return nil, HistoryOutput{}, ErrHistoryUnavailable
	}

	turns, err := s.ports.History.History(ctx, input.UserID, domain.HistoryQuery{
		SessionID: input.SessionID,
		Limit:     input.Limit,
	})
	if err != nil {
		return nil, HistoryOutput{}, err
	}

	output := HistoryOutput{
		Turns: make([]TurnOutput, len(turns)),
		Count: len(turns),
	}
	for i := range turns {
		content := turns[i].FilteredContent
		if content == "" {
			content = turns[i].RawContent
		}
		output.Turns[i] = TurnOutput{
			ID:        turns[i].ID,
			SessionID: turns[i].SessionID,
			Role:      turns[i].Role.String(),
			Content:   content,
			Timestamp: turns[i].Timestamp.Format(time.RFC3339),
		}
	}

	return nil, output, nil
}

// handleFilter handles the filter_text tool invocation.
func (s *Server) handleFilter(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input FilterInput,
) (*mcp.CallToolResult, FilterOutput, error) {
	masked, found := s.ports.Filter.Filter(input.Text)
	if found == nil {
		found = []string{}
	}
	return nil, FilterOutput{Masked: masked, Found: found}, nil
}

// handleSearchKnowledge handles the search_knowledge tool invocation.
func (s *Server) handleSearchKnowledge(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input KnowledgeInput,
) (*mcp.CallToolResult, KnowledgeOutput, error) {
	topK := input.TopK
	if topK <= 0 {
		topK = knowledge.DefaultTopK
	}
	hits := s.ports.Knowledge.SearchKnowledge(input.Query, topK)

	output := KnowledgeOutput{
		Results: make([]KnowledgeResultOutput, len(hits)),
		Count:   len(hits),
	}
	for i, h := range hits {
		output.Results[i] = KnowledgeResultOutput{
			ID:         h.ID,
			Title:      h.Title,
			Content:    h.Content,
			Similarity: h.Similarity,
		}
	}

	return nil, output, nil
}
