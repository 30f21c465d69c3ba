package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/chatguard/internal/core/domain"
)

func TestServer_handleChat(t *testing.T) {
	ctx := context.Background()

	t.Run("returns filtered reply", func(t *testing.T) {
		chat := &mockChatService{resp: &domain.ChatResponse{
			SessionID: "s1",
			Message: domain.Message{
				Role:     domain.RoleAssistant,
				Content:  "no ******** here",
				Metadata: map[string]any{domain.MetaSensitiveWords: []string{"politics"}},
			},
			Model: "Qwen/QwQ-32B",
			Usage: map[string]int{"total_tokens": 9},
		}}
		ports := validPorts()
		ports.Chat = chat
		server, err := NewServer(ports)
		require.NoError(t, err)

		_, output, err := server.handleChat(ctx, nil, ChatInput{UserID: "u1", Message: "hi", MaxTokens: 20})
		require.NoError(t, err)

		assert.Equal(t, "s1", output.SessionID)
		assert.Equal(t, "no ******** here", output.Content)
		assert.Equal(t, []string{"politics"}, output.SensitiveWords)
		assert.Equal(t, 9, output.Usage["total_tokens"])

		assert.Equal(t, "u1", chat.got.UserID)
		require.Len(t, chat.got.Messages, 1)
		assert.Equal(t, domain.RoleUser, chat.got.Messages[0].Role)
		require.NotNil(t, chat.got.MaxTokens)
		assert.Equal(t, 20, *chat.got.MaxTokens)
		assert.Nil(t, chat.got.Temperature)
	})

	t.Run("no sensitive words is an empty list", func(t *testing.T) {
		ports := validPorts()
		ports.Chat = &mockChatService{resp: &domain.ChatResponse{Message: domain.Message{Content: "ok"}}}
		server, err := NewServer(ports)
		require.NoError(t, err)

		_, output, err := server.handleChat(ctx, nil, ChatInput{UserID: "u1", Message: "hi"})
		require.NoError(t, err)
		assert.NotNil(t, output.SensitiveWords)
		assert.Empty(t, output.SensitiveWords)
	})

	t.Run("returns error on chat failure", func(t *testing.T) {
		ports := validPorts()
		ports.Chat = &mockChatService{err: domain.ErrInvalidInput}
		server, err := NewServer(ports)
		require.NoError(t, err)

		_, _, err = server.handleChat(ctx, nil, ChatInput{})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestServer_handleHistory(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("prefers filtered content", func(t *testing.T) {
		history := &mockHistoryService{turns: []domain.ChatTurn{
			{ID: 2, SessionID: "s1", Role: domain.RoleAssistant, RawContent: "raw politics", FilteredContent: "raw ********", Timestamp: ts},
			{ID: 1, SessionID: "s1", Role: domain.RoleUser, RawContent: "hello", Timestamp: ts},
		}}
		ports := validPorts()
		ports.History = history
		server, err := NewServer(ports)
		require.NoError(t, err)

		_, output, err := server.handleHistory(ctx, nil, HistoryInput{UserID: "u1", SessionID: "s1", Limit: 5})
		require.NoError(t, err)

		assert.Equal(t, 2, output.Count)
		assert.Equal(t, "raw ********", output.Turns[0].Content)
		assert.Equal(t, "hello", output.Turns[1].Content)
		assert.Equal(t, "2026-03-01T09:00:00Z", output.Turns[0].Timestamp)
		assert.Equal(t, domain.HistoryQuery{SessionID: "s1", Limit: 5}, history.got)
	})

	t.Run("unavailable without history service", func(t *testing.T) {
		server, err := NewServer(validPorts())
		require.NoError(t, err)

		_, _, err = server.handleHistory(ctx, nil, HistoryInput{UserID: "u1"})
		assert.ErrorIs(t, err, ErrHistoryUnavailable)
	})

	t.Run("returns error on failure", func(t *testing.T) {
		ports := validPorts()
		ports.History = &mockHistoryService{err: errors.New("db down")}
		server, err := NewServer(ports)
		require.NoError(t, err)

		_, _, err = server.handleHistory(ctx, nil, HistoryInput{UserID: "u1"})
		assert.Contains(t, err.Error(), "db down")
	})
}

func TestServer_handleFilter(t *testing.T) {
	ports := validPorts()
	ports.Filter = &mockFilter{terms: []string{"scam"}}
	server, err := NewServer(ports)
	require.NoError(t, err)

	_, output, err := server.handleFilter(context.Background(), nil, FilterInput{Text: "a scam offer"})
	require.NoError(t, err)
	assert.Equal(t, "a **** offer", output.Masked)
	assert.Equal(t, []string{"scam"}, output.Found)

	_, output, err = server.handleFilter(context.Background(), nil, FilterInput{Text: "clean"})
	require.NoError(t, err)
	assert.Equal(t, "clean", output.Masked)
	assert.NotNil(t, output.Found)
}

func TestServer_handleSearchKnowledge(t *testing.T) {
	kb := &mockKnowledge{hits: []domain.RetrievalHit{
		{ID: "kb1", Title: "Support", Content: "Call us", Similarity: 0.42},
	}}
	ports := validPorts()
	ports.Knowledge = kb
	server, err := NewServer(ports)
	require.NoError(t, err)

	_, output, err := server.handleSearchKnowledge(context.Background(), nil, KnowledgeInput{Query: "support"})
	require.NoError(t, err)
	assert.Equal(t, 3, kb.gotTopK)
	assert.Equal(t, 1, output.Count)
	assert.Equal(t, KnowledgeResultOutput{ID: "kb1", Title: "Support", Content: "Call us", Similarity: 0.42}, output.Results[0])

	_, _, err = server.handleSearchKnowledge(context.Background(), nil, KnowledgeInput{Query: "support", TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, kb.gotTopK)
}
