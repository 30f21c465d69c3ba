package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/custodia-labs/chatguard/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/chatguard/internal/core/domain"
	"github.com/custodia-labs/chatguard/internal/core/filter"
	"github.com/custodia-labs/chatguard/internal/core/knowledge"
	"github.com/custodia-labs/chatguard/internal/core/ports/driven"
)

// --- Mock implementations ---

// mockProvider implements driven.CompletionProvider for testing.
type mockProvider struct {
	mu       sync.Mutex
	requests []driven.CompletionRequest

	completion *driven.Completion
	err        error

	chunks    []string
	streamErr error // returned by Recv after the chunks
	openErr   error
	stream    *mockStream
}

func (m *mockProvider) Complete(_ context.Context, req driven.CompletionRequest) (*driven.Completion, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.completion, nil
}

func (m *mockProvider) Stream(_ context.Context, req driven.CompletionRequest) (driven.CompletionStream, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.stream = &mockStream{chunks: m.chunks, err: m.streamErr}
	return m.stream, nil
}

func (m *mockProvider) ModelName() string            { return "mock-model" }
func (m *mockProvider) Ping(_ context.Context) error { return nil }
func (m *mockProvider) Close() error                 { return nil }

func (m *mockProvider) lastRequest() driven.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

// mockStream replays chunks, then returns err or io.EOF.
type mockStream struct {
	chunks []string
	err    error
	pos    int
	recvs  int
	closed bool
}

func (s *mockStream) Recv() (driven.CompletionChunk, error) {
	s.recvs++
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return driven.CompletionChunk{Content: c}, nil
	}
	if s.err != nil {
		return driven.CompletionChunk{}, s.err
	}
	return driven.CompletionChunk{}, io.EOF
}

func (s *mockStream) Close() error {
	s.closed = true
	return nil
}

// --- Helpers ---

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestChatService(
	t *testing.T,
	terms []string,
	docs []domain.KnowledgeDocument,
	provider driven.CompletionProvider,
	cfg ChatConfig,
) (*ChatService, *memory.HistoryStore) {
	t.Helper()
	store := memory.NewHistoryStore()
	svc := NewChatService(
		filter.NewHolder(filter.Build(terms)),
		knowledge.BuildIndex(docs),
		provider,
		store,
		cfg,
	)
	svc.now = func() time.Time { return fixedNow }
	n := 0
	svc.sessionID = func() string {
		n++
		return "session-" + string(rune('0'+n))
	}
	return svc, store
}

func userRequest(content string) domain.ChatRequest {
	return domain.ChatRequest{
		UserID:   "u1",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: content}},
	}
}

func allTurns(t *testing.T, store *memory.HistoryStore, userID string) []domain.ChatTurn {
	t.Helper()
	turns, err := store.List(context.Background(), userID, domain.HistoryQuery{Limit: 1000})
	require.NoError(t, err)
	// Oldest first reads more naturally in assertions.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}

func collect(units *[]domain.StreamUnit) func(domain.StreamUnit) error {
	return func(u domain.StreamUnit) error {
		*units = append(*units, u)
		return nil
	}
}

// --- Non-streaming ---

func TestChatService_Chat_FiltersBothDirections(t *testing.T) {
	provider := &mockProvider{completion: &driven.Completion{
		Content: "we never discuss gambling here",
		Usage: map[string]any{
			"prompt_tokens":             float64(12),
			"completion_tokens":         float64(5),
			"total_tokens":              float64(17),
			"completion_tokens_details": map[string]any{"reasoning_tokens": float64(2)},
		},
	}}
	svc, store := newTestChatService(t, []string{"gambling", "politics"}, nil, provider, ChatConfig{})

	resp, err := svc.Chat(context.Background(), userRequest("is gambling allowed?"))
	require.NoError(t, err)

	assert.Equal(t, "u1", resp.UserID)
	assert.Equal(t, "session-1", resp.SessionID)
	assert.Equal(t, domain.RoleAssistant, resp.Message.Role)
	assert.Equal(t, "we never discuss ******** here", resp.Message.Content)
	assert.Equal(t, []string{"gambling"}, resp.Message.Metadata[domain.MetaSensitiveWords])
	assert.Equal(t, map[string]int{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}, resp.Usage)
	assert.Equal(t, "mock-model", resp.Model)
	assert.Equal(t, fixedNow, resp.Timestamp)

	// The provider sees masked input.
	req := provider.lastRequest()
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "is ******** allowed?", req.Messages[0].Content)
	assert.Equal(t, domain.DefaultMaxTokens, req.MaxTokens)
	assert.InDelta(t, domain.DefaultTemperature, req.Temperature, 1e-9)

	turns := allTurns(t, store, "u1")
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, "is gambling allowed?", turns[0].RawContent)
	assert.Equal(t, "is ******** allowed?", turns[0].FilteredContent)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
	assert.Equal(t, "we never discuss gambling here", turns[1].RawContent)
	assert.Equal(t, "we never discuss ******** here", turns[1].FilteredContent)
	assert.Equal(t, "session-1", turns[1].SessionID)
}

func TestChatService_Chat_UserTurnPersistedWithoutMatches(t *testing.T) {
	provider := &mockProvider{completion: &driven.Completion{Content: "hi"}}
	svc, store := newTestChatService(t, []string{"politics"}, nil, provider, ChatConfig{})

	_, err := svc.Chat(context.Background(), userRequest("hello"))
	require.NoError(t, err)

	turns := allTurns(t, store, "u1")
	require.Len(t, turns, 2)
	assert.Equal(t, []string{}, turns[0].Metadata[domain.MetaSensitiveWords])
	assert.Equal(t, "hello", turns[0].FilteredContent)
}

func TestChatService_Chat_EndToEndScenario(t *testing.T) {
	docs := []domain.KnowledgeDocument{{ID: "kb1", Title: "About", Content: "Our company builds AI."}}
	provider := &mockProvider{completion: &driven.Completion{Content: "We build AI."}}
	svc, store := newTestChatService(t, []string{"politics"}, docs, provider, ChatConfig{})

	_, err := svc.Chat(context.Background(), userRequest("tell me about politics and your company"))
	require.NoError(t, err)

	turns := allTurns(t, store, "u1")
	require.Len(t, turns, 2)
	user := turns[0]
	assert.Equal(t, "tell me about ******** and your company", user.FilteredContent)
	assert.NotContains(t, user.FilteredContent, "politics")
	assert.Equal(t, []string{"politics"}, user.Metadata[domain.MetaSensitiveWords])
	assert.Equal(t, []string{"kb1"}, user.Metadata[domain.MetaKnowledgeIDs])

	prompt := provider.lastRequest().Messages[0].Content
	assert.Contains(t, prompt, "tell me about ******** and your company")
	assert.Contains(t, prompt, "[About]Our company builds AI.")
	assert.NotContains(t, prompt, "politics")
}

func TestChatService_Chat_SendsPriorMessagesUnfiltered(t *testing.T) {
	provider := &mockProvider{completion: &driven.Completion{Content: "ok"}}
	svc, _ := newTestChatService(t, []string{"violence"}, nil, provider, ChatConfig{})

	maxTokens := 64
	temp := 0.2
	req := domain.ChatRequest{
		UserID: "u1",
		Model:  "custom-model",
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "tell me about violence"},
			{Role: domain.RoleAssistant, Content: "no"},
			{Role: domain.RoleUser, Content: "why not violence?"},
		},
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	}

	resp, err := svc.Chat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "custom-model", resp.Model)

	sent := provider.lastRequest()
	assert.Equal(t, "custom-model", sent.Model)
	assert.Equal(t, 64, sent.MaxTokens)
	assert.InDelta(t, 0.2, sent.Temperature, 1e-9)
	assert.Equal(t, []driven.ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "tell me about violence"},
		{Role: "assistant", Content: "no"},
		{Role: "user", Content: "why not ********?"},
	}, sent.Messages)
}

func TestChatService_Chat_ProviderFailureFallback(t *testing.T) {
	provider := &mockProvider{err: &domain.ProviderError{Provider: "openai", StatusCode: 502, Message: "bad gateway"}}
	svc, store := newTestChatService(t, nil, nil, provider, ChatConfig{})

	resp, err := svc.Chat(context.Background(), userRequest("hello"))
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultFallbackMessage, resp.Message.Content)
	assert.Equal(t, true, resp.Message.Metadata[domain.MetaError])
	assert.Nil(t, resp.Usage)

	turns := allTurns(t, store, "u1")
	require.Len(t, turns, 2)
	assistant := turns[1]
	assert.Equal(t, domain.RoleAssistant, assistant.Role)
	assert.Equal(t, domain.DefaultFallbackMessage, assistant.RawContent)
	assert.Equal(t, true, assistant.Metadata[domain.MetaError])
	assert.Contains(t, assistant.Metadata[domain.MetaErrorMessage], "bad gateway")
}

func TestChatService_Chat_NoProviderUsesFallback(t *testing.T) {
	svc, _ := newTestChatService(t, nil, nil, nil, ChatConfig{FallbackMessage: "try later"})

	resp, err := svc.Chat(context.Background(), userRequest("hello"))
	require.NoError(t, err)
	assert.Equal(t, "try later", resp.Message.Content)
	assert.Equal(t, domain.DefaultModel, resp.Model)
}

func TestChatService_Chat_PersistenceFailureIgnored(t *testing.T) {
	provider := &mockProvider{completion: &driven.Completion{Content: "fine"}}
	svc, store := newTestChatService(t, nil, nil, provider, ChatConfig{})
	store.FailAppends(errors.New("database is locked"))

	resp, err := svc.Chat(context.Background(), userRequest("hello"))
	require.NoError(t, err)
	assert.Equal(t, "fine", resp.Message.Content)
}

func TestChatService_Chat_ValidationError(t *testing.T) {
	provider := &mockProvider{completion: &driven.Completion{Content: "x"}}
	svc, store := newTestChatService(t, nil, nil, provider, ChatConfig{})

	tests := []struct {
		name string
		req  domain.ChatRequest
	}{
		{"no messages", domain.ChatRequest{UserID: "u1"}},
		{"no user", domain.ChatRequest{Messages: []domain.Message{{Role: domain.RoleUser, Content: "x"}}}},
		{"last not user", domain.ChatRequest{UserID: "u1", Messages: []domain.Message{{Role: domain.RoleAssistant, Content: "x"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Chat(context.Background(), tt.req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
	assert.Empty(t, allTurns(t, store, "u1"))
	assert.Empty(t, provider.requests)
}

func TestChatService_Chat_SessionIDs(t *testing.T) {
	provider := &mockProvider{completion: &driven.Completion{Content: "ok"}}

	t.Run("fresh per request by default", func(t *testing.T) {
		svc, _ := newTestChatService(t, nil, nil, provider, ChatConfig{})
		req := userRequest("a")
		req.SessionID = "client-chosen"

		first, err := svc.Chat(context.Background(), req)
		require.NoError(t, err)
		second, err := svc.Chat(context.Background(), req)
		require.NoError(t, err)

		assert.NotEqual(t, "client-chosen", first.SessionID)
		assert.NotEqual(t, first.SessionID, second.SessionID)
	})

	t.Run("client supplied when enabled", func(t *testing.T) {
		svc, store := newTestChatService(t, nil, nil, provider, ChatConfig{ClientSessionIDs: true})
		req := userRequest("a")
		req.SessionID = "client-chosen"

		resp, err := svc.Chat(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "client-chosen", resp.SessionID)
		for _, tr := range allTurns(t, store, "u1") {
			assert.Equal(t, "client-chosen", tr.SessionID)
		}

		resp, err = svc.Chat(context.Background(), userRequest("b"))
		require.NoError(t, err)
		assert.NotEmpty(t, resp.SessionID)
		assert.NotEqual(t, "client-chosen", resp.SessionID)
	})
}

func TestChatService_Chat_DefaultSessionIsUUID(t *testing.T) {
	svc := NewChatService(nil, nil, &mockProvider{completion: &driven.Completion{}}, nil, ChatConfig{})

	resp, err := svc.Chat(context.Background(), userRequest("a"))
	require.NoError(t, err)
	assert.Len(t, resp.SessionID, 36)
}

// --- Streaming ---

func TestChatService_ChatStream_EmitsPartialsThenFinal(t *testing.T) {
	defer goleak.VerifyNone(t)

	provider := &mockProvider{chunks: []string{"Hello ", "", "about fraud", "!"}}
	svc, store := newTestChatService(t, []string{"fraud"}, nil, provider, ChatConfig{})

	var units []domain.StreamUnit
	err := svc.ChatStream(context.Background(), userRequest("hi"), collect(&units))
	require.NoError(t, err)

	require.Len(t, units, 4)
	assert.Equal(t, "Hello ", units[0].Content)
	assert.Equal(t, "about *****", units[1].Content)
	assert.Equal(t, "!", units[2].Content)
	for _, u := range units[:3] {
		assert.False(t, u.IsFinal)
		assert.Equal(t, "session-1", u.SessionID)
		assert.Equal(t, "u1", u.UserID)
	}

	final := units[3]
	assert.True(t, final.IsFinal)
	assert.Equal(t, "Hello about *****!", final.Content)
	assert.Equal(t, []string{"fraud"}, final.Metadata[domain.MetaSensitiveWords])
	assert.True(t, provider.stream.closed)

	turns := allTurns(t, store, "u1")
	require.Len(t, turns, 2)
	assert.Equal(t, "Hello about fraud!", turns[1].RawContent)
	assert.Equal(t, "Hello about *****!", turns[1].FilteredContent)
}

func TestChatService_ChatStream_ChunkBoundaryNotMaskedInPartials(t *testing.T) {
	provider := &mockProvider{chunks: []string{"pol", "itics"}}
	svc, store := newTestChatService(t, []string{"politics"}, nil, provider, ChatConfig{})

	var units []domain.StreamUnit
	require.NoError(t, svc.ChatStream(context.Background(), userRequest("hi"), collect(&units)))

	require.Len(t, units, 3)
	assert.Equal(t, "pol", units[0].Content)
	assert.Equal(t, "itics", units[1].Content)
	assert.Equal(t, "********", units[2].Content)
	assert.True(t, units[2].IsFinal)

	turns := allTurns(t, store, "u1")
	assert.Equal(t, "********", turns[1].FilteredContent)
}

func TestChatService_ChatStream_OpenFailureEmitsFallback(t *testing.T) {
	provider := &mockProvider{openErr: errors.New("connection refused")}
	svc, store := newTestChatService(t, nil, nil, provider, ChatConfig{})

	var units []domain.StreamUnit
	require.NoError(t, svc.ChatStream(context.Background(), userRequest("hello"), collect(&units)))

	require.Len(t, units, 1)
	assert.True(t, units[0].IsFinal)
	assert.Equal(t, domain.DefaultFallbackMessage, units[0].Content)
	assert.Equal(t, true, units[0].Metadata[domain.MetaError])

	turns := allTurns(t, store, "u1")
	require.Len(t, turns, 2)
	assert.Equal(t, "connection refused", turns[1].Metadata[domain.MetaErrorMessage])
}

func TestChatService_ChatStream_MidStreamFailure(t *testing.T) {
	t.Run("after content", func(t *testing.T) {
		provider := &mockProvider{chunks: []string{"partial answer"}, streamErr: errors.New("reset by peer")}
		svc, store := newTestChatService(t, nil, nil, provider, ChatConfig{})

		var units []domain.StreamUnit
		require.NoError(t, svc.ChatStream(context.Background(), userRequest("hello"), collect(&units)))

		require.Len(t, units, 2)
		final := units[1]
		assert.True(t, final.IsFinal)
		assert.Equal(t, "partial answer", final.Content)
		assert.Equal(t, true, final.Metadata[domain.MetaError])
		assert.Equal(t, true, final.Metadata[domain.MetaPartial])
		assert.NotContains(t, final.Metadata, domain.MetaErrorMessage)

		turns := allTurns(t, store, "u1")
		require.Len(t, turns, 2)
		assert.Equal(t, "reset by peer", turns[1].Metadata[domain.MetaErrorMessage])
	})

	t.Run("before content", func(t *testing.T) {
		provider := &mockProvider{streamErr: errors.New("malformed chunk")}
		svc, _ := newTestChatService(t, nil, nil, provider, ChatConfig{})

		var units []domain.StreamUnit
		require.NoError(t, svc.ChatStream(context.Background(), userRequest("hello"), collect(&units)))

		require.Len(t, units, 1)
		assert.True(t, units[0].IsFinal)
		assert.Equal(t, domain.DefaultFallbackMessage, units[0].Content)
	})
}

func TestChatService_ChatStream_CallerDisconnect(t *testing.T) {
	provider := &mockProvider{chunks: []string{"one ", "two ", "three"}}
	svc, store := newTestChatService(t, nil, nil, provider, ChatConfig{})

	gone := errors.New("client gone")
	var units []domain.StreamUnit
	err := svc.ChatStream(context.Background(), userRequest("hello"), func(u domain.StreamUnit) error {
		units = append(units, u)
		if len(units) == 2 {
			return gone
		}
		return nil
	})

	assert.ErrorIs(t, err, gone)
	require.Len(t, units, 2)
	assert.False(t, units[1].IsFinal)
	assert.True(t, provider.stream.closed)
	assert.Equal(t, 2, provider.stream.recvs, "no chunk is pulled after the consumer stops")

	turns := allTurns(t, store, "u1")
	require.Len(t, turns, 2)
	assert.Equal(t, "one two ", turns[1].RawContent)
	assert.Equal(t, true, turns[1].Metadata[domain.MetaPartial])
	assert.Equal(t, true, turns[1].Metadata[domain.MetaCancelled])
}

func TestChatService_ChatStream_ContextCancelled(t *testing.T) {
	provider := &mockProvider{chunks: []string{"a", "b", "c"}}
	svc, store := newTestChatService(t, nil, nil, provider, ChatConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	var units []domain.StreamUnit
	err := svc.ChatStream(ctx, userRequest("hello"), func(u domain.StreamUnit) error {
		units = append(units, u)
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, units, 1)

	// The write survives cancellation of the request context.
	turns := allTurns(t, store, "u1")
	require.Len(t, turns, 2)
	assert.Equal(t, true, turns[1].Metadata[domain.MetaCancelled])
}

func TestChatService_ChatStream_ValidationError(t *testing.T) {
	svc, _ := newTestChatService(t, nil, nil, &mockProvider{}, ChatConfig{})

	called := false
	err := svc.ChatStream(context.Background(), domain.ChatRequest{UserID: "u1"}, func(domain.StreamUnit) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.False(t, called)
}

func TestChatService_FilterAndSearch(t *testing.T) {
	docs := []domain.KnowledgeDocument{
		{ID: "kb1", Title: "Support", Content: "Support is available around the clock by phone and email."},
		{ID: "kb2", Title: "Products", Content: "We sell chat assistants and language tools."},
	}
	svc, _ := newTestChatService(t, []string{"scam"}, docs, nil, ChatConfig{})

	masked, found := svc.Filter("is this a scam")
	assert.Equal(t, "is this a ****", masked)
	assert.Equal(t, []string{"scam"}, found)

	hits := svc.SearchKnowledge("phone support", 3)
	require.NotEmpty(t, hits)
	assert.Equal(t, "kb1", hits[0].ID)

	doc, ok := svc.KnowledgeDocument("kb1")
	require.True(t, ok)
	assert.Equal(t, hits[0].Title, doc.Title)

	_, ok = svc.KnowledgeDocument("missing")
	assert.False(t, ok)
}

func TestChatService_ConcurrentRequests(t *testing.T) {
	provider := &mockProvider{completion: &driven.Completion{Content: "violence is bad"}}
	svc := NewChatService(
		filter.NewHolder(filter.Build([]string{"violence"})),
		knowledge.BuildIndex(nil),
		provider,
		memory.NewHistoryStore(),
		ChatConfig{},
	)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := svc.Chat(context.Background(), userRequest("violence?"))
			if assert.NoError(t, err) {
				assert.True(t, strings.HasPrefix(resp.Message.Content, "********"))
			}
		}()
	}
	wg.Wait()
}
