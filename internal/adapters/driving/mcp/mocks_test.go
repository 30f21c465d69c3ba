package mcp

import (
	"context"
	"strings"

	"github.com/custodia-labs/chatguard/internal/core/domain"
	"github.com/custodia-labs/chatguard/internal/core/ports/driving"
)

// mockChatService is a mock implementation of driving.ChatService.
type mockChatService struct {
	resp *domain.ChatResponse
	err  error
	got  domain.ChatRequest
}

func (m *mockChatService) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.got = req
	return m.resp, m.err
}

func (m *mockChatService) ChatStream(_ context.Context, _ domain.ChatRequest, _ driving.EmitFunc) error {
	return m.err
}

// mockFilter masks every occurrence of its terms.
type mockFilter struct {
	terms []string
}

func (m *mockFilter) Filter(text string) (string, []string) {
	var found []string
	for _, t := range m.terms {
		if strings.Contains(text, t) {
			found = append(found, t)
			text = strings.ReplaceAll(text, t, strings.Repeat("*", len([]rune(t))))
		}
	}
	return text, found
}

// mockKnowledge is a mock implementation of driving.KnowledgeSearch.
type mockKnowledge struct {
	hits    []domain.RetrievalHit
	docs    map[string]domain.KnowledgeDocument
	gotTopK int
}

func (m *mockKnowledge) SearchKnowledge(_ string, topK int) []domain.RetrievalHit {
	m.gotTopK = topK
	return m.hits
}

func (m *mockKnowledge) KnowledgeDocument(id string) (domain.KnowledgeDocument, bool) {
	doc, ok := m.docs[id]
	return doc, ok
}

// mockHistoryService is a mock implementation of driving.HistoryService.
type mockHistoryService struct {
	turns []domain.ChatTurn
	err   error
	got   domain.HistoryQuery
}

func (m *mockHistoryService) History(_ context.Context, _ string, q domain.HistoryQuery) ([]domain.ChatTurn, error) {
	m.got = q
	return m.turns, m.err
}

func (m *mockHistoryService) Sessions(_ context.Context, _ string) ([]domain.SessionSummary, error) {
	return nil, m.err
}

func (m *mockHistoryService) Delete(_ context.Context, _ domain.DeleteFilter) (int64, error) {
	return 0, m.err
}

// validPorts returns ports with every required service mocked.
func validPorts() *Ports {
	return &Ports{
		Chat:      &mockChatService{},
		Filter:    &mockFilter{},
		Knowledge: &mockKnowledge{},
	}
}
