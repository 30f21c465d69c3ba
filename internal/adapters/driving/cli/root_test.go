package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/chatguard/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/chatguard/internal/core/domain"
	"github.com/custodia-labs/chatguard/internal/core/ports/driving"
	"github.com/custodia-labs/chatguard/internal/core/services"
)

// mockChatService replies with a fixed text, streamed word by word.
type mockChatService struct {
	reply string
	err   error
	last  domain.ChatRequest
}

func (m *mockChatService) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	return &domain.ChatResponse{
		UserID:    req.UserID,
		SessionID: "session-1",
		Message:   domain.Message{Role: domain.RoleAssistant, Content: m.reply},
		Model:     domain.DefaultModel,
		Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (m *mockChatService) ChatStream(_ context.Context, req domain.ChatRequest, emit driving.EmitFunc) error {
	m.last = req
	if m.err != nil {
		return m.err
	}
	for _, w := range strings.SplitAfter(m.reply, " ") {
		if err := emit(domain.StreamUnit{UserID: req.UserID, Content: w}); err != nil {
			return err
		}
	}
	return emit(domain.StreamUnit{UserID: req.UserID, Content: m.reply, IsFinal: true})
}

// mockFilter masks the word "scam".
type mockFilter struct{}

func (mockFilter) Filter(text string) (string, []string) {
	if !strings.Contains(text, "scam") {
		return text, []string{}
	}
	return strings.ReplaceAll(text, "scam", "****"), []string{"scam"}
}

// mockKnowledge returns a single document for any query containing "support".
type mockKnowledge struct {
	lastTopK int
}

var supportDoc = domain.KnowledgeDocument{ID: "kb1", Title: "Support", Content: "Support is available by phone."}

func (m *mockKnowledge) SearchKnowledge(query string, topK int) []domain.RetrievalHit {
	m.lastTopK = topK
	if !strings.Contains(query, "support") {
		return []domain.RetrievalHit{}
	}
	return []domain.RetrievalHit{{ID: supportDoc.ID, Title: supportDoc.Title, Content: supportDoc.Content, Similarity: 0.5}}
}

func (m *mockKnowledge) KnowledgeDocument(id string) (domain.KnowledgeDocument, bool) {
	if id == supportDoc.ID {
		return supportDoc, true
	}
	return domain.KnowledgeDocument{}, false
}

type testServices struct {
	chat      *mockChatService
	knowledge *mockKnowledge
	history   *memory.HistoryStore
	config    *memory.ConfigStore
}

// setupTestServices installs mock services and returns a cleanup function
// that restores the previous ones and resets every flag.
func setupTestServices() (*testServices, func()) {
	ts := &testServices{
		chat:      &mockChatService{reply: "hello from the model"},
		knowledge: &mockKnowledge{},
		history:   memory.NewHistoryStore(),
		config:    memory.NewConfigStore(),
	}

	prevChat, prevFilter, prevKB, prevHistory := chatService, contentFilter, knowledgeSearch, historyService
	prevSettings, prevConfig := settingsService, configStore

	chatService = ts.chat
	contentFilter = mockFilter{}
	knowledgeSearch = ts.knowledge
	historyService = services.NewHistoryService(ts.history)
	configStore = ts.config
	settingsService = services.NewSettingsService(ts.config)

	return ts, func() {
		chatService, contentFilter, knowledgeSearch, historyService = prevChat, prevFilter, prevKB, prevHistory
		settingsService, configStore = prevSettings, prevConfig
		resetFlags(rootCmd)
	}
}

// resetFlags restores every flag to its default; cobra keeps parsed values
// between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCmd_Use(t *testing.T) {
	assert.Equal(t, "chatguard", rootCmd.Use)
}

func TestRootCmd_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "chat", "history", "filter", "kb", "mcp", "settings", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRootCmd_GlobalFlags(t *testing.T) {
	verboseFlag := rootCmd.PersistentFlags().Lookup("verbose")
	if assert.NotNil(t, verboseFlag) {
		assert.Equal(t, "v", verboseFlag.Shorthand)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestLoadServices_KeepsInjectedServices(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	assert.NoError(t, loadServices())
	assert.Same(t, ts.chat, chatService)
	assert.Nil(t, application)
}
