package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/chatguard/internal/core/domain"
	"github.com/custodia-labs/chatguard/internal/core/filter"
	"github.com/custodia-labs/chatguard/internal/core/knowledge"
	"github.com/custodia-labs/chatguard/internal/core/ports/driven"
	"github.com/custodia-labs/chatguard/internal/core/ports/driving"
	"github.com/custodia-labs/chatguard/internal/logger"
)

// Ensure ChatService implements the interfaces.
var (
	_ driving.ChatService     = (*ChatService)(nil)
	_ driving.ContentFilter   = (*ChatService)(nil)
	_ driving.KnowledgeSearch = (*ChatService)(nil)
)

// ChatConfig tunes the chat pipeline.
type ChatConfig struct {
	// TopK is the number of knowledge documents attached to a query.
	TopK int

	// FallbackMessage is sent to the user when the provider fails.
	FallbackMessage string

	// ClientSessionIDs accepts a session_id supplied by the caller.
	// When false every request gets a fresh session.
	ClientSessionIDs bool
}

// ChatService runs each request through input filtering, knowledge
// retrieval, the completion provider, output filtering and persistence.
//
// The matcher and index are shared read-only between requests.
type ChatService struct {
	matcher  *filter.Holder
	index    *knowledge.Index
	provider driven.CompletionProvider
	history  driven.HistoryStore
	cfg      ChatConfig

	now       func() time.Time
	sessionID func() string
}

// NewChatService creates a chat service. A nil provider makes every request
// take the fallback path. A nil history store disables persistence.
func NewChatService(
	matcher *filter.Holder,
	index *knowledge.Index,
	provider driven.CompletionProvider,
	history driven.HistoryStore,
	cfg ChatConfig,
) *ChatService {
	if matcher == nil {
		matcher = filter.NewHolder(nil)
	}
	if index == nil {
		index = knowledge.BuildIndex(nil)
	}
	if cfg.TopK < 1 {
		cfg.TopK = knowledge.DefaultTopK
	}
	if cfg.FallbackMessage == "" {
		cfg.FallbackMessage = domain.DefaultFallbackMessage
	}
	return &ChatService{
		matcher:   matcher,
		index:     index,
		provider:  provider,
		history:   history,
		cfg:       cfg,
		now:       time.Now,
		sessionID: uuid.NewString,
	}
}

// Filter masks registered terms in text.
func (s *ChatService) Filter(text string) (string, []string) {
	res := s.matcher.Scan(text)
	return res.Masked, res.Found
}

// SearchKnowledge returns the documents most relevant to query.
func (s *ChatService) SearchKnowledge(query string, topK int) []domain.RetrievalHit {
	return s.index.Query(query, topK)
}

// KnowledgeDocument returns a corpus document by id.
func (s *ChatService) KnowledgeDocument(id string) (domain.KnowledgeDocument, bool) {
	return s.index.Document(id)
}

// exchange carries one request through the pipeline.
type exchange struct {
	req       domain.ChatRequest
	sessionID string
	model     string
	prompt    driven.CompletionRequest
}

// prepare runs the steps shared by both modes: session assignment, input
// filtering with persistence of the user turn, retrieval and prompt assembly.
func (s *ChatService) prepare(ctx context.Context, req domain.ChatRequest) (*exchange, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ex := &exchange{
		req:       req,
		sessionID: s.assignSession(req),
		model:     s.modelFor(req),
	}

	latest := req.Latest()
	in := s.matcher.Scan(latest.Content)
	logger.Debug("chat: session %s input matched %d terms", ex.sessionID, len(in.Found))

	augmented, hits := s.index.AugmentedQuery(in.Masked, s.cfg.TopK)
	logger.Debug("chat: session %s retrieved %d knowledge documents", ex.sessionID, len(hits))

	meta := map[string]any{domain.MetaSensitiveWords: in.Found}
	if len(hits) > 0 {
		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
		}
		meta[domain.MetaKnowledgeIDs] = ids
	}
	s.record(ctx, ex, domain.RoleUser, latest.Content, in.Masked, meta)

	messages := driven.ToChatMessages(req.Prior())
	messages = append(messages, driven.ChatMessage{
		Role:    domain.RoleUser.String(),
		Content: augmented,
	})
	ex.prompt = driven.CompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokensOrDefault(),
		Temperature: req.TemperatureOrDefault(),
	}
	return ex, nil
}

// Chat processes a request and returns the complete reply. Provider
// failures produce the fallback reply, not an error.
func (s *ChatService) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ex, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	completion, err := s.complete(ctx, ex.prompt)
	if err != nil {
		logger.Warn("chat: provider call failed for session %s: %v", ex.sessionID, err)
		return s.fallbackResponse(ctx, ex, err), nil
	}

	out := s.matcher.Scan(completion.Content)
	usage := ExtractUsage(completion.Usage)

	meta := map[string]any{domain.MetaSensitiveWords: out.Found}
	persisted := map[string]any{domain.MetaSensitiveWords: out.Found}
	if len(usage) > 0 {
		persisted["usage"] = usage
	}
	s.record(ctx, ex, domain.RoleAssistant, completion.Content, out.Masked, persisted)

	return &domain.ChatResponse{
		UserID:    req.UserID,
		SessionID: ex.sessionID,
		Message: domain.Message{
			Role:     domain.RoleAssistant,
			Content:  out.Masked,
			Metadata: meta,
		},
		Model:     ex.model,
		Usage:     usage,
		Timestamp: s.now(),
	}, nil
}

func (s *ChatService) complete(ctx context.Context, req driven.CompletionRequest) (*driven.Completion, error) {
	if s.provider == nil {
		return nil, domain.ErrProviderUnavailable
	}
	return s.provider.Complete(ctx, req)
}

func (s *ChatService) fallbackResponse(ctx context.Context, ex *exchange, cause error) *domain.ChatResponse {
	content := s.cfg.FallbackMessage
	s.record(ctx, ex, domain.RoleAssistant, content, s.matcher.Scan(content).Masked, map[string]any{
		domain.MetaError:        true,
		domain.MetaErrorMessage: cause.Error(),
	})
	return &domain.ChatResponse{
		UserID:    ex.req.UserID,
		SessionID: ex.sessionID,
		Message: domain.Message{
			Role:     domain.RoleAssistant,
			Content:  content,
			Metadata: map[string]any{domain.MetaError: true},
		},
		Model:     ex.model,
		Timestamp: s.now(),
	}
}

// ChatStream processes a request and emits the reply incrementally.
//
// Every provider chunk is masked on its own and emitted with IsFinal unset.
// A term split across two chunks is therefore not masked in the partial
// units; the final unit carries the whole reply masked in one pass.
//
// If the provider fails before or during the stream, a final unit is still
// emitted: the masked partial reply if any content arrived, otherwise the
// fallback message, with error metadata. If emit fails or ctx is cancelled
// the provider stream is closed, what was received is persisted marked
// partial and cancelled, and no final unit is emitted.
func (s *ChatService) ChatStream(ctx context.Context, req domain.ChatRequest, emit driving.EmitFunc) error {
	ex, err := s.prepare(ctx, req)
	if err != nil {
		return err
	}

	stream, err := s.openStream(ctx, ex.prompt)
	if err != nil {
		logger.Warn("chat: provider stream failed for session %s: %v", ex.sessionID, err)
		resp := s.fallbackResponse(ctx, ex, err)
		return emit(s.unit(ex, resp.Message.Content, true, resp.Message.Metadata))
	}

	var full strings.Builder
	var streamErr, emitErr error
	for {
		if err := ctx.Err(); err != nil {
			emitErr = err
			break
		}
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				emitErr = ctxErr
			} else {
				streamErr = err
			}
			break
		}
		if chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		masked := s.matcher.Scan(chunk.Content).Masked
		if err := emit(s.unit(ex, masked, false, nil)); err != nil {
			emitErr = err
			break
		}
	}
	if err := stream.Close(); err != nil {
		logger.Debug("chat: closing provider stream: %v", err)
	}

	raw := full.String()
	out := s.matcher.Scan(raw)
	meta := map[string]any{domain.MetaSensitiveWords: out.Found}

	switch {
	case emitErr != nil:
		logger.Info("chat: stream for session %s stopped by caller: %v", ex.sessionID, emitErr)
		meta[domain.MetaPartial] = true
		meta[domain.MetaCancelled] = true
		s.record(ctx, ex, domain.RoleAssistant, raw, out.Masked, meta)
		return emitErr

	case streamErr != nil:
		logger.Warn("chat: provider stream broke for session %s: %v", ex.sessionID, streamErr)
		if raw == "" {
			resp := s.fallbackResponse(ctx, ex, streamErr)
			return emit(s.unit(ex, resp.Message.Content, true, resp.Message.Metadata))
		}
		meta[domain.MetaPartial] = true
		meta[domain.MetaError] = true
		persisted := copyMeta(meta)
		persisted[domain.MetaErrorMessage] = streamErr.Error()
		s.record(ctx, ex, domain.RoleAssistant, raw, out.Masked, persisted)
		return emit(s.unit(ex, out.Masked, true, meta))
	}

	s.record(ctx, ex, domain.RoleAssistant, raw, out.Masked, meta)
	return emit(s.unit(ex, out.Masked, true, copyMeta(meta)))
}

func (s *ChatService) openStream(ctx context.Context, req driven.CompletionRequest) (driven.CompletionStream, error) {
	if s.provider == nil {
		return nil, domain.ErrProviderUnavailable
	}
	return s.provider.Stream(ctx, req)
}

func (s *ChatService) unit(ex *exchange, content string, final bool, meta map[string]any) domain.StreamUnit {
	return domain.StreamUnit{
		UserID:    ex.req.UserID,
		SessionID: ex.sessionID,
		Content:   content,
		Model:     ex.model,
		IsFinal:   final,
		Metadata:  meta,
	}
}

// record persists a turn. Failures are logged and dropped so they never
// affect the reply. Cancellation of ctx does not abort the write.
func (s *ChatService) record(
	ctx context.Context,
	ex *exchange,
	role domain.Role,
	raw, filtered string,
	meta map[string]any,
) {
	if s.history == nil {
		return
	}
	turn := domain.ChatTurn{
		UserID:          ex.req.UserID,
		SessionID:       ex.sessionID,
		Role:            role,
		RawContent:      raw,
		FilteredContent: filtered,
		Metadata:        meta,
		Timestamp:       s.now().UTC(),
	}
	if _, err := s.history.Append(context.WithoutCancel(ctx), turn); err != nil {
		logger.Warn("chat: %v", fmt.Errorf("recording %s turn for session %s: %w", role, ex.sessionID, err))
	}
}

func (s *ChatService) assignSession(req domain.ChatRequest) string {
	if s.cfg.ClientSessionIDs && req.SessionID != "" {
		return req.SessionID
	}
	return s.sessionID()
}

func (s *ChatService) modelFor(req domain.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	if s.provider != nil {
		if name := s.provider.ModelName(); name != "" {
			return name
		}
	}
	return req.ModelOrDefault()
}

func copyMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
