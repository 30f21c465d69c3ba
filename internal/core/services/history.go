package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/chatguard/internal/core/domain"
	"github.com/custodia-labs/chatguard/internal/core/ports/driven"
	"github.com/custodia-labs/chatguard/internal/core/ports/driving"
)

// Ensure HistoryService implements the interface.
var _ driving.HistoryService = (*HistoryService)(nil)

// HistoryService reads and prunes persisted chat turns.
type HistoryService struct {
	store driven.HistoryStore
}

// NewHistoryService creates a new history service.
func NewHistoryService(store driven.HistoryStore) *HistoryService {
	return &HistoryService{store: store}
}

// History returns a user's turns, most recent first.
func (s *HistoryService) History(
	ctx context.Context,
	userID string,
	q domain.HistoryQuery,
) ([]domain.ChatTurn, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	turns, err := s.store.List(ctx, userID, q.Normalise())
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return turns, nil
}

// Sessions returns a user's sessions, most recently active first.
func (s *HistoryService) Sessions(ctx context.Context, userID string) ([]domain.SessionSummary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	sessions, err := s.store.Sessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes the selected turns and returns how many were removed.
func (s *HistoryService) Delete(ctx context.Context, filter domain.DeleteFilter) (int64, error) {
	if filter.IsEmpty() {
		return 0, fmt.Errorf("%w: at least one of id, user_id or session_id is required", domain.ErrInvalidInput)
	}
	n, err := s.store.Delete(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete history: %w", err)
	}
	return n, nil
}
