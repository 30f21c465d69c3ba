package driving

import (
	"context"

	"github.com/custodia-labs/chatguard/internal/core/domain"
)

// HistoryService reads and prunes persisted chat history.
type HistoryService interface {
	// History returns a user's turns, most recent first.
	History(ctx context.Context, userID string, q domain.HistoryQuery) ([]domain.ChatTurn, error)

	// Sessions returns a user's sessions, most recently active first.
	Sessions(ctx context.Context, userID string) ([]domain.SessionSummary, error)

	// Delete removes the selected turns. At least one filter field is required.
	Delete(ctx context.Context, filter domain.DeleteFilter) (int64, error)
}
