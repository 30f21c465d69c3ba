package driven

import (
	"context"

	"github.com/custodia-labs/chatguard/internal/core/domain"
)

// HistoryStore persists chat turns. Turns are never updated once appended.
type HistoryStore interface {
	// Append stores a turn and returns its assigned ID.
	Append(ctx context.Context, turn domain.ChatTurn) (int64, error)

	// List returns a user's turns, most recent first.
	List(ctx context.Context, userID string, q domain.HistoryQuery) ([]domain.ChatTurn, error)

	// Sessions returns a user's sessions ordered by latest activity, most recent first.
	Sessions(ctx context.Context, userID string) ([]domain.SessionSummary, error)

	// Delete removes the turns selected by filter and returns how many were removed.
	Delete(ctx context.Context, filter domain.DeleteFilter) (int64, error)

	// Close releases resources.
	Close() error
}
