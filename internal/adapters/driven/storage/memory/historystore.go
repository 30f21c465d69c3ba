package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/chatguard/internal/core/domain"
	"github.com/custodia-labs/chatguard/internal/core/ports/driven"
)

// Ensure HistoryStore implements the interface.
var _ driven.HistoryStore = (*HistoryStore)(nil)

// HistoryStore is an in-memory implementation of driven.HistoryStore.
type HistoryStore struct {
	mu     sync.RWMutex
	turns  []domain.ChatTurn
	nextID int64

	// failWith makes Append fail, for exercising persistence errors.
	failWith error
}

// NewHistoryStore creates a new in-memory history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{nextID: 1}
}

// FailAppends makes every subsequent Append return err. Nil restores normal behaviour.
func (s *HistoryStore) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Append stores a turn and returns its assigned ID.
func (s *HistoryStore) Append(_ context.Context, turn domain.ChatTurn) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	turn.ID = s.nextID
	s.nextID++
	s.turns = append(s.turns, turn)
	return turn.ID, nil
}

// List returns a user's turns, most recent first.
func (s *HistoryStore) List(_ context.Context, userID string, q domain.HistoryQuery) ([]domain.ChatTurn, error) {
	q = q.Normalise()

	s.mu.RLock()
	matched := make([]domain.ChatTurn, 0)
	for _, turn := range s.turns {
		if turn.UserID != userID {
			continue
		}
		if q.SessionID != "" && turn.SessionID != q.SessionID {
			continue
		}
		matched = append(matched, turn)
	}
	s.mu.RUnlock()

	sortNewestFirst(matched)

	if q.Offset >= len(matched) {
		return []domain.ChatTurn{}, nil
	}
	matched = matched[q.Offset:]
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Sessions returns a user's sessions ordered by latest activity.
func (s *HistoryStore) Sessions(_ context.Context, userID string) ([]domain.SessionSummary, error) {
	s.mu.RLock()
	latest := make(map[string]domain.SessionSummary)
	for _, turn := range s.turns {
		if turn.UserID != userID {
			continue
		}
		cur, ok := latest[turn.SessionID]
		if !ok || turn.Timestamp.After(cur.LatestMessageTime) {
			latest[turn.SessionID] = domain.SessionSummary{
				SessionID:         turn.SessionID,
				LatestMessageTime: turn.Timestamp,
			}
		}
	}
	s.mu.RUnlock()

	sessions := make([]domain.SessionSummary, 0, len(latest))
	for _, summary := range latest {
		sessions = append(sessions, summary)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].LatestMessageTime.Equal(sessions[j].LatestMessageTime) {
			return sessions[i].SessionID < sessions[j].SessionID
		}
		return sessions[i].LatestMessageTime.After(sessions[j].LatestMessageTime)
	})
	return sessions, nil
}

// Delete removes the turns matching every set field of filter.
func (s *HistoryStore) Delete(_ context.Context, filter domain.DeleteFilter) (int64, error) {
	if filter.IsEmpty() {
		return 0, domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.turns[:0]
	var removed int64
	for _, turn := range s.turns {
		if matchesFilter(turn, filter) {
			removed++
			continue
		}
		kept = append(kept, turn)
	}
	s.turns = kept
	return removed, nil
}

// Close releases resources (no-op for memory store).
func (s *HistoryStore) Close() error {
	return nil
}

func matchesFilter(turn domain.ChatTurn, f domain.DeleteFilter) bool {
	if f.ID != 0 && turn.ID != f.ID {
		return false
	}
	if f.UserID != "" && turn.UserID != f.UserID {
		return false
	}
	if f.SessionID != "" && turn.SessionID != f.SessionID {
		return false
	}
	return true
}

// sortNewestFirst orders by timestamp, then by ID, both descending.
func sortNewestFirst(turns []domain.ChatTurn) {
	sort.Slice(turns, func(i, j int) bool {
		if turns[i].Timestamp.Equal(turns[j].Timestamp) {
			return turns[i].ID > turns[j].ID
		}
		return turns[i].Timestamp.After(turns[j].Timestamp)
	})
}
