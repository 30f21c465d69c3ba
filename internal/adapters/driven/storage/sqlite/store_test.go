package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/chatguard/internal/core/domain"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, store)

	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

var t0 = time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)

func appendTurn(t *testing.T, store *Store, turn domain.ChatTurn) int64 {
	t.Helper()
	id, err := store.Append(context.Background(), turn)
	require.NoError(t, err)
	return id
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, filepath.Join(dir, "history.db"), store.Path())
	_, err = os.Stat(store.Path())
	assert.NoError(t, err)
}

func TestNewStore_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	_, err = store.Append(context.Background(), domain.ChatTurn{
		UserID: "u1", SessionID: "s1", Role: domain.RoleUser, RawContent: "kept", Timestamp: t0,
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Migrations must not run twice.
	store, err = NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	turns, err := store.List(context.Background(), "u1", domain.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "kept", turns[0].RawContent)
}

func TestStore_AppendAndList_RoundTrip(t *testing.T) {
	store := setupTestStore(t)

	want := domain.ChatTurn{
		UserID:          "u1",
		SessionID:       "s1",
		Role:            domain.RoleUser,
		RawContent:      "tell me about politics",
		FilteredContent: "tell me about ********",
		Metadata: map[string]any{
			domain.MetaSensitiveWords: []any{"politics"},
			domain.MetaKnowledgeIDs:   []any{"kb1"},
		},
		Timestamp: t0.Add(123456789 * time.Nanosecond),
	}
	want.ID = appendTurn(t, store, want)
	assert.Positive(t, want.ID)

	got, err := store.List(context.Background(), "u1", domain.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_Append_NilMetadataAndEmptyFiltered(t *testing.T) {
	store := setupTestStore(t)
	appendTurn(t, store, domain.ChatTurn{
		UserID: "u1", SessionID: "s1", Role: domain.RoleAssistant, RawContent: "x", Timestamp: t0,
	})

	got, err := store.List(context.Background(), "u1", domain.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Metadata)
	assert.Empty(t, got[0].FilteredContent)
}

func TestStore_List_OrderFilterPaging(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Sub-second offsets check that ordering is chronological, not lexical on
	// a variable-width format.
	offsets := []time.Duration{0, 500 * time.Millisecond, time.Second, 1500 * time.Millisecond}
	for i, off := range offsets {
		session := "s1"
		if i == 3 {
			session = "s2"
		}
		appendTurn(t, store, domain.ChatTurn{
			UserID: "u1", SessionID: session, Role: domain.RoleUser,
			RawContent: string(rune('a' + i)), Timestamp: t0.Add(off),
		})
	}
	appendTurn(t, store, domain.ChatTurn{UserID: "u2", SessionID: "s9", Role: domain.RoleUser, RawContent: "z", Timestamp: t0})

	contents := func(turns []domain.ChatTurn) []string {
		out := make([]string, len(turns))
		for i, tr := range turns {
			out[i] = tr.RawContent
		}
		return out
	}

	got, err := store.List(ctx, "u1", domain.HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b", "a"}, contents(got))

	got, err = store.List(ctx, "u1", domain.HistoryQuery{SessionID: "s1", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, contents(got))

	got, err = store.List(ctx, "nobody", domain.HistoryQuery{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_Sessions(t *testing.T) {
	store := setupTestStore(t)
	appendTurn(t, store, domain.ChatTurn{UserID: "u1", SessionID: "old", Role: domain.RoleUser, RawContent: "1", Timestamp: t0})
	appendTurn(t, store, domain.ChatTurn{UserID: "u1", SessionID: "new", Role: domain.RoleUser, RawContent: "2", Timestamp: t0.Add(time.Hour)})
	appendTurn(t, store, domain.ChatTurn{UserID: "u1", SessionID: "old", Role: domain.RoleAssistant, RawContent: "3", Timestamp: t0.Add(time.Minute)})
	appendTurn(t, store, domain.ChatTurn{UserID: "u2", SessionID: "x", Role: domain.RoleUser, RawContent: "4", Timestamp: t0})

	got, err := store.Sessions(context.Background(), "u1")
	require.NoError(t, err)

	want := []domain.SessionSummary{
		{SessionID: "new", LatestMessageTime: t0.Add(time.Hour)},
		{SessionID: "old", LatestMessageTime: t0.Add(time.Minute)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Sessions() mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_Delete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id := appendTurn(t, store, domain.ChatTurn{UserID: "u1", SessionID: "s1", Role: domain.RoleUser, RawContent: "a", Timestamp: t0})
	appendTurn(t, store, domain.ChatTurn{UserID: "u1", SessionID: "s2", Role: domain.RoleUser, RawContent: "b", Timestamp: t0})
	appendTurn(t, store, domain.ChatTurn{UserID: "u2", SessionID: "s2", Role: domain.RoleUser, RawContent: "c", Timestamp: t0})

	n, err := store.Delete(ctx, domain.DeleteFilter{ID: id})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Delete(ctx, domain.DeleteFilter{SessionID: "s2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.Delete(ctx, domain.DeleteFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = store.Delete(ctx, domain.DeleteFilter{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	store := setupTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Append(context.Background(), domain.ChatTurn{
				UserID: "u1", SessionID: "s1", Role: domain.RoleUser, RawContent: "x", Timestamp: t0,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.List(context.Background(), "u1", domain.HistoryQuery{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, got, 20)
}
