package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/chatguard/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/chatguard/internal/core/domain"
	"github.com/custodia-labs/chatguard/internal/core/ports/driven"
)

// jsonNull is the JSON representation of null.
const jsonNull = "null"

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Ensure Store implements the interface.
var _ driven.HistoryStore = (*Store)(nil)

// Store is a SQLite-backed chat history store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.chatguard/data/history.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".chatguard", "data")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "history.db")

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	// Run migrations
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	// Ensure schema_migrations table exists
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_chat_history.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}

	return nil
}

// Append stores a turn and returns its assigned ID.
func (s *Store) Append(ctx context.Context, turn domain.ChatTurn) (int64, error) {
	metadataJSON := jsonNull
	if turn.Metadata != nil {
		data, err := json.Marshal(turn.Metadata)
		if err != nil {
			return 0, fmt.Errorf("marshalling metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_history (user_id, session_id, role, content, filtered_content, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, turn.UserID, turn.SessionID, turn.Role.String(), turn.RawContent,
		nullString(turn.FilteredContent), metadataJSON, ts.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("inserting chat turn: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading chat turn id: %w", err)
	}
	return id, nil
}

// List returns a user's turns, most recent first.
func (s *Store) List(ctx context.Context, userID string, q domain.HistoryQuery) ([]domain.ChatTurn, error) {
	q = q.Normalise()

	query := `
		SELECT id, user_id, session_id, role, content, filtered_content, metadata, timestamp
		FROM chat_history WHERE user_id = ?`
	args := []any{userID}
	if q.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, q.SessionID)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chat history: %w", err)
	}
	defer rows.Close()

	turns := make([]domain.ChatTurn, 0)
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat history: %w", err)
	}

	return turns, nil
}

// Sessions returns a user's sessions ordered by latest activity.
func (s *Store) Sessions(ctx context.Context, userID string) ([]domain.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, MAX(timestamp) AS latest
		FROM chat_history WHERE user_id = ?
		GROUP BY session_id
		ORDER BY latest DESC, session_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.SessionSummary, 0)
	for rows.Next() {
		var summary domain.SessionSummary
		var latest string
		if err := rows.Scan(&summary.SessionID, &latest); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if summary.LatestMessageTime, err = time.Parse(timeLayout, latest); err != nil {
			return nil, fmt.Errorf("parsing session time: %w", err)
		}
		sessions = append(sessions, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}

	return sessions, nil
}

// Delete removes the turns matching every set field of filter.
func (s *Store) Delete(ctx context.Context, filter domain.DeleteFilter) (int64, error) {
	if filter.IsEmpty() {
		return 0, domain.ErrInvalidInput
	}

	var conds []string
	var args []any
	if filter.ID != 0 {
		conds = append(conds, "id = ?")
		args = append(args, filter.ID)
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, filter.SessionID)
	}

	//nolint:gosec // G202: conditions are fixed strings, values are bound.
	res, err := s.db.ExecContext(ctx, "DELETE FROM chat_history WHERE "+strings.Join(conds, " AND "), args...)
	if err != nil {
		return 0, fmt.Errorf("deleting chat history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted rows: %w", err)
	}
	return n, nil
}

// scanTurn reads one chat_history row.
func scanTurn(rows *sql.Rows) (domain.ChatTurn, error) {
	var turn domain.ChatTurn
	var role, metadataJSON, ts string
	var filtered sql.NullString
	if err := rows.Scan(&turn.ID, &turn.UserID, &turn.SessionID, &role,
		&turn.RawContent, &filtered, &metadataJSON, &ts); err != nil {
		return turn, fmt.Errorf("scanning chat turn: %w", err)
	}

	turn.Role = domain.Role(role)
	turn.FilteredContent = filtered.String

	if metadataJSON != "" && metadataJSON != jsonNull {
		if err := json.Unmarshal([]byte(metadataJSON), &turn.Metadata); err != nil {
			return turn, fmt.Errorf("unmarshalling metadata: %w", err)
		}
	}

	t, err := time.Parse(timeLayout, ts)
	if err != nil {
		return turn, fmt.Errorf("parsing timestamp: %w", err)
	}
	turn.Timestamp = t
	return turn, nil
}

// nullString converts an empty string to a NULL column value.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
