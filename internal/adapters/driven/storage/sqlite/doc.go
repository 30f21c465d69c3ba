// Package sqlite provides a SQLite-based implementation of driven.HistoryStore.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation.
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
// Chat turns live in a single append-only chat_history table; metadata is
// stored as JSON text.
//
// # Data Location
//
// By default, the database is stored at ~/.chatguard/data/history.db
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking provided
// by SQLite in WAL mode.
package sqlite
