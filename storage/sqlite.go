// SQLite-backed storage for connections, transcripts and snapshots.
//
// Information Hiding:
// - SQLite connection management hidden behind interface
// - Schema and migration details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/richinex/pagechat/llm"
)

// SqliteStorage implements ConnectionStorage and TranscriptStorage using a
// SQLite database file.
type SqliteStorage struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStorage, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// Close closes the database connection.
func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func (s *SqliteStorage) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			api_key TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL,
			capabilities TEXT NOT NULL DEFAULT '{}',
			context_window INTEGER NOT NULL DEFAULT 0,
			headers TEXT NOT NULL DEFAULT '{}',
			timeout_ms INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			priority INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			message_index INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE,
			UNIQUE(session_id, message_index)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session
		ON messages(session_id, message_index);

		CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			url TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_session
		ON snapshots(session_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Connection storage

// SaveConnection inserts or replaces a connection record.
func (s *SqliteStorage) SaveConnection(ctx context.Context, conn llm.Connection) error {
	capabilities, err := json.Marshal(conn.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to encode capabilities: %w", err)
	}
	headers, err := json.Marshal(conn.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connections
			(id, name, type, endpoint, api_key, model, capabilities,
			 context_window, headers, timeout_ms, enabled, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			endpoint = excluded.endpoint,
			api_key = excluded.api_key,
			model = excluded.model,
			capabilities = excluded.capabilities,
			context_window = excluded.context_window,
			headers = excluded.headers,
			timeout_ms = excluded.timeout_ms,
			enabled = excluded.enabled,
			priority = excluded.priority`,
		conn.ID, conn.Name, string(conn.Type), conn.Endpoint, conn.APIKey,
		conn.Model, string(capabilities), conn.ContextWindow, string(headers),
		conn.Timeout.Milliseconds(), conn.Enabled, conn.Priority)
	if err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}
	return nil
}

const connectionColumns = `id, name, type, endpoint, api_key, model,
	capabilities, context_window, headers, timeout_ms, enabled, priority`

func scanConnection(row interface{ Scan(...any) error }) (llm.Connection, error) {
	var conn llm.Connection
	var connType, capabilities, headers string
	var timeoutMs int64
	err := row.Scan(&conn.ID, &conn.Name, &connType, &conn.Endpoint,
		&conn.APIKey, &conn.Model, &capabilities, &conn.ContextWindow,
		&headers, &timeoutMs, &conn.Enabled, &conn.Priority)
	if err != nil {
		return llm.Connection{}, err
	}
	conn.Type = llm.ParseProviderType(connType)
	conn.Timeout = time.Duration(timeoutMs) * time.Millisecond
	if err := json.Unmarshal([]byte(capabilities), &conn.Capabilities); err != nil {
		return llm.Connection{}, fmt.Errorf("failed to decode capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(headers), &conn.Headers); err != nil {
		return llm.Connection{}, fmt.Errorf("failed to decode headers: %w", err)
	}
	return conn, nil
}

// GetConnection returns one connection by id.
func (s *SqliteStorage) GetConnection(ctx context.Context, id string) (llm.Connection, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+connectionColumns+" FROM connections WHERE id = ?", id)
	conn, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return llm.Connection{}, fmt.Errorf("connection not found: %q", id)
	}
	if err != nil {
		return llm.Connection{}, fmt.Errorf("failed to load connection: %w", err)
	}
	return conn, nil
}

// ListConnections returns all connections in priority order.
func (s *SqliteStorage) ListConnections(ctx context.Context) ([]llm.Connection, error) {
	return s.queryConnections(ctx,
		"SELECT "+connectionColumns+" FROM connections ORDER BY priority ASC, name ASC")
}

// EnabledConnections returns enabled connections in priority order.
func (s *SqliteStorage) EnabledConnections(ctx context.Context) ([]llm.Connection, error) {
	return s.queryConnections(ctx,
		"SELECT "+connectionColumns+" FROM connections WHERE enabled = 1 ORDER BY priority ASC, name ASC")
}

func (s *SqliteStorage) queryConnections(ctx context.Context, query string) ([]llm.Connection, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	connections := []llm.Connection{}
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		connections = append(connections, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return connections, nil
}

// DeleteConnection removes a connection record.
func (s *SqliteStorage) DeleteConnection(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM connections WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}

// SetActive marks exactly one connection active.
func (s *SqliteStorage) SetActive(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "UPDATE connections SET is_active = 0"); err != nil {
		return fmt.Errorf("failed to clear active flag: %w", err)
	}
	res, err := tx.ExecContext(ctx, "UPDATE connections SET is_active = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to set active connection: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("connection not found: %q", id)
	}
	return tx.Commit()
}

// ActiveConnection returns the connection marked active.
func (s *SqliteStorage) ActiveConnection(ctx context.Context) (llm.Connection, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+connectionColumns+" FROM connections WHERE is_active = 1 LIMIT 1")
	conn, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return llm.Connection{}, llm.ErrNoActiveConnection
	}
	if err != nil {
		return llm.Connection{}, fmt.Errorf("failed to load active connection: %w", err)
	}
	return conn, nil
}

// Transcript storage

func (s *SqliteStorage) ensureSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (session_id) VALUES (?)",
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}
	return nil
}

// Save saves conversation history for a session.
func (s *SqliteStorage) Save(ctx context.Context, sessionID string, history []llm.Message) error {
	if err := s.ensureSession(ctx, sessionID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear old messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (session_id, message_index, role, content) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for i, msg := range history {
		_, err = stmt.ExecContext(ctx, sessionID, i, msg.Role, msg.Content)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = datetime('now') WHERE session_id = ?",
		sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Load loads conversation history for a session.
// Returns empty slice if session doesn't exist.
func (s *SqliteStorage) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content FROM messages WHERE session_id = ? ORDER BY message_index ASC",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []llm.Message{} // Start with empty slice, not nil
	for rows.Next() {
		var msg llm.Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// Delete deletes conversation history for a session.
func (s *SqliteStorage) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE session_id = ?",
		sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListSessions lists all session IDs.
func (s *SqliteStorage) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id FROM sessions ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{} // Start with empty slice, not nil
	for rows.Next() {
		var sessionID string
		if err := rows.Scan(&sessionID); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sessionID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// Exists checks if a session exists.
func (s *SqliteStorage) Exists(ctx context.Context, sessionID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE session_id = ?",
		sessionID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}

	return count > 0, nil
}

// Snapshot storage

// SaveSnapshot persists a page-context snapshot for a session unless the
// latest stored snapshot already has identical content (by xxhash), in
// which case nothing is written. Returns whether a row was stored.
func (s *SqliteStorage) SaveSnapshot(ctx context.Context, sessionID string, snap ContextSnapshot) (bool, error) {
	if err := s.ensureSession(ctx, sessionID); err != nil {
		return false, err
	}

	hash := fmt.Sprintf("%016x", xxhash.Sum64String(snap.URL+"\x00"+snap.Content))

	var lastHash string
	err := s.db.QueryRowContext(ctx,
		"SELECT content_hash FROM snapshots WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT 1",
		sessionID).Scan(&lastHash)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to check latest snapshot: %w", err)
	}
	if lastHash == hash {
		return false, nil
	}

	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO snapshots (session_id, url, title, content, content_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		sessionID, snap.URL, snap.Title, snap.Content, hash, createdAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to save snapshot: %w", err)
	}
	return true, nil
}

// LatestSnapshot returns the most recent snapshot for a session, or
// sql.ErrNoRows-wrapped error when none exists.
func (s *SqliteStorage) LatestSnapshot(ctx context.Context, sessionID string) (ContextSnapshot, error) {
	var snap ContextSnapshot
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT url, title, content, created_at FROM snapshots WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT 1",
		sessionID).Scan(&snap.URL, &snap.Title, &snap.Content, &createdAt)
	if err != nil {
		return ContextSnapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	snap.CreatedAt = time.UnixMilli(createdAt)
	return snap, nil
}

// Verify SqliteStorage implements the storage interfaces
var (
	_ ConnectionStorage = (*SqliteStorage)(nil)
	_ TranscriptStorage = (*SqliteStorage)(nil)
)
