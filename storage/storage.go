// Package storage provides persistence for connection records, chat
// transcripts and page-context snapshots.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interfaces
// - Allows swapping between memory and SQLite without API changes
// - Each implementation encapsulates its own data structures and schema

package storage

import (
	"context"
	"time"

	"github.com/richinex/pagechat/llm"
)

// ConnectionStorage manages configured LLM backend records. The
// orchestrator consumes the read side (ActiveConnection,
// EnabledConnections); the settings surface uses the rest.
type ConnectionStorage interface {
	// SaveConnection inserts or replaces a connection record.
	SaveConnection(ctx context.Context, conn llm.Connection) error

	// GetConnection returns one connection by id.
	GetConnection(ctx context.Context, id string) (llm.Connection, error)

	// ListConnections returns all connections, priority-ordered.
	ListConnections(ctx context.Context) ([]llm.Connection, error)

	// DeleteConnection removes a connection record.
	DeleteConnection(ctx context.Context, id string) error

	// SetActive marks exactly one connection active.
	SetActive(ctx context.Context, id string) error

	// ActiveConnection returns the connection marked active, or
	// llm.ErrNoActiveConnection.
	ActiveConnection(ctx context.Context) (llm.Connection, error)

	// EnabledConnections returns enabled connections in priority order
	// (lowest priority value first).
	EnabledConnections(ctx context.Context) ([]llm.Connection, error)
}

// TranscriptStorage stores conversation history per session.
type TranscriptStorage interface {
	// Save saves conversation history for a session.
	Save(ctx context.Context, sessionID string, history []llm.Message) error

	// Load loads conversation history for a session.
	// Returns empty slice (not nil) if session doesn't exist.
	// Returns error only for storage failures, not missing sessions.
	Load(ctx context.Context, sessionID string) ([]llm.Message, error)

	// Delete deletes conversation history for a session.
	Delete(ctx context.Context, sessionID string) error

	// ListSessions lists all session IDs.
	ListSessions(ctx context.Context) ([]string, error)

	// Exists checks if a session exists.
	Exists(ctx context.Context, sessionID string) (bool, error)
}

// ContextSnapshot is a persisted copy of the page context a chat turn was
// answered against, kept so transcripts can be re-read with the page they
// referred to.
type ContextSnapshot struct {
	URL       string
	Title     string
	Content   string
	CreatedAt time.Time
}
