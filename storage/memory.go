// In-memory storage for connections and transcripts.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and ephemeral sessions

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/richinex/pagechat/llm"
)

// InMemoryStorage implements ConnectionStorage and TranscriptStorage using
// in-memory maps. Data is lost when process terminates.
type InMemoryStorage struct {
	mu          sync.RWMutex
	connections map[string]llm.Connection
	activeID    string
	sessions    map[string][]llm.Message
}

// NewInMemoryStorage creates a new in-memory storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		connections: make(map[string]llm.Connection),
		sessions:    make(map[string][]llm.Message),
	}
}

// SaveConnection inserts or replaces a connection record.
func (s *InMemoryStorage) SaveConnection(ctx context.Context, conn llm.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connections[conn.ID] = conn
	return nil
}

// GetConnection returns one connection by id.
func (s *InMemoryStorage) GetConnection(ctx context.Context, id string) (llm.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.connections[id]
	if !ok {
		return llm.Connection{}, fmt.Errorf("connection not found: %q", id)
	}
	return conn, nil
}

// ListConnections returns all connections, priority-ordered.
func (s *InMemoryStorage) ListConnections(ctx context.Context) ([]llm.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedConnections(func(llm.Connection) bool { return true }), nil
}

// EnabledConnections returns enabled connections in priority order.
func (s *InMemoryStorage) EnabledConnections(ctx context.Context) ([]llm.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedConnections(func(c llm.Connection) bool { return c.Enabled }), nil
}

// sortedConnections must be called with the lock held.
func (s *InMemoryStorage) sortedConnections(keep func(llm.Connection) bool) []llm.Connection {
	connections := []llm.Connection{}
	for _, conn := range s.connections {
		if keep(conn) {
			connections = append(connections, conn)
		}
	}
	sort.Slice(connections, func(i, j int) bool {
		if connections[i].Priority != connections[j].Priority {
			return connections[i].Priority < connections[j].Priority
		}
		return connections[i].Name < connections[j].Name
	})
	return connections
}

// DeleteConnection removes a connection record.
func (s *InMemoryStorage) DeleteConnection(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.connections, id)
	if s.activeID == id {
		s.activeID = ""
	}
	return nil
}

// SetActive marks exactly one connection active.
func (s *InMemoryStorage) SetActive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.connections[id]; !ok {
		return fmt.Errorf("connection not found: %q", id)
	}
	s.activeID = id
	return nil
}

// ActiveConnection returns the connection marked active.
func (s *InMemoryStorage) ActiveConnection(ctx context.Context) (llm.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeID == "" {
		return llm.Connection{}, llm.ErrNoActiveConnection
	}
	conn, ok := s.connections[s.activeID]
	if !ok {
		return llm.Connection{}, llm.ErrNoActiveConnection
	}
	return conn, nil
}

// Save saves conversation history for a session.
func (s *InMemoryStorage) Save(ctx context.Context, sessionID string, history []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Make a copy to avoid external mutations
	copied := make([]llm.Message, len(history))
	copy(copied, history)
	s.sessions[sessionID] = copied

	return nil
}

// Load loads conversation history for a session.
// Returns empty slice if session doesn't exist.
func (s *InMemoryStorage) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.sessions[sessionID]
	if !ok {
		return []llm.Message{}, nil
	}

	// Return a copy to avoid external mutations
	copied := make([]llm.Message, len(history))
	copy(copied, history)
	return copied, nil
}

// Delete deletes conversation history for a session.
func (s *InMemoryStorage) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// ListSessions lists all session IDs.
func (s *InMemoryStorage) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.sessions))
	for sessionID := range s.sessions {
		sessions = append(sessions, sessionID)
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Exists checks if a session exists.
func (s *InMemoryStorage) Exists(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[sessionID]
	return ok, nil
}

// Verify InMemoryStorage implements the storage interfaces
var (
	_ ConnectionStorage = (*InMemoryStorage)(nil)
	_ TranscriptStorage = (*InMemoryStorage)(nil)
)
