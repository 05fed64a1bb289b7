// Package store provides storage backends for Talia.
//
// It persists the single active conversation per user and the registered user
// records, with SQLite, PostgreSQL, and in-memory implementations.
package store

import (
	"sync"
	"time"

	"github.com/taliahq/talia/internal/models"
)

// Store is the persistence contract consumed by the flow engine and the API
// layer. Getters return (nil, nil) when no record exists. Writes are
// all-or-nothing: every implementation performs them as a single upsert.
type Store interface {
	// GetConversation retrieves the active conversation for a user, if any.
	GetConversation(userID string) (*models.ConversationState, error)
	// SaveConversation creates or replaces the user's conversation record.
	SaveConversation(state models.ConversationState) error
	// DeleteConversation removes the user's conversation record. Deleting a
	// nonexistent record is not an error.
	DeleteConversation(userID string) error

	// SaveUser creates or updates a registered user.
	SaveUser(u models.User) error
	// GetUser retrieves a registered user, if any.
	GetUser(userID string) (*models.User, error)

	// Close releases any underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store constructors.
type Option func(*Opts)

// WithDSN sets the database connection string (a file path for SQLite, a
// connection URL for Postgres).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryStore is a non-durable Store used in tests and local development.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]models.ConversationState
	users         map[string]models.User
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]models.ConversationState),
		users:         make(map[string]models.User),
	}
}

// GetConversation retrieves the active conversation for a user, if any.
func (s *InMemoryStore) GetConversation(userID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.conversations[userID]
	if !ok {
		return nil, nil
	}
	// Copy the map so callers cannot mutate the stored record in place.
	cp := state
	cp.CollectedData = make(map[string]string, len(state.CollectedData))
	for k, v := range state.CollectedData {
		cp.CollectedData[k] = v
	}
	return &cp, nil
}

// SaveConversation creates or replaces the user's conversation record.
func (s *InMemoryStore) SaveConversation(state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := state
	cp.CollectedData = make(map[string]string, len(state.CollectedData))
	for k, v := range state.CollectedData {
		cp.CollectedData[k] = v
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	s.conversations[state.UserID] = cp
	return nil
}

// DeleteConversation removes the user's conversation record.
func (s *InMemoryStore) DeleteConversation(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, userID)
	return nil
}

// SaveUser creates or updates a registered user.
func (s *InMemoryStore) SaveUser(u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

// GetUser retrieves a registered user, if any.
func (s *InMemoryStore) GetUser(userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
