// Package store provides storage backends for Talia.
//
// This file implements the SQLite-backed store for conversations and users.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/taliahq/talia/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists conversations and users in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path to the SQLite database file; the containing directory
// is created if it does not exist.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveConversation creates or replaces the user's conversation record.
// The write is a single statement, so it applies all-or-nothing.
func (s *SQLiteStore) SaveConversation(state models.ConversationState) error {
	dataJSON, err := marshalCollectedData(state.CollectedData)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation marshal failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO conversations (user_id, flow_id, current_step_id, collected_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		state.UserID, state.FlowID, state.CurrentStepID, dataJSON, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation failed", "error", err, "userID", state.UserID, "flowID", state.FlowID)
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	slog.Debug("SQLiteStore SaveConversation succeeded", "userID", state.UserID, "flowID", state.FlowID, "stepID", state.CurrentStepID)
	return nil
}

// GetConversation retrieves the active conversation for a user, if any.
func (s *SQLiteStore) GetConversation(userID string) (*models.ConversationState, error) {
	var state models.ConversationState
	var dataJSON sql.NullString

	err := s.db.QueryRow(`
		SELECT user_id, flow_id, current_step_id, collected_data, created_at, updated_at
		FROM conversations WHERE user_id = ?`, userID).Scan(
		&state.UserID, &state.FlowID, &state.CurrentStepID, &dataJSON, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversation not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	state.CollectedData = unmarshalCollectedData(dataJSON.String, userID)
	slog.Debug("SQLiteStore GetConversation found", "userID", userID, "flowID", state.FlowID, "stepID", state.CurrentStepID)
	return &state, nil
}

// DeleteConversation removes the user's conversation record.
func (s *SQLiteStore) DeleteConversation(userID string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore DeleteConversation failed", "error", err, "userID", userID)
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	slog.Debug("SQLiteStore DeleteConversation succeeded", "userID", userID)
	return nil
}

// SaveUser creates or updates a registered user.
func (s *SQLiteStore) SaveUser(u models.User) error {
	_, err := s.db.Exec(`
		INSERT INTO users (id, role, name, employee_id, branch)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			role = excluded.role,
			name = excluded.name,
			employee_id = excluded.employee_id,
			branch = excluded.branch`,
		u.ID, string(u.Role), nilIfEmpty(u.Name), nilIfEmpty(u.EmployeeID), nilIfEmpty(u.Branch))
	if err != nil {
		slog.Error("SQLiteStore SaveUser failed", "error", err, "userID", u.ID)
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	slog.Debug("SQLiteStore SaveUser succeeded", "userID", u.ID, "role", u.Role)
	return nil
}

// GetUser retrieves a registered user, if any.
func (s *SQLiteStore) GetUser(userID string) (*models.User, error) {
	var u models.User
	var name, employeeID, branch sql.NullString
	err := s.db.QueryRow(`SELECT id, role, name, employee_id, branch FROM users WHERE id = ?`, userID).
		Scan(&u.ID, &u.Role, &name, &employeeID, &branch)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetUser failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	u.Name = name.String
	u.EmployeeID = employeeID.String
	u.Branch = branch.String
	return &u, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// marshalCollectedData encodes the collected-data map as JSON, returning the
// empty string for an empty map.
func marshalCollectedData(data map[string]string) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalCollectedData decodes the stored JSON back into a map. A corrupt
// column logs and yields an empty map rather than failing the read.
func unmarshalCollectedData(dataJSON, userID string) map[string]string {
	data := make(map[string]string)
	if dataJSON == "" {
		return data
	}
	if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
		slog.Error("Store collected_data unmarshal failed", "error", err, "userID", userID)
		return make(map[string]string)
	}
	return data
}
