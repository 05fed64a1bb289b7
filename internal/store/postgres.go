// Package store provides storage backends for Talia.
//
// This file implements the PostgreSQL-backed store for conversations and users.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/taliahq/talia/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists conversations and users in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on the provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// SaveConversation creates or replaces the user's conversation record.
func (s *PostgresStore) SaveConversation(state models.ConversationState) error {
	dataJSON, err := marshalCollectedData(state.CollectedData)
	if err != nil {
		slog.Error("PostgresStore SaveConversation marshal failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO conversations (user_id, flow_id, current_step_id, collected_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			flow_id = EXCLUDED.flow_id,
			current_step_id = EXCLUDED.current_step_id,
			collected_data = EXCLUDED.collected_data,
			updated_at = EXCLUDED.updated_at`,
		state.UserID, state.FlowID, state.CurrentStepID, dataJSON, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversation failed", "error", err, "userID", state.UserID, "flowID", state.FlowID)
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	slog.Debug("PostgresStore SaveConversation succeeded", "userID", state.UserID, "flowID", state.FlowID, "stepID", state.CurrentStepID)
	return nil
}

// GetConversation retrieves the active conversation for a user, if any.
func (s *PostgresStore) GetConversation(userID string) (*models.ConversationState, error) {
	var state models.ConversationState
	var dataJSON sql.NullString

	err := s.db.QueryRow(`
		SELECT user_id, flow_id, current_step_id, collected_data, created_at, updated_at
		FROM conversations WHERE user_id = $1`, userID).Scan(
		&state.UserID, &state.FlowID, &state.CurrentStepID, &dataJSON, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversation not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	state.CollectedData = unmarshalCollectedData(dataJSON.String, userID)
	return &state, nil
}

// DeleteConversation removes the user's conversation record.
func (s *PostgresStore) DeleteConversation(userID string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore DeleteConversation failed", "error", err, "userID", userID)
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	slog.Debug("PostgresStore DeleteConversation succeeded", "userID", userID)
	return nil
}

// SaveUser creates or updates a registered user.
func (s *PostgresStore) SaveUser(u models.User) error {
	_, err := s.db.Exec(`
		INSERT INTO users (id, role, name, employee_id, branch)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			role = EXCLUDED.role,
			name = EXCLUDED.name,
			employee_id = EXCLUDED.employee_id,
			branch = EXCLUDED.branch`,
		u.ID, string(u.Role), nilIfEmpty(u.Name), nilIfEmpty(u.EmployeeID), nilIfEmpty(u.Branch))
	if err != nil {
		slog.Error("PostgresStore SaveUser failed", "error", err, "userID", u.ID)
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return nil
}

// GetUser retrieves a registered user, if any.
func (s *PostgresStore) GetUser(userID string) (*models.User, error) {
	var u models.User
	var name, employeeID, branch sql.NullString
	err := s.db.QueryRow(`SELECT id, role, name, employee_id, branch FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Role, &name, &employeeID, &branch)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetUser failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	u.Name = name.String
	u.EmployeeID = employeeID.String
	u.Branch = branch.String
	return &u, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
