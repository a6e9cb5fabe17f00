// Package store provides SQL-backed user storage.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/playdesk/playdesk/internal/db/dialect"
	"github.com/playdesk/playdesk/internal/user/models"
)

// Store is a Repository backed by SQLite or PostgreSQL via sqlx.
type Store struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

// New creates a user store and initializes its schema.
func New(writer, reader *sqlx.DB) (*Store, error) {
	s := &Store{db: writer, ro: reader}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize user schema: %w", err)
	}
	return s, nil
}

// Close is a no-op; the store does not own the connection pool.
func (s *Store) Close() error { return nil }

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			is_online INTEGER NOT NULL DEFAULT 0,
			last_login_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)`)
	return err
}

// CreateUser inserts a new staff account.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users (id, username, password_hash, display_name, role, is_online, last_login_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), user.ID, user.Username, user.PasswordHash, user.DisplayName, user.Role,
		dialect.BoolToInt(user.IsOnline), user.LastLoginAt, user.CreatedAt, user.UpdatedAt)
	return err
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.getUserBy(ctx, "id", id)
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUserBy(ctx, "username", username)
}

func (s *Store) getUserBy(ctx context.Context, column, value string) (*models.User, error) {
	user := &models.User{}
	var isOnline int
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT id, username, password_hash, display_name, role, is_online, last_login_at, created_at, updated_at
		FROM users WHERE `+column+` = ?
	`), value).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.DisplayName, &user.Role,
		&isOnline, &user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	user.IsOnline = isOnline == 1
	return user, nil
}

// ListAgents returns all agent accounts ordered by username.
func (s *Store) ListAgents(ctx context.Context) ([]*models.User, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, username, password_hash, display_name, role, is_online, last_login_at, created_at, updated_at
		FROM users WHERE role = ? ORDER BY username ASC
	`), models.RoleAgent)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.User
	for rows.Next() {
		user := &models.User{}
		var isOnline int
		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.DisplayName, &user.Role,
			&isOnline, &user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, err
		}
		user.IsOnline = isOnline == 1
		result = append(result, user)
	}
	return result, rows.Err()
}

// SetOnline updates the presence flag for a user.
func (s *Store) SetOnline(ctx context.Context, id string, online bool) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE users SET is_online = ?, updated_at = ? WHERE id = ?
	`), dialect.BoolToInt(online), time.Now().UTC(), id)
	return err
}

// UpdateLastLogin stamps the last successful login time.
func (s *Store) UpdateLastLogin(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?
	`), now, now, id)
	return err
}

// CountOnlineAgents returns the number of agents currently marked online.
func (s *Store) CountOnlineAgents(ctx context.Context) (int, error) {
	var count int
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT COUNT(*) FROM users WHERE role = ? AND is_online = 1
	`), models.RoleAgent).Scan(&count)
	return count, err
}
