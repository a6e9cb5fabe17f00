// Package models defines the user domain types.
package models

import "time"

// Role is the access level of a staff account.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleAgent Role = "AGENT"
)

// User is a staff account (admin or support agent). Players are not users;
// they are identified by ticket tokens.
type User struct {
	ID           string     `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password_hash" json:"-"`
	DisplayName  string     `db:"display_name" json:"display_name"`
	Role         Role       `db:"role" json:"role"`
	IsOnline     bool       `db:"is_online" json:"is_online"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// AgentStatus is a presence snapshot for one agent, pushed to staff clients
// when availability changes.
type AgentStatus struct {
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	DisplayName    string `json:"display_name"`
	IsOnline       bool   `json:"is_online"`
	ActiveSessions int    `json:"active_sessions"`
}
