// Package models defines the ticket domain types: games, servers, issue
// types, urgency rules, tickets, attachments, and asynchronous ticket messages.
package models

import "time"

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "NEW"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusWaiting    TicketStatus = "WAITING"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// IsTerminal reports whether the ticket can no longer change state.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// IsOpen reports whether the ticket counts against the open-ticket key.
func (s TicketStatus) IsOpen() bool {
	return !s.IsTerminal()
}

// TicketPriority is the declared priority of a ticket.
type TicketPriority string

const (
	PriorityLow    TicketPriority = "LOW"
	PriorityNormal TicketPriority = "NORMAL"
	PriorityHigh   TicketPriority = "HIGH"
	PriorityUrgent TicketPriority = "URGENT"
)

// Weight returns the base score contribution of the declared priority.
func (p TicketPriority) Weight() float64 {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 25
	case PriorityHigh:
		return 60
	case PriorityUrgent:
		return 90
	default:
		return 25
	}
}

// Valid reports whether the priority is a known value.
func (p TicketPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Game is a tenant. Each game owns its AI provider credentials; the
// ciphertext is decrypted only inside the AI adapter.
type Game struct {
	ID                     string    `db:"id" json:"id"`
	Name                   string    `db:"name" json:"name"`
	Enabled                bool      `db:"enabled" json:"enabled"`
	AIBaseURL              string    `db:"ai_base_url" json:"ai_base_url,omitempty"`
	AICredentialCiphertext string    `db:"ai_credential_ciphertext" json:"-"`
	CreatedAt              time.Time `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time `db:"updated_at" json:"updated_at"`
}

// Server is an optional shard within a game.
type Server struct {
	ID        string    `db:"id" json:"id"`
	GameID    string    `db:"game_id" json:"game_id"`
	Name      string    `db:"name" json:"name"`
	Enabled   bool      `db:"enabled" json:"enabled"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IssueType classifies tickets and carries routing hints.
type IssueType struct {
	ID                    string    `db:"id" json:"id"`
	Name                  string    `db:"name" json:"name"`
	PriorityWeight        int       `db:"priority_weight" json:"priority_weight"`
	RequireDirectTransfer bool      `db:"require_direct_transfer" json:"require_direct_transfer"`
	Enabled               bool      `db:"enabled" json:"enabled"`
	SortOrder             int       `db:"sort_order" json:"sort_order"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
}

// UrgencyRule boosts the priority score of sessions whose ticket matches all
// of the rule's non-empty conditions.
type UrgencyRule struct {
	ID             string         `db:"id" json:"id"`
	Name           string         `db:"name" json:"name"`
	Keyword        string         `db:"keyword" json:"keyword,omitempty"`
	GameID         string         `db:"game_id" json:"game_id,omitempty"`
	TicketPriority TicketPriority `db:"ticket_priority" json:"ticket_priority,omitempty"`
	PriorityWeight int            `db:"priority_weight" json:"priority_weight"`
	Enabled        bool           `db:"enabled" json:"enabled"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// Ticket is the durable record of a player-reported problem.
type Ticket struct {
	ID             string         `db:"id" json:"id"`
	TicketNo       string         `db:"ticket_no" json:"ticket_no"`
	Token          string         `db:"token" json:"token"`
	GameID         string         `db:"game_id" json:"game_id"`
	ServerID       string         `db:"server_id" json:"server_id,omitempty"`
	ServerName     string         `db:"server_name" json:"server_name,omitempty"`
	PlayerIDOrName string         `db:"player_id_or_name" json:"player_id_or_name"`
	Description    string         `db:"description" json:"description"`
	OccurredAt     *time.Time     `db:"occurred_at" json:"occurred_at,omitempty"`
	PaymentOrderNo string         `db:"payment_order_no" json:"payment_order_no,omitempty"`
	Status         TicketStatus   `db:"status" json:"status"`
	Priority       TicketPriority `db:"priority" json:"priority"`
	IssueTypeIDs   []string       `db:"-" json:"issue_type_ids"`
	Attachments    []*Attachment  `db:"-" json:"attachments,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// ServerKey returns the shard component of the open-ticket uniqueness key.
func (t *Ticket) ServerKey() string {
	if t.ServerID != "" {
		return t.ServerID
	}
	return t.ServerName
}

// PrimaryIssueTypeID returns the issue type used for routing and the
// open-ticket key. Empty when the ticket has no issue types.
func (t *Ticket) PrimaryIssueTypeID() string {
	if len(t.IssueTypeIDs) == 0 {
		return ""
	}
	return t.IssueTypeIDs[0]
}

// Attachment is a file reference owned by a ticket. The platform stores only
// URLs; upload happens elsewhere.
type Attachment struct {
	ID       string `db:"id" json:"id"`
	TicketID string `db:"ticket_id" json:"ticket_id"`
	FileURL  string `db:"file_url" json:"file_url"`
	FileName string `db:"file_name" json:"file_name"`
	FileType string `db:"file_type" json:"file_type,omitempty"`
}

// TicketMessage is an asynchronous reply on a ticket, used when no live
// session exists. A nil SenderID means the player wrote it.
type TicketMessage struct {
	ID        string                 `db:"id" json:"id"`
	TicketID  string                 `db:"ticket_id" json:"ticket_id"`
	SenderID  *string                `db:"sender_id" json:"sender_id,omitempty"`
	Content   string                 `db:"content" json:"content"`
	Metadata  map[string]interface{} `db:"-" json:"metadata,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}
