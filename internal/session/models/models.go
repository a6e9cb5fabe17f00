// Package models defines the session domain types: live conversational
// sessions, their messages, and satisfaction ratings.
package models

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusPending    SessionStatus = "PENDING"
	StatusQueued     SessionStatus = "QUEUED"
	StatusInProgress SessionStatus = "IN_PROGRESS"
	StatusClosed     SessionStatus = "CLOSED"
)

// IsLive reports whether the session occupies its ticket's single live slot.
func (s SessionStatus) IsLive() bool {
	return s == StatusPending || s == StatusQueued || s == StatusInProgress
}

// CanTransitionTo reports whether the state machine permits the edge.
// Transitions form a DAG; no edge returns to a previous state.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusQueued || next == StatusInProgress || next == StatusClosed
	case StatusQueued:
		return next == StatusInProgress || next == StatusClosed
	case StatusInProgress:
		return next == StatusClosed
	default:
		return false
	}
}

// AIUrgency is the urgency classification produced by AI triage.
type AIUrgency string

const (
	UrgencyUrgent    AIUrgency = "URGENT"
	UrgencyNonUrgent AIUrgency = "NON_URGENT"
)

// Session is a live conversational context bound to a ticket.
type Session struct {
	ID                   string                 `db:"id" json:"id"`
	TicketID             string                 `db:"ticket_id" json:"ticket_id"`
	GameID               string                 `db:"game_id" json:"game_id"`
	Status               SessionStatus          `db:"status" json:"status"`
	AgentID              *string                `db:"agent_id" json:"agent_id,omitempty"`
	PriorityScore        float64                `db:"priority_score" json:"priority_score"`
	DetectedIntent       string                 `db:"detected_intent" json:"detected_intent,omitempty"`
	AIUrgency            AIUrgency              `db:"ai_urgency" json:"ai_urgency,omitempty"`
	AIConversationHandle string                 `db:"ai_conversation_handle" json:"-"`
	AllowManualTransfer  bool                   `db:"allow_manual_transfer" json:"allow_manual_transfer"`
	QueuedAt             *time.Time             `db:"queued_at" json:"queued_at,omitempty"`
	StartedAt            *time.Time             `db:"started_at" json:"started_at,omitempty"`
	ClosedAt             *time.Time             `db:"closed_at" json:"closed_at,omitempty"`
	TransferAt           *time.Time             `db:"transfer_at" json:"transfer_at,omitempty"`
	TransferReason       string                 `db:"transfer_reason" json:"transfer_reason,omitempty"`
	Metadata             map[string]interface{} `db:"-" json:"metadata,omitempty"`
	CreatedAt            time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time              `db:"updated_at" json:"updated_at"`
}

// PlayerLanguage returns the detected player language from metadata, if any.
func (s *Session) PlayerLanguage() string {
	if s.Metadata == nil {
		return ""
	}
	if lang, ok := s.Metadata["playerLanguage"].(string); ok {
		return lang
	}
	return ""
}

// SenderType identifies who produced a message.
type SenderType string

const (
	SenderPlayer SenderType = "PLAYER"
	SenderAgent  SenderType = "AGENT"
	SenderAI     SenderType = "AI"
	SenderSystem SenderType = "SYSTEM"
)

// MessageType is the payload kind of a message.
type MessageType string

const (
	MessageText         MessageType = "TEXT"
	MessageImage        MessageType = "IMAGE"
	MessageSystemNotice MessageType = "SYSTEM_NOTICE"
)

// Message is one entry in a session conversation. Messages are append-only;
// ordering within a session is createdAt ascending in commit order.
type Message struct {
	ID          string                 `db:"id" json:"id"`
	SessionID   string                 `db:"session_id" json:"session_id"`
	SenderType  SenderType             `db:"sender_type" json:"sender_type"`
	MessageType MessageType            `db:"message_type" json:"message_type"`
	Content     string                 `db:"content" json:"content"`
	AgentID     *string                `db:"agent_id" json:"agent_id,omitempty"`
	Metadata    map[string]interface{} `db:"-" json:"metadata,omitempty"`
	CreatedAt   time.Time              `db:"created_at" json:"created_at"`
}

// SatisfactionRating is the player's post-session rating, at most one per
// session.
type SatisfactionRating struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	Rating    int       `db:"rating" json:"rating"`
	Comment   string    `db:"comment" json:"comment,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
