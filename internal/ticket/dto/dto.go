// Package dto defines the HTTP request and response shapes for ticket
// endpoints.
package dto

import (
	"time"

	"github.com/playdesk/playdesk/internal/ticket/models"
)

type AttachmentInput struct {
	FileURL  string `json:"file_url" binding:"required"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
}

type CreateTicketRequest struct {
	GameID         string            `json:"game_id" binding:"required"`
	ServerID       string            `json:"server_id"`
	ServerName     string            `json:"server_name"`
	PlayerIDOrName string            `json:"player_id_or_name" binding:"required"`
	Description    string            `json:"description" binding:"required"`
	OccurredAt     *time.Time        `json:"occurred_at"`
	PaymentOrderNo string            `json:"payment_order_no"`
	Priority       string            `json:"priority"`
	IssueTypeIDs   []string          `json:"issue_type_ids"`
	Attachments    []AttachmentInput `json:"attachments"`
}

type CreateTicketResponse struct {
	Ticket          *models.Ticket `json:"ticket"`
	TicketNo        string         `json:"ticket_no"`
	Token           string         `json:"token"`
	HasOnlineAgents bool           `json:"has_online_agents"`
	SessionCreated  bool           `json:"session_created"`
	SessionID       string         `json:"session_id,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type UpdatePriorityRequest struct {
	Priority string `json:"priority" binding:"required"`
}

type TicketMessageRequest struct {
	Content string `json:"content" binding:"required"`
	// Token authorizes player writes; ignored for staff callers.
	Token string `json:"token"`
}

type SearchResponse struct {
	Tickets []*models.Ticket `json:"tickets"`
	Total   int              `json:"total"`
}

type CreateGameRequest struct {
	Name      string `json:"name" binding:"required"`
	Enabled   *bool  `json:"enabled"`
	AIBaseURL string `json:"ai_base_url"`
	// AIAPIKey is the plaintext provider key; it is encrypted before storage.
	AIAPIKey string `json:"ai_api_key"`
}

type CreateServerRequest struct {
	Name    string `json:"name" binding:"required"`
	Enabled *bool  `json:"enabled"`
}

type CreateIssueTypeRequest struct {
	Name                  string `json:"name" binding:"required"`
	PriorityWeight        int    `json:"priority_weight"`
	RequireDirectTransfer bool   `json:"require_direct_transfer"`
	Enabled               *bool  `json:"enabled"`
	SortOrder             int    `json:"sort_order"`
}

type CreateUrgencyRuleRequest struct {
	Name           string `json:"name" binding:"required"`
	Keyword        string `json:"keyword"`
	GameID         string `json:"game_id"`
	TicketPriority string `json:"ticket_priority"`
	PriorityWeight int    `json:"priority_weight"`
	Enabled        *bool  `json:"enabled"`
}
