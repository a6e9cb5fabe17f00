package store

import (
	"context"
	"time"

	"github.com/playdesk/playdesk/internal/ticket/models"
)

// SearchFilters narrows ticket search results. Zero values are ignored.
type SearchFilters struct {
	GameID   string
	Status   models.TicketStatus
	Priority models.TicketPriority
	Keyword  string // matches ticket_no, player, or description
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// OpenTicketKey is the composite uniqueness key for non-terminal tickets.
type OpenTicketKey struct {
	GameID         string
	ServerKey      string
	PlayerIDOrName string
	IssueTypeID    string
}

type Repository interface {
	// Games
	CreateGame(ctx context.Context, game *models.Game) error
	GetGame(ctx context.Context, id string) (*models.Game, error)
	ListGames(ctx context.Context) ([]*models.Game, error)
	UpdateGame(ctx context.Context, game *models.Game) error

	// Servers
	CreateServer(ctx context.Context, server *models.Server) error
	ListServers(ctx context.Context, gameID string) ([]*models.Server, error)

	// Issue types
	CreateIssueType(ctx context.Context, it *models.IssueType) error
	GetIssueType(ctx context.Context, id string) (*models.IssueType, error)
	ListIssueTypes(ctx context.Context, enabledOnly bool) ([]*models.IssueType, error)

	// Urgency rules
	CreateUrgencyRule(ctx context.Context, rule *models.UrgencyRule) error
	ListUrgencyRules(ctx context.Context, enabledOnly bool) ([]*models.UrgencyRule, error)

	// Tickets
	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketByToken(ctx context.Context, token string) (*models.Ticket, error)
	GetTicketByNo(ctx context.Context, ticketNo string) (*models.Ticket, error)
	FindOpenTicket(ctx context.Context, key OpenTicketKey) (*models.Ticket, error)
	UpdateTicketStatus(ctx context.Context, id string, status models.TicketStatus) error
	UpdateTicketPriority(ctx context.Context, id string, priority models.TicketPriority) error
	SearchTickets(ctx context.Context, filters SearchFilters) ([]*models.Ticket, int, error)

	// Attachments
	AddAttachment(ctx context.Context, att *models.Attachment) error

	// Ticket messages
	CreateTicketMessage(ctx context.Context, msg *models.TicketMessage) error
	ListTicketMessages(ctx context.Context, ticketID string) ([]*models.TicketMessage, error)

	Close() error
}
