// Package service implements ticket lifecycle operations: creation with
// open-ticket detection, status changes, asynchronous ticket chat, and the
// catalog of games, servers, issue types, and urgency rules.
package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/logger"
	"github.com/playdesk/playdesk/internal/events"
	"github.com/playdesk/playdesk/internal/events/bus"
	"github.com/playdesk/playdesk/internal/ticket/models"
	"github.com/playdesk/playdesk/internal/ticket/store"
)

// SessionStarter opens a live conversational session for a freshly created
// ticket. Implemented by the session engine and wired after construction to
// avoid a package cycle.
type SessionStarter interface {
	StartForTicket(ctx context.Context, ticket *models.Ticket) (sessionID string, err error)
}

// AgentPresence reports whether any agent is currently online.
type AgentPresence func(ctx context.Context) (bool, error)

// CreateResult is the outcome of a ticket submission.
type CreateResult struct {
	Ticket          *models.Ticket
	HasOnlineAgents bool
	SessionCreated  bool
	SessionID       string
}

type Service struct {
	repo     store.Repository
	eventBus bus.EventBus
	logger   *logger.Logger

	starter  SessionStarter
	presence AgentPresence
}

func NewService(repo store.Repository, eventBus bus.EventBus, presence AgentPresence, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		presence: presence,
		logger:   log.WithFields(zap.String("component", "ticket-service")),
	}
}

// SetSessionStarter wires the session engine. Must be called before the HTTP
// surface starts serving.
func (s *Service) SetSessionStarter(starter SessionStarter) {
	s.starter = starter
}

// CreateTicketRequest carries a player's ticket submission.
type CreateTicketRequest struct {
	GameID         string
	ServerID       string
	ServerName     string
	PlayerIDOrName string
	Description    string
	OccurredAt     *time.Time
	PaymentOrderNo string
	Priority       models.TicketPriority
	IssueTypeIDs   []string
	Attachments    []*models.Attachment
}

// Create validates and persists a new ticket, then opens a live session for
// it. The response reports agent availability so the client can set player
// expectations immediately.
func (s *Service) Create(ctx context.Context, req *CreateTicketRequest) (*CreateResult, error) {
	if req.GameID == "" || req.PlayerIDOrName == "" || req.Description == "" {
		return nil, apperr.Validation("gameId, playerIdOrName, and description are required")
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return nil, apperr.Validation("unknown priority")
	}

	game, err := s.repo.GetGame(ctx, req.GameID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("game not found")
	}
	if err != nil {
		return nil, err
	}
	if !game.Enabled {
		return nil, apperr.Forbidden("game is disabled")
	}

	ticket := &models.Ticket{
		GameID:         req.GameID,
		ServerID:       req.ServerID,
		ServerName:     req.ServerName,
		PlayerIDOrName: req.PlayerIDOrName,
		Description:    req.Description,
		OccurredAt:     req.OccurredAt,
		PaymentOrderNo: req.PaymentOrderNo,
		Priority:       req.Priority,
		IssueTypeIDs:   req.IssueTypeIDs,
	}

	// Open-ticket detection: one non-terminal ticket per composite key. The
	// partial unique index backs this up against racing creates.
	existing, err := s.repo.FindOpenTicket(ctx, store.OpenTicketKey{
		GameID:         ticket.GameID,
		ServerKey:      ticket.ServerKey(),
		PlayerIDOrName: ticket.PlayerIDOrName,
		IssueTypeID:    ticket.PrimaryIssueTypeID(),
	})
	if err == nil && existing != nil {
		return nil, apperr.Conflict("an open ticket already exists: " + existing.TicketNo)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if err := s.repo.CreateTicket(ctx, ticket); err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("an open ticket already exists for this player and issue")
		}
		return nil, err
	}

	for _, att := range req.Attachments {
		att.TicketID = ticket.ID
		if err := s.repo.AddAttachment(ctx, att); err != nil {
			s.logger.Warn("failed to store attachment",
				zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
	}
	ticket.Attachments = req.Attachments

	result := &CreateResult{Ticket: ticket}
	if s.presence != nil {
		online, err := s.presence(ctx)
		if err != nil {
			s.logger.Warn("failed to snapshot agent presence", zap.Error(err))
		}
		result.HasOnlineAgents = online
	}

	if s.starter != nil {
		sessionID, err := s.starter.StartForTicket(ctx, ticket)
		if err != nil {
			// Ticket creation succeeded; the player can still chat async.
			s.logger.Error("failed to open session for ticket",
				zap.String("ticket_id", ticket.ID), zap.Error(err))
		} else {
			result.SessionCreated = true
			result.SessionID = sessionID
		}
	}

	s.publish(ctx, events.TicketCreated, map[string]interface{}{
		"ticket_id": ticket.ID,
		"ticket_no": ticket.TicketNo,
		"game_id":   ticket.GameID,
		"status":    string(ticket.Status),
	})
	return result, nil
}

// Get retrieves a ticket by ID.
func (s *Service) Get(ctx context.Context, id string) (*models.Ticket, error) {
	return s.wrapNotFound(s.repo.GetTicket(ctx, id))
}

// GetByToken retrieves a ticket by its opaque player token.
func (s *Service) GetByToken(ctx context.Context, token string) (*models.Ticket, error) {
	return s.wrapNotFound(s.repo.GetTicketByToken(ctx, token))
}

// GetByNo retrieves a ticket by its human-readable number.
func (s *Service) GetByNo(ctx context.Context, ticketNo string) (*models.Ticket, error) {
	return s.wrapNotFound(s.repo.GetTicketByNo(ctx, ticketNo))
}

func (s *Service) wrapNotFound(ticket *models.Ticket, err error) (*models.Ticket, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("ticket not found")
	}
	return ticket, err
}

// Search returns tickets matching the filters plus a total count.
func (s *Service) Search(ctx context.Context, filters store.SearchFilters) ([]*models.Ticket, int, error) {
	return s.repo.SearchTickets(ctx, filters)
}

// UpdateStatus transitions the ticket status. Terminal tickets are immutable.
func (s *Service) UpdateStatus(ctx context.Context, id string, status models.TicketStatus) (*models.Ticket, error) {
	switch status {
	case models.TicketStatusNew, models.TicketStatusInProgress, models.TicketStatusWaiting,
		models.TicketStatusResolved, models.TicketStatusClosed:
	default:
		return nil, apperr.Validation("unknown ticket status")
	}

	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket.Status.IsTerminal() {
		return nil, apperr.Conflict("ticket is already " + string(ticket.Status))
	}
	if ticket.Status == status {
		return ticket, nil
	}

	if err := s.repo.UpdateTicketStatus(ctx, id, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("ticket not found")
		}
		return nil, err
	}
	ticket.Status = status

	s.publish(ctx, events.TicketUpdated, map[string]interface{}{
		"ticket_id": ticket.ID,
		"status":    string(status),
	})
	return ticket, nil
}

// UpdatePriority sets the declared priority of a ticket.
func (s *Service) UpdatePriority(ctx context.Context, id string, priority models.TicketPriority) (*models.Ticket, error) {
	if !priority.Valid() {
		return nil, apperr.Validation("unknown priority")
	}
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket.Status.IsTerminal() {
		return nil, apperr.Conflict("ticket is already " + string(ticket.Status))
	}

	if err := s.repo.UpdateTicketPriority(ctx, id, priority); err != nil {
		return nil, err
	}
	ticket.Priority = priority

	s.publish(ctx, events.TicketUpdated, map[string]interface{}{
		"ticket_id": ticket.ID,
		"priority":  string(priority),
	})
	return ticket, nil
}

// AddMessage appends an asynchronous reply to a ticket. A nil senderID means
// the player wrote it; staff replies carry their user ID.
func (s *Service) AddMessage(ctx context.Context, ticketID string, senderID *string, content string) (*models.TicketMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("content must not be empty")
	}
	ticket, err := s.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	msg := &models.TicketMessage{
		TicketID: ticket.ID,
		SenderID: senderID,
		Content:  content,
	}
	if err := s.repo.CreateTicketMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.publish(ctx, events.TicketMessageAdded, map[string]interface{}{
		"ticket_id":  ticket.ID,
		"message_id": msg.ID,
		"sender_id":  senderID,
		"content":    msg.Content,
		"created_at": msg.CreatedAt,
	})
	return msg, nil
}

// ListMessages returns the asynchronous reply log of a ticket.
func (s *Service) ListMessages(ctx context.Context, ticketID string) ([]*models.TicketMessage, error) {
	if _, err := s.Get(ctx, ticketID); err != nil {
		return nil, err
	}
	return s.repo.ListTicketMessages(ctx, ticketID)
}

// Catalog passthroughs.

func (s *Service) CreateGame(ctx context.Context, game *models.Game) error {
	if game.Name == "" {
		return apperr.Validation("game name is required")
	}
	return s.repo.CreateGame(ctx, game)
}

func (s *Service) ListGames(ctx context.Context) ([]*models.Game, error) {
	return s.repo.ListGames(ctx)
}

func (s *Service) GetGame(ctx context.Context, id string) (*models.Game, error) {
	game, err := s.repo.GetGame(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("game not found")
	}
	return game, err
}

func (s *Service) CreateServer(ctx context.Context, server *models.Server) error {
	if server.GameID == "" || server.Name == "" {
		return apperr.Validation("gameId and name are required")
	}
	return s.repo.CreateServer(ctx, server)
}

func (s *Service) ListServers(ctx context.Context, gameID string) ([]*models.Server, error) {
	return s.repo.ListServers(ctx, gameID)
}

func (s *Service) CreateIssueType(ctx context.Context, it *models.IssueType) error {
	if it.Name == "" {
		return apperr.Validation("issue type name is required")
	}
	if it.PriorityWeight < 0 || it.PriorityWeight > 100 {
		return apperr.Validation("priorityWeight must be in [0, 100]")
	}
	return s.repo.CreateIssueType(ctx, it)
}

func (s *Service) ListIssueTypes(ctx context.Context, enabledOnly bool) ([]*models.IssueType, error) {
	return s.repo.ListIssueTypes(ctx, enabledOnly)
}

func (s *Service) GetIssueType(ctx context.Context, id string) (*models.IssueType, error) {
	it, err := s.repo.GetIssueType(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("issue type not found")
	}
	return it, err
}

func (s *Service) CreateUrgencyRule(ctx context.Context, rule *models.UrgencyRule) error {
	if rule.Name == "" {
		return apperr.Validation("rule name is required")
	}
	if rule.PriorityWeight < 0 || rule.PriorityWeight > 100 {
		return apperr.Validation("priorityWeight must be in [0, 100]")
	}
	return s.repo.CreateUrgencyRule(ctx, rule)
}

func (s *Service) ListUrgencyRules(ctx context.Context, enabledOnly bool) ([]*models.UrgencyRule, error) {
	return s.repo.ListUrgencyRules(ctx, enabledOnly)
}

func (s *Service) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	event := bus.NewEvent(subject, "ticket-service", data)
	if err := s.eventBus.Publish(ctx, subject, event); err != nil {
		s.logger.Warn("failed to publish ticket event",
			zap.String("subject", subject), zap.Error(err))
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
