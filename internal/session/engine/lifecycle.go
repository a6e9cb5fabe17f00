package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/playdesk/playdesk/internal/common/appctx"
	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/constants"
	"github.com/playdesk/playdesk/internal/events"
	"github.com/playdesk/playdesk/internal/queue"
	"github.com/playdesk/playdesk/internal/session/models"
	"github.com/playdesk/playdesk/internal/session/store"
	ticketmodels "github.com/playdesk/playdesk/internal/ticket/models"
	ws "github.com/playdesk/playdesk/pkg/websocket"
)

// StartForTicket opens the live session for a freshly created ticket. Issue
// types flagged for direct transfer skip the AI stage and go straight through
// the transfer protocol; everything else starts PENDING with triage running in
// the background so ticket submission never waits on the AI provider.
func (e *Engine) StartForTicket(ctx context.Context, ticket *ticketmodels.Ticket) (string, error) {
	session := &models.Session{
		TicketID:            ticket.ID,
		GameID:              ticket.GameID,
		Status:              models.StatusPending,
		AllowManualTransfer: true,
	}
	if err := e.persist(ctx, func(ctx context.Context) error {
		return e.repo.CreateSession(ctx, session)
	}); err != nil {
		if isUniqueViolation(err) {
			return "", apperr.Conflict("ticket already has a live session")
		}
		return "", err
	}
	e.publishSessionEvent(ctx, events.SessionCreated, session)

	if e.requiresDirectTransfer(ctx, ticket) {
		if _, err := e.TransferToAgent(ctx, session.ID, "direct transfer issue type", ""); err != nil {
			e.logger.Error("direct transfer failed",
				zap.String("session_id", session.ID), zap.Error(err))
		}
		return session.ID, nil
	}

	e.wg.Add(1)
	go e.triageAsync(session.ID, ticket)
	return session.ID, nil
}

func (e *Engine) requiresDirectTransfer(ctx context.Context, ticket *ticketmodels.Ticket) bool {
	for _, id := range ticket.IssueTypeIDs {
		it, err := e.tickets.GetIssueType(ctx, id)
		if err == nil && it.RequireDirectTransfer {
			return true
		}
	}
	return false
}

// triageAsync runs AI triage detached from the originating request and folds
// the result back into the session. A session closed or transferred in the
// meantime keeps its state; a late URGENT verdict on a queued session still
// boosts its score.
func (e *Engine) triageAsync(sessionID string, ticket *ticketmodels.Ticket) {
	defer e.wg.Done()
	ctx, cancel := appctx.Detached(e.stopCh, constants.AIRequestTimeout+constants.StorageTimeout)
	defer cancel()

	game, err := e.tickets.GetGame(ctx, ticket.GameID)
	if err != nil {
		e.logger.Warn("triage: failed to load game",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	result := e.ai.TriageTicket(ctx, game, ticket.Description, "player:"+ticket.ID)

	err = e.withSession(ctx, sessionID, func(session *models.Session) error {
		if session.Status == models.StatusClosed {
			return nil
		}
		session.DetectedIntent = result.DetectedIntent
		session.AIUrgency = result.Urgency
		session.AIConversationHandle = result.ConversationHandle
		if session.Metadata == nil {
			session.Metadata = make(map[string]interface{})
		}
		session.Metadata["aiDegraded"] = result.Degraded

		aiMsg := &models.Message{
			SessionID:  session.ID,
			SenderType: models.SenderAI,
			Content:    result.Text,
			Metadata:   map[string]interface{}{"suggestedOptions": result.SuggestedOptions},
		}
		if err := e.persist(ctx, func(ctx context.Context) error {
			return e.repo.UpdateSessionWithMessage(ctx, session, aiMsg)
		}); err != nil {
			return err
		}

		e.broadcast(session.ID, ws.ActionMessage, aiMsg)
		e.broadcast(session.ID, ws.ActionSessionUpdate, session)
		e.publishSessionEvent(ctx, events.SessionUpdated, session)

		if session.Status == models.StatusQueued && result.Urgency == models.UrgencyUrgent {
			e.boostQueuedSession(ctx, session)
		}
		return nil
	})
	if err != nil {
		e.logger.Error("triage: failed to apply result",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// boostQueuedSession re-enqueues a queued session after its urgency changed,
// preserving its original queue timestamps.
func (e *Engine) boostQueuedSession(ctx context.Context, session *models.Session) {
	in, err := e.scoreInput(ctx, session)
	if err != nil {
		e.logger.Warn("failed to rescore after triage",
			zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	e.scheduler.Remove(session.GameID, session.ID)
	if err := e.scheduler.Enqueue(session.GameID, &queue.Item{
		SessionID: session.ID,
		BaseScore: queue.BaseScore(in),
		Score:     queue.Score(in),
		QueuedAt:  *session.QueuedAt,
		CreatedAt: session.CreatedAt,
	}); err != nil {
		e.logger.Warn("failed to re-enqueue boosted session",
			zap.String("session_id", session.ID), zap.Error(err))
	}
}

// TransferResult is the outcome of a transfer request.
type TransferResult struct {
	Session *models.Session `json:"session"`
	// ConvertedToTicket is true when no agent was online: the session closed
	// and the conversation continues asynchronously on the ticket.
	ConvertedToTicket bool            `json:"converted_to_ticket"`
	TicketNo          string          `json:"ticket_no,omitempty"`
	Position          *queue.Position `json:"position,omitempty"`
}

// TransferToAgent moves a PENDING session into the agent queue, or converts it
// back to asynchronous ticket handling when no agent is online. Calling it on
// an already-queued session is idempotent and returns the current position.
func (e *Engine) TransferToAgent(ctx context.Context, sessionID, reason string, urgency models.AIUrgency) (*TransferResult, error) {
	var result *TransferResult
	err := e.withSession(ctx, sessionID, func(session *models.Session) error {
		switch session.Status {
		case models.StatusQueued:
			result = &TransferResult{Session: session}
			if pos, ok := e.scheduler.Position(session.GameID, session.ID); ok {
				result.Position = &pos
			}
			return nil
		case models.StatusInProgress:
			return apperr.Conflict("an agent is already handling this session")
		case models.StatusClosed:
			return apperr.Conflict("session is closed")
		}
		if !session.AllowManualTransfer {
			return apperr.Forbidden("transfer is not available for this session")
		}

		online, err := e.agents.HasOnlineAgents(ctx)
		if err != nil {
			e.logger.Warn("presence check failed, assuming no agents online", zap.Error(err))
			online = false
		}

		now := time.Now().UTC()
		session.TransferAt = &now
		session.TransferReason = reason
		// A player-declared urgent transfer scores like an urgent AI triage.
		if urgency == models.UrgencyUrgent {
			session.AIUrgency = models.UrgencyUrgent
		}

		if !online {
			var err error
			result, err = e.convertToTicket(ctx, session, now)
			return err
		}

		session.Status = models.StatusQueued
		session.QueuedAt = &now
		in, err := e.scoreInput(ctx, session)
		if err != nil {
			return err
		}
		session.PriorityScore = queue.Score(in)

		notice := &models.Message{
			SessionID:   session.ID,
			SenderType:  models.SenderSystem,
			MessageType: models.MessageSystemNotice,
			Content:     "You are in the queue for a human agent.",
		}
		if err := e.persist(ctx, func(ctx context.Context) error {
			return e.repo.UpdateSessionWithMessage(ctx, session, notice)
		}); err != nil {
			return err
		}
		if err := e.scheduler.Enqueue(session.GameID, &queue.Item{
			SessionID: session.ID,
			BaseScore: queue.BaseScore(in),
			Score:     session.PriorityScore,
			QueuedAt:  now,
			CreatedAt: session.CreatedAt,
		}); err != nil {
			return err
		}

		result = &TransferResult{Session: session}
		if pos, ok := e.scheduler.Position(session.GameID, session.ID); ok {
			result.Position = &pos
		}

		e.broadcast(session.ID, ws.ActionMessage, notice)
		e.broadcast(session.ID, ws.ActionSessionUpdate, session)
		e.publish(ctx, events.SessionQueued, map[string]interface{}{
			"session_id": session.ID,
			"ticket_id":  session.TicketID,
			"game_id":    session.GameID,
			"score":      session.PriorityScore,
		})

		if e.autoAssign && e.autoAssignLocked(ctx, session) {
			result.Position = nil
		}
		return nil
	})
	return result, err
}

// autoAssignLocked pushes a freshly queued session to the least-loaded online
// agent. Runs under the session lock. A failed pick leaves the session queued
// for manual claiming, so the push model degrades to the pull model.
func (e *Engine) autoAssignLocked(ctx context.Context, session *models.Session) bool {
	agentID, err := e.scheduler.PickAgent(ctx)
	if err != nil {
		e.logger.Warn("auto-assign: no agent available, session stays queued",
			zap.String("session_id", session.ID), zap.Error(err))
		return false
	}
	agentName, err := e.agents.AgentName(ctx, agentID)
	if err != nil || agentName == "" {
		agentName = "An agent"
	}
	if err := e.claimLocked(ctx, session, agentID, agentName); err != nil {
		e.logger.Error("auto-assign failed, session stays queued",
			zap.String("session_id", session.ID),
			zap.String("agent_id", agentID), zap.Error(err))
		return false
	}
	return true
}

// convertToTicket closes the session because no agent is online; the ticket
// moves to WAITING and collects asynchronous replies.
func (e *Engine) convertToTicket(ctx context.Context, session *models.Session, now time.Time) (*TransferResult, error) {
	ticket, err := e.tickets.Get(ctx, session.TicketID)
	if err != nil {
		return nil, err
	}

	session.Status = models.StatusClosed
	session.ClosedAt = &now
	notice := &models.Message{
		SessionID:   session.ID,
		SenderType:  models.SenderSystem,
		MessageType: models.MessageSystemNotice,
		Content: fmt.Sprintf(
			"No agents are online right now. Your report is saved as ticket %s; replies will arrive on the ticket.",
			ticket.TicketNo),
	}
	if err := e.persist(ctx, func(ctx context.Context) error {
		return e.repo.UpdateSessionWithMessage(ctx, session, notice)
	}); err != nil {
		return nil, err
	}

	if _, err := e.tickets.UpdateStatus(ctx, ticket.ID, ticketmodels.TicketStatusWaiting); err != nil {
		e.logger.Warn("failed to move ticket to WAITING",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
	}

	e.broadcast(session.ID, ws.ActionMessage, notice)
	e.broadcast(session.ID, ws.ActionSessionClosed, map[string]interface{}{
		"session_id":          session.ID,
		"converted_to_ticket": true,
		"ticket_no":           ticket.TicketNo,
	})
	e.publishSessionEvent(ctx, events.SessionClosed, session)

	return &TransferResult{
		Session:           session,
		ConvertedToTicket: true,
		TicketNo:          ticket.TicketNo,
	}, nil
}

// AgentJoin claims a queued session for an agent. Joining a session the same
// agent already handles is a no-op; a session held by another agent conflicts.
func (e *Engine) AgentJoin(ctx context.Context, sessionID, agentID, agentName string) (*models.Session, error) {
	return e.takeSession(ctx, sessionID, agentID, agentName, false)
}

// Assign hands a session to a specific agent regardless of the queue order or
// the agent's presence. Admin operation; an offline agent simply finds the
// session waiting in their workbench.
func (e *Engine) Assign(ctx context.Context, sessionID, agentID, agentName string) (*models.Session, error) {
	return e.takeSession(ctx, sessionID, agentID, agentName, true)
}

func (e *Engine) takeSession(ctx context.Context, sessionID, agentID, agentName string, allowPending bool) (*models.Session, error) {
	var out *models.Session
	err := e.withSession(ctx, sessionID, func(session *models.Session) error {
		if session.Status == models.StatusInProgress {
			if session.AgentID != nil && *session.AgentID == agentID {
				out = session
				return nil
			}
			return apperr.Conflict("another agent is handling this session")
		}
		if session.Status == models.StatusClosed {
			return apperr.Conflict("session is closed")
		}
		if session.Status == models.StatusPending && !allowPending {
			return apperr.Conflict("session is not queued yet")
		}

		if err := e.claimLocked(ctx, session, agentID, agentName); err != nil {
			return err
		}
		out = session
		return nil
	})
	return out, err
}

// claimLocked performs the actual handover to an agent. Runs under the
// session lock; the session must be PENDING or QUEUED.
func (e *Engine) claimLocked(ctx context.Context, session *models.Session, agentID, agentName string) error {
	now := time.Now().UTC()
	session.Status = models.StatusInProgress
	session.AgentID = &agentID
	session.StartedAt = &now

	notice := &models.Message{
		SessionID:   session.ID,
		SenderType:  models.SenderSystem,
		MessageType: models.MessageSystemNotice,
		AgentID:     &agentID,
		Content:     agentName + " joined the conversation.",
	}
	if err := e.persist(ctx, func(ctx context.Context) error {
		return e.repo.UpdateSessionWithMessage(ctx, session, notice)
	}); err != nil {
		return err
	}
	e.scheduler.Remove(session.GameID, session.ID)

	if _, err := e.tickets.UpdateStatus(ctx, session.TicketID, ticketmodels.TicketStatusInProgress); err != nil {
		e.logger.Warn("failed to move ticket to IN_PROGRESS",
			zap.String("ticket_id", session.TicketID), zap.Error(err))
	}

	e.broadcast(session.ID, ws.ActionMessage, notice)
	e.broadcast(session.ID, ws.ActionSessionUpdate, session)
	e.publishSessionEvent(ctx, events.SessionUpdated, session)
	return nil
}

// CloseByAgent closes a session from the workbench. An in-progress session
// may only be closed by its assigned agent and resolves the ticket; a pending
// or queued session has no assignment yet, so any staff caller can cancel the
// escalation and the ticket stays WAITING for asynchronous follow-up. Closing
// an already-closed session is a no-op.
func (e *Engine) CloseByAgent(ctx context.Context, sessionID, agentID string) (*models.Session, error) {
	var out *models.Session
	err := e.withSession(ctx, sessionID, func(session *models.Session) error {
		if session.Status == models.StatusClosed {
			out = session
			return nil
		}
		ticketStatus := ticketmodels.TicketStatusWaiting
		if session.Status == models.StatusInProgress {
			if session.AgentID == nil || *session.AgentID != agentID {
				return apperr.Forbidden("only the assigned agent can close this session")
			}
			ticketStatus = ticketmodels.TicketStatusResolved
		}
		return e.closeLocked(ctx, session, ticketStatus,
			"The conversation was closed by the agent.", &out)
	})
	return out, err
}

// CloseByPlayer lets the player end their session from any live state. A
// session that never reached an agent leaves the ticket WAITING for an
// asynchronous follow-up; a handled session resolves it.
func (e *Engine) CloseByPlayer(ctx context.Context, sessionID string) (*models.Session, error) {
	var out *models.Session
	err := e.withSession(ctx, sessionID, func(session *models.Session) error {
		if session.Status == models.StatusClosed {
			out = session
			return nil
		}
		ticketStatus := ticketmodels.TicketStatusWaiting
		if session.Status == models.StatusInProgress {
			ticketStatus = ticketmodels.TicketStatusResolved
		}
		return e.closeLocked(ctx, session, ticketStatus,
			"The conversation was closed by the player.", &out)
	})
	return out, err
}

func (e *Engine) closeLocked(ctx context.Context, session *models.Session,
	ticketStatus ticketmodels.TicketStatus, noticeText string, out **models.Session) error {
	wasQueued := session.Status == models.StatusQueued
	handled := session.Status == models.StatusInProgress && session.StartedAt != nil

	now := time.Now().UTC()
	session.Status = models.StatusClosed
	session.ClosedAt = &now

	notice := &models.Message{
		SessionID:   session.ID,
		SenderType:  models.SenderSystem,
		MessageType: models.MessageSystemNotice,
		Content:     noticeText,
	}
	if err := e.persist(ctx, func(ctx context.Context) error {
		return e.repo.UpdateSessionWithMessage(ctx, session, notice)
	}); err != nil {
		return err
	}

	if wasQueued {
		e.scheduler.Remove(session.GameID, session.ID)
	}
	if handled {
		e.scheduler.RecordServiceTime(now.Sub(*session.StartedAt))
	}

	if _, err := e.tickets.UpdateStatus(ctx, session.TicketID, ticketStatus); err != nil {
		e.logger.Warn("failed to update ticket on session close",
			zap.String("ticket_id", session.TicketID), zap.Error(err))
	}

	e.broadcast(session.ID, ws.ActionMessage, notice)
	e.broadcast(session.ID, ws.ActionSessionClosed, map[string]interface{}{
		"session_id":    session.ID,
		"prompt_rating": handled,
	})
	e.publishSessionEvent(ctx, events.SessionClosed, session)
	*out = session
	return nil
}

// SubmitRating records the player's satisfaction rating for a closed session.
// At most one rating per session.
func (e *Engine) SubmitRating(ctx context.Context, sessionID string, rating int, comment string) (*models.SatisfactionRating, error) {
	if rating < 1 || rating > 5 {
		return nil, apperr.Validation("rating must be between 1 and 5")
	}
	session, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusClosed {
		return nil, apperr.Conflict("session is still open")
	}

	r := &models.SatisfactionRating{SessionID: sessionID, Rating: rating, Comment: comment}
	if err := e.persist(ctx, func(ctx context.Context) error {
		return e.repo.CreateRating(ctx, r)
	}); err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("rating already submitted")
		}
		return nil, err
	}

	e.publish(ctx, events.RatingSubmitted, map[string]interface{}{
		"session_id": sessionID,
		"rating":     rating,
	})
	return r, nil
}

// QueuedSession pairs a queued session with its current queue standing.
type QueuedSession struct {
	Session  *models.Session `json:"session"`
	Position *queue.Position `json:"position,omitempty"`
}

// QueuedForWorkbench returns all queued sessions with their positions for the
// agent workbench, highest priority first within each game.
func (e *Engine) QueuedForWorkbench(ctx context.Context) ([]*QueuedSession, error) {
	sessions, err := e.repo.ListQueuedSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*QueuedSession, 0, len(sessions))
	for _, session := range sessions {
		qs := &QueuedSession{Session: session}
		if pos, ok := e.scheduler.Position(session.GameID, session.ID); ok {
			qs.Position = &pos
		}
		out = append(out, qs)
	}
	return out, nil
}

// Get returns one session.
func (e *Engine) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	return e.loadSession(ctx, sessionID)
}

// Position returns the queue standing of a queued session.
func (e *Engine) Position(ctx context.Context, sessionID string) (*queue.Position, error) {
	session, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusQueued {
		return nil, apperr.Conflict("session is not queued")
	}
	pos, ok := e.scheduler.Position(session.GameID, session.ID)
	if !ok {
		return nil, apperr.NotFound("session is not in the queue")
	}
	return &pos, nil
}

// List returns a filtered page of sessions with the total count.
func (e *Engine) List(ctx context.Context, filters store.ListFilters) ([]*models.Session, int, error) {
	return e.repo.ListSessions(ctx, filters)
}
