// Package handlers exposes the HTTP endpoints for live sessions: the player
// conversation surface, the agent workbench, and message translation.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/playdesk/playdesk/internal/auth"
	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/httpapi"
	"github.com/playdesk/playdesk/internal/common/httpmw"
	"github.com/playdesk/playdesk/internal/common/logger"
	"github.com/playdesk/playdesk/internal/session/dto"
	"github.com/playdesk/playdesk/internal/session/engine"
	"github.com/playdesk/playdesk/internal/session/models"
	"github.com/playdesk/playdesk/internal/session/store"
	ticketmodels "github.com/playdesk/playdesk/internal/ticket/models"
	"github.com/playdesk/playdesk/internal/translation"
)

// TicketTokens resolves a session's ticket so player requests can be checked
// against the ticket access token. Satisfied by the ticket service.
type TicketTokens interface {
	Get(ctx context.Context, id string) (*ticketmodels.Ticket, error)
}

type Handlers struct {
	engine     *engine.Engine
	tickets    TicketTokens
	translator *translation.Adapter
	logger     *logger.Logger
}

func NewHandlers(eng *engine.Engine, tickets TicketTokens, translator *translation.Adapter, log *logger.Logger) *Handlers {
	return &Handlers{
		engine:     eng,
		tickets:    tickets,
		translator: translator,
		logger:     log.WithFields(zap.String("component", "session-handlers")),
	}
}

// RegisterRoutes wires session endpoints into the API group. Player routes
// authenticate with the ticket token; staff routes with the bearer token.
// aiLimit is the stricter bucket applied to the endpoints that reach the AI
// provider: session creation (triage), player messages (chat), transfer, and
// draft optimization.
func RegisterRoutes(api *gin.RouterGroup, eng *engine.Engine, tickets TicketTokens,
	translator *translation.Adapter, issuer *auth.TokenIssuer, aiLimit gin.HandlerFunc,
	log *logger.Logger) {
	h := NewHandlers(eng, tickets, translator, log)

	// Player surface. Staff principals pass the token check implicitly.
	api.POST("/sessions", aiLimit, h.create)
	api.GET("/sessions/:id", h.get)
	api.GET("/sessions/:id/messages", h.listMessages)
	api.GET("/sessions/:id/position", h.position)
	api.POST("/sessions/:id/messages", aiLimit, h.playerMessage)
	api.POST("/sessions/:id/transfer-to-agent", aiLimit, h.transfer)
	api.PATCH("/sessions/:id/close-player", h.closeByPlayer)
	api.POST("/sessions/:id/rating", h.submitRating)

	// Agent workbench.
	staff := api.Group("")
	staff.Use(httpmw.RequireAuth(issuer))
	staff.GET("/sessions", h.list)
	staff.GET("/sessions/workbench/queued", h.queued)
	staff.GET("/sessions/workbench/mine", h.mine)
	staff.POST("/sessions/:id/join", h.join)
	staff.POST("/messages/agent", h.agentMessage)
	staff.POST("/sessions/:id/optimize", aiLimit, h.optimize)
	staff.PATCH("/sessions/:id/close", h.closeByAgent)
	staff.POST("/messages/:id/translate", h.translate)

	admin := staff.Group("")
	admin.Use(httpmw.RequireRole(auth.RoleAdmin))
	admin.POST("/sessions/:id/assign", h.assign)
}

// authorize verifies the caller may act on the session: staff always can,
// players must present the session's ticket token.
func (h *Handlers) authorize(c *gin.Context, sessionID, token string) bool {
	if httpmw.Principal(c).IsStaff() {
		return true
	}
	session, err := h.engine.Get(c.Request.Context(), sessionID)
	if err != nil {
		httpapi.Fail(c, err)
		return false
	}
	ticket, err := h.tickets.Get(c.Request.Context(), session.TicketID)
	if err != nil {
		httpapi.Fail(c, err)
		return false
	}
	if token == "" || token != ticket.Token {
		httpapi.Fail(c, apperr.Forbidden("invalid ticket token"))
		return false
	}
	return true
}

// create opens a session for an existing ticket. The one-live-session-per-
// ticket constraint in storage rejects a duplicate with a conflict.
func (h *Handlers) create(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("ticket_id is required"))
		return
	}
	ticket, err := h.tickets.Get(c.Request.Context(), req.TicketID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	if !httpmw.Principal(c).IsStaff() && req.Token != ticket.Token {
		httpapi.Fail(c, apperr.Forbidden("invalid ticket token"))
		return
	}
	sessionID, err := h.engine.StartForTicket(c.Request.Context(), ticket)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	session, err := h.engine.Get(c.Request.Context(), sessionID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusCreated, session)
}

func (h *Handlers) get(c *gin.Context) {
	if !h.authorize(c, c.Param("id"), c.Query("token")) {
		return
	}
	session, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, session)
}

func (h *Handlers) listMessages(c *gin.Context) {
	if !h.authorize(c, c.Param("id"), c.Query("token")) {
		return
	}
	messages, err := h.engine.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, messages)
}

func (h *Handlers) position(c *gin.Context) {
	if !h.authorize(c, c.Param("id"), c.Query("token")) {
		return
	}
	pos, err := h.engine.Position(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, pos)
}

func (h *Handlers) playerMessage(c *gin.Context) {
	var req dto.PlayerMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("content is required"))
		return
	}
	if !h.authorize(c, c.Param("id"), req.Token) {
		return
	}
	result, err := h.engine.PlayerMessage(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusCreated, result)
}

func (h *Handlers) transfer(c *gin.Context) {
	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		httpapi.Fail(c, apperr.Validation("invalid request body"))
		return
	}
	if !h.authorize(c, c.Param("id"), req.Token) {
		return
	}
	result, err := h.engine.TransferToAgent(c.Request.Context(), c.Param("id"),
		req.Reason, models.AIUrgency(req.Urgency))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, result)
}

func (h *Handlers) closeByPlayer(c *gin.Context) {
	var req dto.CloseRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		httpapi.Fail(c, apperr.Validation("invalid request body"))
		return
	}
	if !h.authorize(c, c.Param("id"), req.Token) {
		return
	}
	session, err := h.engine.CloseByPlayer(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, session)
}

func (h *Handlers) submitRating(c *gin.Context) {
	var req dto.RatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("rating is required"))
		return
	}
	if !h.authorize(c, c.Param("id"), req.Token) {
		return
	}
	rating, err := h.engine.SubmitRating(c.Request.Context(), c.Param("id"), req.Rating, req.Comment)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusCreated, rating)
}

func (h *Handlers) list(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	sessions, total, err := h.engine.List(c.Request.Context(), store.ListFilters{
		Status:  models.SessionStatus(c.Query("status")),
		AgentID: c.Query("agentId"),
		GameID:  c.Query("gameId"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, dto.ListResponse{Sessions: sessions, Total: total})
}

func (h *Handlers) queued(c *gin.Context) {
	queued, err := h.engine.QueuedForWorkbench(c.Request.Context())
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, queued)
}

// mine lists the calling agent's active conversations for the workbench
// sidebar.
func (h *Handlers) mine(c *gin.Context) {
	sessions, total, err := h.engine.List(c.Request.Context(), store.ListFilters{
		Status:  models.StatusInProgress,
		AgentID: httpmw.Principal(c).UserID,
		Limit:   100,
	})
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, dto.ListResponse{Sessions: sessions, Total: total})
}

func (h *Handlers) join(c *gin.Context) {
	principal := httpmw.Principal(c)
	session, err := h.engine.AgentJoin(c.Request.Context(), c.Param("id"), principal.UserID, principal.Username)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, session)
}

func (h *Handlers) assign(c *gin.Context) {
	var req dto.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("agent_id is required"))
		return
	}
	name := req.AgentName
	if name == "" {
		name = "An agent"
	}
	session, err := h.engine.Assign(c.Request.Context(), c.Param("id"), req.AgentID, name)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, session)
}

func (h *Handlers) agentMessage(c *gin.Context) {
	var req dto.AgentMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("content is required"))
		return
	}
	msg, err := h.engine.AgentMessage(c.Request.Context(), req.SessionID,
		httpmw.Principal(c).UserID, req.Content)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusCreated, msg)
}

func (h *Handlers) optimize(c *gin.Context) {
	var req dto.OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("draft is required"))
		return
	}
	draft, err := h.engine.OptimizeDraft(c.Request.Context(), c.Param("id"),
		httpmw.Principal(c).UserID, req.Draft)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, dto.OptimizeResponse{Draft: draft})
}

func (h *Handlers) translate(c *gin.Context) {
	var req dto.TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("target_lang is required"))
		return
	}
	result, err := h.translator.Translate(c.Request.Context(), c.Param("id"), req.TargetLang)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, result)
}
