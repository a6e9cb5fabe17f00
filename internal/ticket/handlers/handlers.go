// Package handlers exposes the HTTP endpoints for tickets, asynchronous
// ticket chat, and the catalog (games, servers, issue types, urgency rules).
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/playdesk/playdesk/internal/auth"
	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/httpapi"
	"github.com/playdesk/playdesk/internal/common/httpmw"
	"github.com/playdesk/playdesk/internal/common/logger"
	"github.com/playdesk/playdesk/internal/ticket/dto"
	"github.com/playdesk/playdesk/internal/ticket/models"
	"github.com/playdesk/playdesk/internal/ticket/service"
	"github.com/playdesk/playdesk/internal/ticket/store"
)

// CredentialSealer encrypts plaintext AI provider keys before storage.
type CredentialSealer interface {
	Seal(plaintext string) (string, error)
}

type Handlers struct {
	service *service.Service
	sealer  CredentialSealer
	logger  *logger.Logger
}

func NewHandlers(svc *service.Service, sealer CredentialSealer, log *logger.Logger) *Handlers {
	return &Handlers{
		service: svc,
		sealer:  sealer,
		logger:  log.WithFields(zap.String("component", "ticket-handlers")),
	}
}

// RegisterRoutes wires ticket and catalog endpoints into the API group.
func RegisterRoutes(api *gin.RouterGroup, svc *service.Service, sealer CredentialSealer, issuer *auth.TokenIssuer, log *logger.Logger) {
	h := NewHandlers(svc, sealer, log)

	// Public player surface.
	api.POST("/tickets", h.createTicket)
	api.GET("/tickets/by-token/:token", h.getByToken)
	api.GET("/tickets/by-no/:ticketNo", h.getByNo)
	api.POST("/tickets/:id/messages", h.addMessage)
	api.GET("/tickets/:id/messages", h.listMessages)
	api.GET("/issue-types", h.listIssueTypes)

	// Staff surface.
	staff := api.Group("")
	staff.Use(httpmw.RequireAuth(issuer))
	staff.GET("/tickets", h.search)
	staff.GET("/tickets/:id", h.get)
	staff.PATCH("/tickets/:id/status", h.updateStatus)
	staff.PATCH("/tickets/:id/priority", h.updatePriority)
	staff.GET("/games", h.listGames)
	staff.GET("/games/:id/servers", h.listServers)
	staff.GET("/urgency-rules", h.listUrgencyRules)

	// Admin catalog management.
	admin := staff.Group("")
	admin.Use(httpmw.RequireRole(auth.RoleAdmin))
	admin.POST("/games", h.createGame)
	admin.POST("/games/:id/servers", h.createServer)
	admin.POST("/issue-types", h.createIssueType)
	admin.POST("/urgency-rules", h.createUrgencyRule)
}

func (h *Handlers) createTicket(c *gin.Context) {
	var req dto.CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("gameId, playerIdOrName, and description are required"))
		return
	}

	attachments := make([]*models.Attachment, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		attachments = append(attachments, &models.Attachment{
			FileURL:  att.FileURL,
			FileName: att.FileName,
			FileType: att.FileType,
		})
	}

	result, err := h.service.Create(c.Request.Context(), &service.CreateTicketRequest{
		GameID:         req.GameID,
		ServerID:       req.ServerID,
		ServerName:     req.ServerName,
		PlayerIDOrName: req.PlayerIDOrName,
		Description:    req.Description,
		OccurredAt:     req.OccurredAt,
		PaymentOrderNo: req.PaymentOrderNo,
		Priority:       models.TicketPriority(req.Priority),
		IssueTypeIDs:   req.IssueTypeIDs,
		Attachments:    attachments,
	})
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	httpapi.OK(c, http.StatusCreated, dto.CreateTicketResponse{
		Ticket:          result.Ticket,
		TicketNo:        result.Ticket.TicketNo,
		Token:           result.Ticket.Token,
		HasOnlineAgents: result.HasOnlineAgents,
		SessionCreated:  result.SessionCreated,
		SessionID:       result.SessionID,
	})
}

func (h *Handlers) getByToken(c *gin.Context) {
	ticket, err := h.service.GetByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, ticket)
}

func (h *Handlers) getByNo(c *gin.Context) {
	ticket, err := h.service.GetByNo(c.Request.Context(), c.Param("ticketNo"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	// Player lookups by number do not get the access token back.
	ticket.Token = ""
	httpapi.OK(c, http.StatusOK, ticket)
}

func (h *Handlers) get(c *gin.Context) {
	ticket, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, ticket)
}

func (h *Handlers) search(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	tickets, total, err := h.service.Search(c.Request.Context(), store.SearchFilters{
		GameID:   c.Query("gameId"),
		Status:   models.TicketStatus(c.Query("status")),
		Priority: models.TicketPriority(c.Query("priority")),
		Keyword:  c.Query("keyword"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, dto.SearchResponse{Tickets: tickets, Total: total})
}

func (h *Handlers) updateStatus(c *gin.Context) {
	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("status is required"))
		return
	}
	ticket, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), models.TicketStatus(req.Status))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, ticket)
}

func (h *Handlers) updatePriority(c *gin.Context) {
	var req dto.UpdatePriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("priority is required"))
		return
	}
	ticket, err := h.service.UpdatePriority(c.Request.Context(), c.Param("id"), models.TicketPriority(req.Priority))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, ticket)
}

// addMessage appends an async reply. Staff callers are identified by their
// bearer token; players must present the ticket access token.
func (h *Handlers) addMessage(c *gin.Context) {
	var req dto.TicketMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("content is required"))
		return
	}

	ctx := c.Request.Context()
	ticketID := c.Param("id")

	var senderID *string
	principal := httpmw.Principal(c)
	if principal.IsStaff() {
		id := principal.UserID
		senderID = &id
	} else {
		ticket, err := h.service.Get(ctx, ticketID)
		if err != nil {
			httpapi.Fail(c, err)
			return
		}
		if req.Token == "" || req.Token != ticket.Token {
			httpapi.Fail(c, apperr.Forbidden("invalid ticket token"))
			return
		}
	}

	msg, err := h.service.AddMessage(ctx, ticketID, senderID, req.Content)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusCreated, msg)
}

func (h *Handlers) listMessages(c *gin.Context) {
	ctx := c.Request.Context()
	ticketID := c.Param("id")

	principal := httpmw.Principal(c)
	if !principal.IsStaff() {
		ticket, err := h.service.Get(ctx, ticketID)
		if err != nil {
			httpapi.Fail(c, err)
			return
		}
		if token := c.Query("token"); token == "" || token != ticket.Token {
			httpapi.Fail(c, apperr.Forbidden("invalid ticket token"))
			return
		}
	}

	messages, err := h.service.ListMessages(ctx, ticketID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, messages)
}

func (h *Handlers) listIssueTypes(c *gin.Context) {
	issueTypes, err := h.service.ListIssueTypes(c.Request.Context(), true)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, issueTypes)
}

func (h *Handlers) createGame(c *gin.Context) {
	var req dto.CreateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("name is required"))
		return
	}

	game := &models.Game{
		Name:      req.Name,
		Enabled:   true,
		AIBaseURL: req.AIBaseURL,
	}
	if req.Enabled != nil {
		game.Enabled = *req.Enabled
	}
	if req.AIAPIKey != "" {
		ciphertext, err := h.sealer.Seal(req.AIAPIKey)
		if err != nil {
			h.logger.Error("failed to encrypt game AI credential", zap.Error(err))
			httpapi.Fail(c, apperr.Internal("failed to store credentials"))
			return
		}
		game.AICredentialCiphertext = ciphertext
	}

	if err := h.service.CreateGame(c.Request.Context(), game); err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusCreated, game)
}

func (h *Handlers) listGames(c *gin.Context) {
	games, err := h.service.ListGames(c.Request.Context())
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, games)
}

func (h *Handlers) createServer(c *gin.Context) {
	var req dto.CreateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("name is required"))
		return
	}
	server := &models.Server{
		GameID:  c.Param("id"),
		Name:    req.Name,
		Enabled: true,
	}
	if req.Enabled != nil {
		server.Enabled = *req.Enabled
	}
	if err := h.service.CreateServer(c.Request.Context(), server); err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusCreated, server)
}

func (h *Handlers) listServers(c *gin.Context) {
	servers, err := h.service.ListServers(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, servers)
}

func (h *Handlers) createIssueType(c *gin.Context) {
	var req dto.CreateIssueTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("name is required"))
		return
	}
	it := &models.IssueType{
		Name:                  req.Name,
		PriorityWeight:        req.PriorityWeight,
		RequireDirectTransfer: req.RequireDirectTransfer,
		Enabled:               true,
		SortOrder:             req.SortOrder,
	}
	if req.Enabled != nil {
		it.Enabled = *req.Enabled
	}
	if err := h.service.CreateIssueType(c.Request.Context(), it); err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusCreated, it)
}

func (h *Handlers) createUrgencyRule(c *gin.Context) {
	var req dto.CreateUrgencyRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("name is required"))
		return
	}
	rule := &models.UrgencyRule{
		Name:           req.Name,
		Keyword:        req.Keyword,
		GameID:         req.GameID,
		TicketPriority: models.TicketPriority(req.TicketPriority),
		PriorityWeight: req.PriorityWeight,
		Enabled:        true,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if err := h.service.CreateUrgencyRule(c.Request.Context(), rule); err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusCreated, rule)
}

func (h *Handlers) listUrgencyRules(c *gin.Context) {
	rules, err := h.service.ListUrgencyRules(c.Request.Context(), false)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, rules)
}
