package websocket

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/playdesk/playdesk/internal/auth"
	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/config"
	"github.com/playdesk/playdesk/internal/common/logger"
	"github.com/playdesk/playdesk/internal/common/ratelimit"
	"github.com/playdesk/playdesk/internal/events"
	"github.com/playdesk/playdesk/internal/events/bus"
	"github.com/playdesk/playdesk/internal/session/engine"
	ticketmodels "github.com/playdesk/playdesk/internal/ticket/models"
	ws "github.com/playdesk/playdesk/pkg/websocket"
)

// TicketTokens resolves tickets so player connections can be checked against
// the ticket access token. Satisfied by the ticket service.
type TicketTokens interface {
	Get(ctx context.Context, id string) (*ticketmodels.Ticket, error)
}

// Presence receives connect and disconnect notifications for staff
// connections. Satisfied by the user service.
type Presence interface {
	MarkConnected(userID string)
	MarkDisconnected(userID string)
}

// Gateway bundles the hub, dispatcher, and connection handler, and bridges
// event-bus subjects into the rooms.
type Gateway struct {
	Hub        *Hub
	Dispatcher *ws.Dispatcher
	Handler    *Handler

	engine   *engine.Engine
	tickets  TicketTokens
	presence Presence
	issuer   *auth.TokenIssuer

	playerLimiter *ratelimit.Keyed
	agentLimiter  *ratelimit.Keyed

	idleTimeout time.Duration
	pingPeriod  time.Duration

	subs   []bus.Subscription
	logger *logger.Logger
}

// NewGateway creates the realtime gateway and subscribes it to the event-bus
// subjects it fans out to clients. Call Close on shutdown.
func NewGateway(cfg *config.Config, eng *engine.Engine, tickets TicketTokens, presence Presence,
	issuer *auth.TokenIssuer, eventBus bus.EventBus, log *logger.Logger) *Gateway {
	dispatcher := ws.NewDispatcher()

	g := &Gateway{
		Hub:        NewHub(dispatcher, log),
		Dispatcher: dispatcher,
		engine:     eng,
		tickets:    tickets,
		presence:   presence,
		issuer:     issuer,
		playerLimiter: ratelimit.NewKeyed(
			ratelimit.Limits{PerMinute: cfg.RateLimit.PlayerPerMinute, Burst: cfg.RateLimit.PlayerBurst},
			cfg.RateLimit.NoticeCooldownDuration(), cfg.RateLimit.IdleSweepDuration()),
		agentLimiter: ratelimit.NewKeyed(
			ratelimit.Limits{PerMinute: cfg.RateLimit.AgentPerMinute, Burst: cfg.RateLimit.AgentBurst},
			cfg.RateLimit.NoticeCooldownDuration(), cfg.RateLimit.IdleSweepDuration()),
		idleTimeout: cfg.Realtime.IdleTimeoutDuration(),
		pingPeriod:  cfg.Realtime.HeartbeatIntervalDuration(),
		logger:      log.WithFields(zap.String("component", "ws-gateway")),
	}
	g.Handler = NewHandler(g, log)

	g.registerActions()
	g.bridgeEvents(eventBus)
	return g
}

// SetupRoutes mounts the WebSocket endpoint.
func (g *Gateway) SetupRoutes(router *gin.Engine) {
	router.GET("/ws", g.Handler.HandleConnection)
}

// Close drops the event-bus subscriptions.
func (g *Gateway) Close() {
	for _, sub := range g.subs {
		if err := sub.Unsubscribe(); err != nil {
			g.logger.Warn("failed to unsubscribe gateway bridge", zap.Error(err))
		}
	}
	g.subs = nil
}

// clientCtxKey carries the originating client through the dispatcher.
type clientCtxKey struct{}

func withClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientCtxKey{}, c)
}

func clientFrom(ctx context.Context) *Client {
	c, _ := ctx.Value(clientCtxKey{}).(*Client)
	return c
}

// errorCode maps an application error to the wire error code.
func errorCode(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return ws.ErrorCodeValidation
	case apperr.KindAuth:
		return ws.ErrorCodeUnauthorized
	case apperr.KindForbidden:
		return ws.ErrorCodeForbidden
	case apperr.KindNotFound:
		return ws.ErrorCodeNotFound
	case apperr.KindRateLimit:
		return ws.ErrorCodeRateLimited
	case apperr.KindConflict:
		return ws.ErrorCodeBadRequest
	default:
		return ws.ErrorCodeInternalError
	}
}

// authorizeSession checks a player's ticket token against the session's ticket.
func (g *Gateway) authorizeSession(ctx context.Context, sessionID, token string) error {
	session, err := g.engine.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	return g.authorizeTicket(ctx, session.TicketID, token)
}

// authorizeTicket checks a player's ticket token.
func (g *Gateway) authorizeTicket(ctx context.Context, ticketID, token string) error {
	ticket, err := g.tickets.Get(ctx, ticketID)
	if err != nil {
		return err
	}
	if token == "" || token != ticket.Token {
		return apperr.Forbidden("invalid ticket token")
	}
	return nil
}

// messageRequest is the payload for send-message and close-session actions.
type messageRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

func (g *Gateway) registerActions() {
	g.Dispatcher.RegisterFunc(ws.ActionSendMessage, g.handlePlayerMessage)
	g.Dispatcher.RegisterFunc(ws.ActionAgentSendMessage, g.handleAgentMessage)
	g.Dispatcher.RegisterFunc(ws.ActionCloseSession, g.handleCloseSession)
}

// handlePlayerMessage appends a player message over the socket. The client
// must have joined the session room first; joining is where the ticket token
// is checked.
func (g *Gateway) handlePlayerMessage(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	client := clientFrom(ctx)
	var req messageRequest
	if err := msg.ParsePayload(&req); err != nil || req.SessionID == "" || req.Content == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation,
			"session_id and content are required", nil)
	}
	if client == nil || !client.inRoom(sessionRoom(req.SessionID)) {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeForbidden,
			"join the session before sending messages", nil)
	}

	result, err := g.engine.PlayerMessage(ctx, req.SessionID, req.Content)
	if err != nil {
		return ws.NewError(msg.ID, msg.Action, errorCode(err), err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, result)
}

func (g *Gateway) handleAgentMessage(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	client := clientFrom(ctx)
	if client == nil || !client.IsStaff() {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeForbidden,
			"agent authentication required", nil)
	}
	var req messageRequest
	if err := msg.ParsePayload(&req); err != nil || req.SessionID == "" || req.Content == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation,
			"session_id and content are required", nil)
	}

	message, err := g.engine.AgentMessage(ctx, req.SessionID, client.principal.UserID, req.Content)
	if err != nil {
		return ws.NewError(msg.ID, msg.Action, errorCode(err), err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, message)
}

// handleCloseSession closes a session over the socket. Staff close as the
// assigned agent; players close their own session after joining its room.
func (g *Gateway) handleCloseSession(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	client := clientFrom(ctx)
	var req messageRequest
	if err := msg.ParsePayload(&req); err != nil || req.SessionID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation,
			"session_id is required", nil)
	}

	if client != nil && client.IsStaff() {
		session, err := g.engine.CloseByAgent(ctx, req.SessionID, client.principal.UserID)
		if err != nil {
			return ws.NewError(msg.ID, msg.Action, errorCode(err), err.Error(), nil)
		}
		return ws.NewResponse(msg.ID, msg.Action, session)
	}

	if client == nil || !client.inRoom(sessionRoom(req.SessionID)) {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeForbidden,
			"join the session before closing it", nil)
	}
	session, err := g.engine.CloseByPlayer(ctx, req.SessionID)
	if err != nil {
		return ws.NewError(msg.ID, msg.Action, errorCode(err), err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, session)
}

// bridgeEvents fans order-insensitive bus events out to the rooms. Ordered
// conversation events bypass the bus and reach the hub directly from the
// session engine.
func (g *Gateway) bridgeEvents(eventBus bus.EventBus) {
	if eventBus == nil {
		return
	}

	g.subscribe(eventBus, "ticket.*", func(ctx context.Context, event *bus.Event) error {
		ticketID, _ := event.Data["ticket_id"].(string)
		if ticketID == "" {
			return nil
		}
		switch event.Type {
		case events.TicketMessageAdded:
			g.push(func(msg *ws.Message) { g.Hub.ToTicket(ticketID, msg) },
				ws.ActionTicketMessage, event.Data)
		default:
			g.push(func(msg *ws.Message) { g.Hub.ToTicket(ticketID, msg) },
				ws.ActionTicketUpdate, event.Data)
			g.push(g.Hub.ToAgents, ws.ActionTicketUpdate, event.Data)
		}
		return nil
	})

	g.subscribe(eventBus, events.QueuePositionChanged, func(ctx context.Context, event *bus.Event) error {
		sessionID, _ := event.Data["session_id"].(string)
		if sessionID == "" {
			return nil
		}
		g.push(func(msg *ws.Message) { g.Hub.ToSession(sessionID, msg) },
			ws.ActionQueueUpdate, event.Data)
		return nil
	})

	g.subscribe(eventBus, events.SessionQueued, func(ctx context.Context, event *bus.Event) error {
		g.push(g.Hub.ToAgents, ws.ActionNewSession, event.Data)
		return nil
	})

	g.subscribe(eventBus, events.AgentStatusChanged, func(ctx context.Context, event *bus.Event) error {
		g.push(g.Hub.ToAgents, ws.ActionAgentStatusChanged, event.Data)
		return nil
	})
}

func (g *Gateway) subscribe(eventBus bus.EventBus, subject string, handler bus.EventHandler) {
	sub, err := eventBus.Subscribe(subject, handler)
	if err != nil {
		g.logger.Error("failed to subscribe gateway bridge",
			zap.String("subject", subject), zap.Error(err))
		return
	}
	g.subs = append(g.subs, sub)
}

func (g *Gateway) push(deliver func(*ws.Message), action string, payload interface{}) {
	msg, err := ws.NewNotification(action, payload)
	if err != nil {
		g.logger.Error("failed to encode bridge notification",
			zap.String("action", action), zap.Error(err))
		return
	}
	deliver(msg)
}
