package websocket

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/playdesk/playdesk/internal/auth"
	"github.com/playdesk/playdesk/internal/common/logger"
	"github.com/playdesk/playdesk/internal/common/ratelimit"
	ws "github.com/playdesk/playdesk/pkg/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// Client represents a single WebSocket connection. A zero principal means the
// connection belongs to a player; staff connections carry their verified
// principal from the bearer token.
type Client struct {
	ID        string
	principal auth.Principal

	conn *websocket.Conn
	hub  *Hub
	gw   *Gateway
	send chan []byte

	// rooms the client has joined. Guarded by hub.mu.
	rooms map[string]bool

	idleTimeout time.Duration
	pingPeriod  time.Duration
	limiter     *ratelimit.Keyed

	logger *logger.Logger
}

// NewClient creates a WebSocket client bound to its hub and rate limiter.
func NewClient(id string, principal auth.Principal, conn *websocket.Conn, gw *Gateway,
	limiter *ratelimit.Keyed, log *logger.Logger) *Client {
	return &Client{
		ID:          id,
		principal:   principal,
		conn:        conn,
		hub:         gw.Hub,
		gw:          gw,
		send:        make(chan []byte, 256),
		rooms:       make(map[string]bool),
		idleTimeout: gw.idleTimeout,
		pingPeriod:  gw.pingPeriod,
		limiter:     limiter,
		logger:      log.WithFields(zap.String("client_id", id)),
	}
}

// IsStaff reports whether the connection is authenticated as agent or admin.
func (c *Client) IsStaff() bool {
	return c.principal.IsStaff()
}

// inRoom reports whether the client joined the given room.
func (c *Client) inRoom(room string) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.rooms[room]
}

// ReadPump pumps messages from the WebSocket connection into the dispatcher.
// A connection that stays silent past the idle timeout is closed with the
// idle-timeout close code; pings from the client count as activity.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.limiter.Forget(c.ID)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				c.closeWith(ws.CloseIdleTimeout, "idle timeout")
			} else if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))

		if allowed, notify := c.limiter.AllowNotice(c.ID); !allowed {
			if notify {
				c.sendError("", "", ws.ErrorCodeRateLimited, "message rate limit exceeded", nil)
			}
			continue
		}

		var msg ws.Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("", "", ws.ErrorCodeBadRequest, "invalid message format", nil)
			continue
		}
		c.handleMessage(ctx, &msg)
	}
}

func (c *Client) handleMessage(ctx context.Context, msg *ws.Message) {
	c.logger.Debug("received message",
		zap.String("action", msg.Action), zap.String("id", msg.ID))

	// Room membership actions need the client itself; everything else goes
	// through the dispatcher with the client attached to the context.
	switch msg.Action {
	case ws.ActionPing:
		if resp, err := ws.NewResponse(msg.ID, ws.ActionPong, nil); err == nil {
			c.sendMessage(resp)
		}
		return
	case ws.ActionJoinSession:
		c.handleJoinSession(ctx, msg)
		return
	case ws.ActionLeaveSession:
		c.handleLeaveRoom(msg, sessionRoom)
		return
	case ws.ActionJoinTicket:
		c.handleJoinTicket(ctx, msg)
		return
	case ws.ActionLeaveTicket:
		c.handleLeaveRoom(msg, ticketRoom)
		return
	}

	response, err := c.hub.dispatcher.Dispatch(withClient(ctx, c), msg)
	if err != nil {
		c.logger.Warn("handler error",
			zap.String("action", msg.Action), zap.Error(err))
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
		return
	}
	if response != nil {
		c.sendMessage(response)
	}
}

// roomRequest is the payload for the join and leave actions. Players must
// present the ticket access token; staff join freely.
type roomRequest struct {
	SessionID string `json:"session_id"`
	TicketID  string `json:"ticket_id"`
	Token     string `json:"token"`
}

func (c *Client) handleJoinSession(ctx context.Context, msg *ws.Message) {
	var req roomRequest
	if err := msg.ParsePayload(&req); err != nil || req.SessionID == "" {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "session_id is required", nil)
		return
	}
	if !c.IsStaff() {
		if err := c.gw.authorizeSession(ctx, req.SessionID, req.Token); err != nil {
			c.sendError(msg.ID, msg.Action, errorCode(err), err.Error(), nil)
			return
		}
	}
	c.hub.Join(c, sessionRoom(req.SessionID))

	resp, _ := ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":    true,
		"session_id": req.SessionID,
	})
	c.sendMessage(resp)
}

func (c *Client) handleJoinTicket(ctx context.Context, msg *ws.Message) {
	var req roomRequest
	if err := msg.ParsePayload(&req); err != nil || req.TicketID == "" {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "ticket_id is required", nil)
		return
	}
	if !c.IsStaff() {
		if err := c.gw.authorizeTicket(ctx, req.TicketID, req.Token); err != nil {
			c.sendError(msg.ID, msg.Action, errorCode(err), err.Error(), nil)
			return
		}
	}
	c.hub.Join(c, ticketRoom(req.TicketID))

	resp, _ := ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":   true,
		"ticket_id": req.TicketID,
	})
	c.sendMessage(resp)
}

func (c *Client) handleLeaveRoom(msg *ws.Message, room func(string) string) {
	var req roomRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "invalid payload", nil)
		return
	}
	id := req.SessionID
	if id == "" {
		id = req.TicketID
	}
	if id == "" {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "room id is required", nil)
		return
	}
	c.hub.Leave(c, room(id))

	resp, _ := ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
	c.sendMessage(resp)
}

func (c *Client) sendMessage(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client send buffer full")
	}
}

func (c *Client) sendError(id, action string, code int, message string, details map[string]interface{}) {
	msg, err := ws.NewError(id, action, code, message, details)
	if err != nil {
		c.logger.Error("failed to create error message", zap.Error(err))
		return
	}
	c.sendMessage(msg)
}

// closeWith writes a close frame with the given application close code.
func (c *Client) closeWith(code int, reason string) {
	writeClose(c.conn, code, reason)
}

// WritePump pumps messages from the hub to the WebSocket connection and keeps
// the connection alive with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Batch additional queued messages.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
