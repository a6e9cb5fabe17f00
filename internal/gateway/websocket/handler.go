package websocket

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/playdesk/playdesk/internal/auth"
	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/httpmw"
	"github.com/playdesk/playdesk/internal/common/logger"
	ws "github.com/playdesk/playdesk/pkg/websocket"
)

// Handler upgrades HTTP requests to WebSocket connections.
type Handler struct {
	gw       *Gateway
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewHandler creates a connection handler for the gateway.
func NewHandler(gw *Gateway, log *logger.Logger) *Handler {
	return &Handler{
		gw: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin enforcement happens at the CORS layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.WithFields(zap.String("component", "ws-handler")),
	}
}

// HandleConnection upgrades the request and runs the client pumps until the
// connection drops. Connections without a bearer token belong to players;
// a token that fails verification gets an auth close code after the upgrade,
// since close codes are the only error channel a WebSocket client sees.
func (h *Handler) HandleConnection(c *gin.Context) {
	token := httpmw.BearerToken(c)
	if token == "" {
		token = c.Query("token")
	}

	var principal auth.Principal
	var authErr error
	if token != "" {
		principal, authErr = h.gw.issuer.Verify(token)
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	if authErr != nil {
		code := ws.CloseUnauthorized
		if apperr.KindOf(authErr) == apperr.KindForbidden {
			code = ws.CloseForbidden
		}
		h.logger.Debug("rejecting websocket connection", zap.Error(authErr))
		writeClose(conn, code, "authentication failed")
		conn.Close()
		return
	}

	clientID := uuid.New().String()
	limiter := h.gw.playerLimiter
	if principal.IsStaff() {
		limiter = h.gw.agentLimiter
	}
	client := NewClient(clientID, principal, conn, h.gw, limiter, h.logger)

	h.logger.Info("websocket client connected",
		zap.String("client_id", clientID),
		zap.Bool("staff", principal.IsStaff()))

	if principal.IsStaff() {
		h.gw.presence.MarkConnected(principal.UserID)
		defer h.gw.presence.MarkDisconnected(principal.UserID)
	}

	h.gw.Hub.Register(client)
	go client.WritePump()
	client.ReadPump(c.Request.Context())

	h.logger.Info("websocket client disconnected", zap.String("client_id", clientID))
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
}
