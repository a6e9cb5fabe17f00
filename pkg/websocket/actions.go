package websocket

// Action constants for WebSocket messages
const (
	// Connection actions
	ActionPing = "ping"
	ActionPong = "pong"

	// Session actions (client -> server)
	ActionJoinSession      = "join-session"
	ActionLeaveSession     = "leave-session"
	ActionSendMessage      = "send-message"
	ActionAgentSendMessage = "agent:send-message"
	ActionCloseSession     = "close-session"

	// Ticket room actions (client -> server)
	ActionJoinTicket  = "join-ticket"
	ActionLeaveTicket = "leave-ticket"

	// Server push notifications (server -> client)
	ActionNewSession         = "new-session"
	ActionSessionUpdate      = "session-update"
	ActionSessionClosed      = "session-closed"
	ActionQueueUpdate        = "queue-update"
	ActionMessage            = "message"
	ActionTicketMessage      = "ticket-message"
	ActionTicketUpdate       = "ticket-update"
	ActionAgentStatusChanged = "agent-status-changed"
	ActionError              = "error"
)

// Error codes carried in ErrorPayload.Code. The numbering follows the HTTP
// status family of the failure with a three-digit discriminator.
const (
	ErrorCodeBadRequest    = 400001
	ErrorCodeUnauthorized  = 401001
	ErrorCodeForbidden     = 403001
	ErrorCodeNotFound      = 404001
	ErrorCodeRateLimited   = 429001
	ErrorCodeInternalError = 500001
	ErrorCodeUnknownAction = 400002
	ErrorCodeValidation    = 400003
)

// Close codes used when terminating a WebSocket connection.
const (
	CloseIdleTimeout  = 4000
	CloseUnauthorized = 4001
	CloseForbidden    = 4003
)
