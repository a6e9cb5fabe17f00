// Package dto defines the HTTP request and response shapes for sessions.
package dto

// PlayerMessageRequest is a player message sent over HTTP. Token is the
// ticket access token that authorizes the player on this session.
type PlayerMessageRequest struct {
	Content string `json:"content" binding:"required"`
	Token   string `json:"token"`
}

// AgentMessageRequest is an agent reply in a live session, the HTTP
// alternative to the agent's WebSocket send.
type AgentMessageRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Content   string `json:"content" binding:"required"`
}

// CreateSessionRequest opens a session for a ticket.
type CreateSessionRequest struct {
	TicketID string `json:"ticket_id" binding:"required"`
	Token    string `json:"token"`
}

// TransferRequest asks for a human agent. Urgency is the player's own
// claim; URGENT scores the queue entry like an urgent AI triage.
type TransferRequest struct {
	Reason  string `json:"reason"`
	Urgency string `json:"urgency"`
	Token   string `json:"token"`
}

// CloseRequest ends a session from the player side.
type CloseRequest struct {
	Token string `json:"token"`
}

// AssignRequest hands a session to a specific agent.
type AssignRequest struct {
	AgentID   string `json:"agent_id" binding:"required"`
	AgentName string `json:"agent_name"`
}

// RatingRequest is the player's post-session satisfaction rating.
type RatingRequest struct {
	Rating  int    `json:"rating" binding:"required"`
	Comment string `json:"comment"`
	Token   string `json:"token"`
}

// TranslateRequest asks for a cached or fresh translation of one message.
type TranslateRequest struct {
	TargetLang string `json:"target_lang" binding:"required"`
}

// OptimizeRequest asks the AI to polish an agent draft.
type OptimizeRequest struct {
	Draft string `json:"draft" binding:"required"`
}

// OptimizeResponse carries the rewritten draft.
type OptimizeResponse struct {
	Draft string `json:"draft"`
}

// ListResponse is a page of sessions.
type ListResponse struct {
	Sessions interface{} `json:"sessions"`
	Total    int         `json:"total"`
}
