// Package events provides event subjects and payload keys for the Playdesk
// event system. Subjects use NATS-style dotted names so the bus can match
// wildcards like "ticket.*".
package events

// Event subjects for tickets.
const (
	TicketCreated      = "ticket.created"
	TicketUpdated      = "ticket.updated"
	TicketMessageAdded = "ticket.message_added"
)

// Event subjects for sessions.
const (
	SessionCreated = "session.created"
	SessionQueued  = "session.queued"
	SessionUpdated = "session.updated"
	SessionClosed  = "session.closed"
)

// Event subjects for the priority queue.
const (
	QueuePositionChanged = "queue.position_changed"
)

// Event subjects for agent presence.
const (
	AgentStatusChanged = "agent.status_changed"
)

// Event subjects for satisfaction ratings.
const (
	RatingSubmitted = "rating.submitted"
)
