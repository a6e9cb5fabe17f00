// Package websocket implements the realtime gateway: one WebSocket endpoint
// shared by players and staff, with room-based fan-out for session and ticket
// conversations and a broadcast channel for the agent workbench.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/playdesk/playdesk/internal/common/logger"
	ws "github.com/playdesk/playdesk/pkg/websocket"
)

func sessionRoom(sessionID string) string { return "session:" + sessionID }
func ticketRoom(ticketID string) string   { return "ticket:" + ticketID }

// Hub manages all WebSocket client connections and their room memberships.
//
// Room sends happen synchronously on the caller's goroutine into each member's
// buffered send channel, so two ToSession calls from the same caller reach
// every member in call order.
type Hub struct {
	clients map[*Client]bool

	// rooms maps "session:{id}" and "ticket:{id}" keys to their members.
	rooms map[string]map[*Client]bool

	// agents holds the staff connections that receive workbench broadcasts.
	agents map[*Client]bool

	register   chan *Client
	unregister chan *Client

	dispatcher *ws.Dispatcher

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		agents:     make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		dispatcher: dispatcher,
		logger:     log.WithFields(zap.String("component", "ws-hub")),
	}
}

// Run starts the hub's connection management loop.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer h.logger.Info("websocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if client.IsStaff() {
				h.agents[client] = true
			}
			h.mu.Unlock()
			h.logger.Debug("client registered",
				zap.String("client_id", client.ID), zap.Bool("staff", client.IsStaff()))

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.rooms = make(map[string]map[*Client]bool)
	h.agents = make(map[*Client]bool)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	delete(h.agents, client)
	close(client.send)

	for room := range client.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.logger.Debug("client unregistered", zap.String("client_id", client.ID))
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Join adds the client to a room.
func (h *Hub) Join(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][client] = true
	client.rooms[room] = true

	h.logger.Debug("client joined room",
		zap.String("client_id", client.ID), zap.String("room", room))
}

// Leave removes the client from a room.
func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// ToSession delivers a notification to everyone in the session room. This is
// the ordered path the session engine uses for conversation events.
func (h *Hub) ToSession(sessionID string, msg *ws.Message) {
	h.toRoom(sessionRoom(sessionID), msg)
}

// ToTicket delivers a notification to everyone watching a ticket.
func (h *Hub) ToTicket(ticketID string, msg *ws.Message) {
	h.toRoom(ticketRoom(ticketID), msg)
}

func (h *Hub) toRoom(room string, msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal room message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[room] {
		select {
		case client.send <- data:
		default:
			// Buffer full; the write pump will clean the client up.
		}
	}
}

// ToAgents delivers a notification to every connected staff member.
func (h *Hub) ToAgents(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal agent broadcast", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.agents {
		select {
		case client.send <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// AgentCount returns the number of connected staff clients.
func (h *Hub) AgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agents)
}
