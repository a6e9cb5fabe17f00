package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playdesk/playdesk/internal/auth"
	"github.com/playdesk/playdesk/internal/common/logger"
	ws "github.com/playdesk/playdesk/pkg/websocket"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(ws.NewDispatcher(), logger.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func newTestClient(id string, principal auth.Principal) *Client {
	return &Client{
		ID:        id,
		principal: principal,
		send:      make(chan []byte, 16),
		rooms:     make(map[string]bool),
		logger:    logger.Default(),
	}
}

func registerClient(t *testing.T, hub *Hub, client *Client) {
	t.Helper()
	client.hub = hub
	hub.Register(client)
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return hub.clients[client]
	}, time.Second, 5*time.Millisecond)
}

func receive(t *testing.T, client *Client) *ws.Message {
	t.Helper()
	select {
	case data := <-client.send:
		var msg ws.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return &msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestHubToSessionReachesOnlyRoomMembers(t *testing.T) {
	hub := newTestHub(t)
	member := newTestClient("c1", auth.Principal{})
	outsider := newTestClient("c2", auth.Principal{})
	registerClient(t, hub, member)
	registerClient(t, hub, outsider)

	hub.Join(member, sessionRoom("s-1"))

	msg, err := ws.NewNotification(ws.ActionMessage, map[string]string{"content": "hello"})
	require.NoError(t, err)
	hub.ToSession("s-1", msg)

	got := receive(t, member)
	assert.Equal(t, ws.ActionMessage, got.Action)
	assert.Empty(t, outsider.send)
}

func TestHubToSessionPreservesOrder(t *testing.T) {
	hub := newTestHub(t)
	member := newTestClient("c1", auth.Principal{})
	registerClient(t, hub, member)
	hub.Join(member, sessionRoom("s-1"))

	for _, action := range []string{ws.ActionMessage, ws.ActionSessionUpdate, ws.ActionSessionClosed} {
		msg, err := ws.NewNotification(action, nil)
		require.NoError(t, err)
		hub.ToSession("s-1", msg)
	}

	assert.Equal(t, ws.ActionMessage, receive(t, member).Action)
	assert.Equal(t, ws.ActionSessionUpdate, receive(t, member).Action)
	assert.Equal(t, ws.ActionSessionClosed, receive(t, member).Action)
}

func TestHubToAgentsSkipsPlayers(t *testing.T) {
	hub := newTestHub(t)
	agent := newTestClient("a1", auth.Principal{UserID: "agent-1", Role: auth.RoleAgent})
	player := newTestClient("p1", auth.Principal{})
	registerClient(t, hub, agent)
	registerClient(t, hub, player)

	msg, err := ws.NewNotification(ws.ActionNewSession, map[string]string{"session_id": "s-1"})
	require.NoError(t, err)
	hub.ToAgents(msg)

	got := receive(t, agent)
	assert.Equal(t, ws.ActionNewSession, got.Action)
	assert.Empty(t, player.send)
	assert.Equal(t, 1, hub.AgentCount())
	assert.Equal(t, 2, hub.ClientCount())
}

func TestHubUnregisterCleansRooms(t *testing.T) {
	hub := newTestHub(t)
	member := newTestClient("c1", auth.Principal{})
	registerClient(t, hub, member)
	hub.Join(member, sessionRoom("s-1"))
	hub.Join(member, ticketRoom("t-1"))

	hub.Unregister(member)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, time.Second, 5*time.Millisecond)

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.Empty(t, hub.rooms)
}

func TestHubLeaveRemovesEmptyRoom(t *testing.T) {
	hub := newTestHub(t)
	member := newTestClient("c1", auth.Principal{})
	registerClient(t, hub, member)

	hub.Join(member, sessionRoom("s-1"))
	hub.Leave(member, sessionRoom("s-1"))

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.Empty(t, hub.rooms)
	assert.False(t, member.rooms[sessionRoom("s-1")])
}
