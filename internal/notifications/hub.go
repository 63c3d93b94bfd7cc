// Package notifications owns websocket connections, channel fan-out and the
// presence registry.
package notifications

import (
	"context"
	"errors"
	"sync"

	"github.com/mstfsonmez/ghostly-backend/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max total connections
	maxTotalConns = 10000

	userChannelPrefix = "user:"
	roomChannelPrefix = "room:"
)

// ErrConnectionLimit is returned by Register when the hub is full.
var ErrConnectionLimit = errors.New("server connection limit reached")

// ErrHubClosed is returned by Register after Shutdown.
var ErrHubClosed = errors.New("hub is shutting down")

// UserChannel is the channel every connection bound to userID joins.
func UserChannel(userID string) string { return userChannelPrefix + userID }

// RoomChannel is the channel room members' connections join after join_room.
func RoomChannel(roomID string) string { return roomChannelPrefix + roomID }

// Hub tracks every open connection and its channel subscriptions.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]map[string]struct{}
	channels map[string]map[*Client]struct{}
	closed   bool

	// onUnregister runs after a connection is removed, outside the lock.
	onUnregister func(*Client)

	log *observability.WSLogger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:  make(map[*Client]map[string]struct{}),
		channels: make(map[string]map[*Client]struct{}),
		log:      observability.NewWSLogger("ghostly hub"),
	}
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "ghostly hub" }

// Register adds a connection. Conn may be nil in tests.
func (h *Hub) Register(conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if len(h.clients) >= maxTotalConns {
		h.mu.Unlock()
		return nil, ErrConnectionLimit
	}

	client := NewClient(h, conn)
	h.clients[client] = make(map[string]struct{})
	h.mu.Unlock()

	observability.WebSocketConnectionsTotal.Inc()
	h.log.LogConnect(context.Background(), client.ID)
	return client, nil
}

// UnregisterClient drops the connection and all of its subscriptions.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	subs, ok := h.clients[client]
	if ok {
		for ch := range subs {
			h.removeLocked(ch, client)
		}
		delete(h.clients, client)
	}
	hook := h.onUnregister
	h.mu.Unlock()

	if !ok {
		return
	}
	observability.WebSocketConnectionsTotal.Dec()
	if hook != nil {
		hook(client)
	}
}

// Subscribe adds client to channel. Unknown clients are ignored.
func (h *Hub) Subscribe(channel string, client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.clients[client]
	if !ok {
		return false
	}
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[*Client]struct{})
		h.channels[channel] = members
	}
	members[client] = struct{}{}
	subs[channel] = struct{}{}
	return true
}

// Unsubscribe removes client from channel.
func (h *Hub) Unsubscribe(channel string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(channel, client)
}

func (h *Hub) removeLocked(channel string, client *Client) {
	if members, ok := h.channels[channel]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	if subs, ok := h.clients[client]; ok {
		delete(subs, channel)
	}
}

// IsSubscribed reports whether client is in channel.
func (h *Hub) IsSubscribed(channel string, client *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[channel][client]
	return ok
}

// DropChannel unsubscribes every client from channel.
func (h *Hub) DropChannel(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.channels[channel] {
		if subs, ok := h.clients[client]; ok {
			delete(subs, channel)
		}
	}
	delete(h.channels, channel)
}

// Publish sends data to every subscriber of channel except one client.
// It returns the number of clients the message was queued for.
func (h *Hub) Publish(channel string, data []byte, except *Client) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.channels[channel]))
	for c := range h.channels[channel] {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.TrySend(data) {
			sent++
		}
	}
	return sent
}

// BroadcastAll sends data to every connected client except one.
func (h *Hub) BroadcastAll(data []byte, except *Client) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.TrySend(data) {
			sent++
		}
	}
	return sent
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown gracefully closes all websocket connections
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close("Server shutting down")
	}
	h.log.LogLifecycle(ctx, "shutdown", map[string]interface{}{"connections": len(clients)})
	return nil
}
