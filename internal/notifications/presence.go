package notifications

import (
	"context"
	"sort"
	"sync"

	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/observability"
	"github.com/mstfsonmez/ghostly-backend/internal/validation"
)

type binding struct {
	client   *Client
	identity Identity
}

// Registry maps anonymous identities to their single live connection.
// At most one connection is bound per user; binding a second one evicts
// the first.
type Registry struct {
	hub    *Hub
	mirror *PresenceMirror

	mu     sync.RWMutex
	byUser map[string]*binding
	byConn map[string]Identity

	log *observability.WSLogger
}

// NewRegistry creates a registry on top of hub. Connections that leave the
// hub are unbound automatically. mirror may be nil.
func NewRegistry(hub *Hub, mirror *PresenceMirror) *Registry {
	r := &Registry{
		hub:    hub,
		mirror: mirror,
		byUser: make(map[string]*binding),
		byConn: make(map[string]Identity),
		log:    observability.NewWSLogger("presence"),
	}
	hub.mu.Lock()
	hub.onUnregister = func(c *Client) { r.Unbind(context.Background(), c) }
	hub.mu.Unlock()
	return r
}

// Hub returns the connection hub backing the registry.
func (r *Registry) Hub() *Hub { return r.hub }

// Bind attaches id to client.
func (r *Registry) Bind(ctx context.Context, client *Client, id Identity) error {
	if err := validation.ValidateUserID(id.UserID); err != nil {
		return models.NewInvalidStateError(err.Error())
	}
	if err := validation.ValidateNickname(id.Nickname); err != nil {
		return models.NewInvalidStateError(err.Error())
	}
	if id.Nickname == "" {
		id.Nickname = id.UserID
	}

	var (
		evicted  *Client
		previous Identity
		switched bool
		refresh  bool
	)

	r.mu.Lock()
	if prev, ok := r.byConn[client.ID]; ok {
		if prev.UserID == id.UserID {
			refresh = true
		} else {
			// same connection, different user: the old identity goes offline
			previous, switched = prev, true
			if b, ok := r.byUser[prev.UserID]; ok && b.client == client {
				delete(r.byUser, prev.UserID)
			}
		}
	}
	if b, ok := r.byUser[id.UserID]; ok && b.client != client {
		evicted = b.client
		// removed first so the evicted teardown does not mark the user offline
		delete(r.byConn, evicted.ID)
	}
	r.byUser[id.UserID] = &binding{client: client, identity: id}
	r.byConn[client.ID] = id
	online := len(r.byUser)
	r.mu.Unlock()

	observability.PresenceOnlineUsers.Set(float64(online))
	if refresh {
		return nil
	}

	if switched {
		r.hub.Unsubscribe(UserChannel(previous.UserID), client)
		r.hub.BroadcastAll(UserOffline(previous).Encode(), client)
		r.mirror.MarkOffline(ctx, previous.UserID)
	}

	if evicted != nil {
		observability.PresenceEvictions.Inc()
		r.hub.Unsubscribe(UserChannel(id.UserID), evicted)
		evicted.SendEvent(SessionReplaced())
		evicted.Close("session replaced")
		r.log.LogDisconnect(ctx, evicted.ID, id.UserID, "session_replaced")
	}

	r.hub.Subscribe(UserChannel(id.UserID), client)
	r.mirror.MarkOnline(ctx, id.UserID, client.ID)

	r.hub.BroadcastAll(UserOnline(id).Encode(), client)
	client.SendEvent(OnlineUsers(r.onlineExcept(id.UserID)))
	return nil
}

// Unbind removes whatever identity client carries. Unknown connections are
// a no-op.
func (r *Registry) Unbind(ctx context.Context, client *Client) {
	r.mu.Lock()
	id, ok := r.byConn[client.ID]
	delete(r.byConn, client.ID)
	current := false
	if ok {
		if b, exists := r.byUser[id.UserID]; exists && b.client == client {
			delete(r.byUser, id.UserID)
			current = true
		}
	}
	online := len(r.byUser)
	r.mu.Unlock()

	if !ok {
		r.log.LogDisconnect(ctx, client.ID, "", "unbound")
		return
	}
	r.log.LogDisconnect(ctx, client.ID, id.UserID, "closed")
	if !current {
		return
	}

	observability.PresenceOnlineUsers.Set(float64(online))
	r.hub.Unsubscribe(UserChannel(id.UserID), client)
	r.mirror.MarkOffline(ctx, id.UserID)
	r.hub.BroadcastAll(UserOffline(id).Encode(), client)
}

// Resolve returns the identity bound to the connection.
func (r *Registry) Resolve(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[connID]
	return id, ok
}

// Locate returns the connection currently bound to userID.
func (r *Registry) Locate(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	return b.client, true
}

// IsOnline reports whether userID has a bound connection.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Locate(userID)
	return ok
}

// OnlineUsers lists bound identities ordered by user id.
func (r *Registry) OnlineUsers() []Identity {
	return r.onlineExcept("")
}

func (r *Registry) onlineExcept(userID string) []Identity {
	r.mu.RLock()
	out := make([]Identity, 0, len(r.byUser))
	for uid, b := range r.byUser {
		if uid != userID {
			out = append(out, b.identity)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ToUser queues ev for userID's connection and reports whether it was online.
func (r *Registry) ToUser(userID string, ev Event) bool {
	return r.hub.Publish(UserChannel(userID), ev.Encode(), nil) > 0
}

// ToRoom publishes ev to the room channel, skipping exceptUserID's connection.
func (r *Registry) ToRoom(roomID string, ev Event, exceptUserID string) {
	var except *Client
	if exceptUserID != "" {
		except, _ = r.Locate(exceptUserID)
	}
	r.hub.Publish(RoomChannel(roomID), ev.Encode(), except)
}

// ToAll broadcasts ev to every open connection.
func (r *Registry) ToAll(ev Event) {
	r.hub.BroadcastAll(ev.Encode(), nil)
}

// SubscribeRoom joins userID's connection to the room channel.
func (r *Registry) SubscribeRoom(userID, roomID string) bool {
	client, ok := r.Locate(userID)
	if !ok {
		return false
	}
	return r.hub.Subscribe(RoomChannel(roomID), client)
}

// RemoveFromRoom drops userID's connection from the room channel.
func (r *Registry) RemoveFromRoom(userID, roomID string) {
	if client, ok := r.Locate(userID); ok {
		r.hub.Unsubscribe(RoomChannel(roomID), client)
	}
}

// DropRoom unsubscribes everyone from the room channel.
func (r *Registry) DropRoom(roomID string) {
	r.hub.DropChannel(RoomChannel(roomID))
}

// Shutdown closes every bound connection and clears the mirror.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.byUser))
	for _, b := range r.byUser {
		clients = append(clients, b.client)
	}
	r.byUser = make(map[string]*binding)
	r.byConn = make(map[string]Identity)
	r.mu.Unlock()

	for _, c := range clients {
		c.Close("Server shutting down")
	}
	observability.PresenceOnlineUsers.Set(0)
	r.mirror.Clear(ctx)
}
