package server

import (
	"errors"
	"log"
	"sync"

	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/stats"
	"github.com/parley-chat/parley/internal/types"
)

const (
	NumConnections   = "NumConnections"
	NumOnlineUsers   = "NumOnlineUsers"
	NumSubscriptions = "NumSubscriptions"
	NumMessagesSent  = "NumMessagesSent"
)

// Subscription errors, surfaced verbatim in acks. Subscriptions are routing
// only; neither call consults or mutates persisted membership.
var (
	ErrAlreadyInRoom = errors.New("already in room")
	ErrNotInRoom     = errors.New("not in room")
)

// ChatServer owns the live connection set and the per-room subscriber index.
// Both maps are guarded by one mutex; subscribe/unsubscribe and fan-out
// snapshots are atomic with respect to each other.
type ChatServer struct {
	log      *log.Logger
	chat     *chat.Service
	stats    stats.StatsProvider
	presence *PresenceTracker

	mu      sync.Mutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

func NewChatServer(logger *log.Logger, chatSvc *chat.Service, su stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:      logger,
		chat:     chatSvc,
		stats:    su,
		presence: NewPresenceTracker(),
		clients:  make(map[*Client]struct{}),
		rooms:    make(map[string]map[*Client]struct{}),
	}

	for _, metric := range []string{NumConnections, NumOnlineUsers, NumSubscriptions, NumMessagesSent} {
		su.RegisterMetric(metric)
	}

	return cs, nil
}

// RegisterClient adds a newly-opened connection. For an authenticated
// connection it increments presence, subscribes the connection to every room
// the user holds a persisted membership in, and broadcasts a process-wide
// online notification if this was the user's first connection.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.mu.Lock()
	cs.clients[c] = struct{}{}
	cs.mu.Unlock()
	cs.stats.Incr(NumConnections)

	if c.user == nil {
		cs.log.Printf("registered anonymous connection %s", c.id)
		return
	}

	cs.log.Printf("registered connection %s for user %d", c.id, c.user.Id)
	transitioned := cs.presence.Incr(c.user.Id)

	rooms, err := cs.chat.ListRoomsForUser(c.user.Id)
	if err != nil {
		cs.log.Printf("list rooms for user %d: %v", c.user.Id, err)
	}
	for _, room := range rooms {
		if err := cs.Subscribe(c, room.Id); err != nil {
			cs.log.Printf("auto-subscribe %s to %q: %v", c.id, room.Id, err)
		}
	}

	if transitioned {
		cs.stats.Incr(NumOnlineUsers)
		cs.BroadcastAll(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Notification: &Notification{
				Presence: &Presence{UserId: c.user.Id, Online: true},
			},
			SkipClient: c,
		})
	}
}

// DeregisterClient removes a closing connection, drops its subscriptions,
// and broadcasts offline only when the user's last connection closed.
func (cs *ChatServer) DeregisterClient(c *Client) {
	cs.mu.Lock()
	if _, ok := cs.clients[c]; !ok {
		cs.mu.Unlock()
		return
	}
	delete(cs.clients, c)

	var dropped int
	for _, roomId := range c.roomIds() {
		cs.removeFromRoom(c, roomId)
		c.delRoom(roomId)
		dropped++
	}
	cs.mu.Unlock()

	cs.stats.Decr(NumConnections)
	for range dropped {
		cs.stats.Decr(NumSubscriptions)
	}

	if c.user == nil {
		return
	}

	if cs.presence.Decr(c.user.Id) {
		cs.stats.Decr(NumOnlineUsers)
		cs.BroadcastAll(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Notification: &Notification{
				Presence: &Presence{UserId: c.user.Id, Online: false},
			},
			SkipClient: c,
		})
	}
}

// Subscribe adds an ephemeral room subscription for the connection.
// Authentication is not required; subscriptions carry no authorization
// weight, they only control delivery routing.
func (cs *ChatServer) Subscribe(c *Client, roomId string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if c.inRoom(roomId) {
		return ErrAlreadyInRoom
	}

	if cs.rooms[roomId] == nil {
		cs.rooms[roomId] = make(map[*Client]struct{})
	}
	cs.rooms[roomId][c] = struct{}{}
	c.addRoom(roomId)
	cs.stats.Incr(NumSubscriptions)

	return nil
}

func (cs *ChatServer) Unsubscribe(c *Client, roomId string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !c.inRoom(roomId) {
		return ErrNotInRoom
	}

	cs.removeFromRoom(c, roomId)
	c.delRoom(roomId)
	cs.stats.Decr(NumSubscriptions)

	return nil
}

// removeFromRoom must be called with cs.mu held.
func (cs *ChatServer) removeFromRoom(c *Client, roomId string) {
	if subscribers, ok := cs.rooms[roomId]; ok {
		delete(subscribers, c)
		if len(subscribers) == 0 {
			delete(cs.rooms, roomId)
		}
	}
}

// Broadcast delivers a message to every connection currently subscribed to
// the room, and to no others. Delivery is best-effort: a recipient with a
// full queue misses the message without affecting anyone else.
func (cs *ChatServer) Broadcast(roomId string, msg *ServerMessage) {
	cs.mu.Lock()
	subscribers := make([]*Client, 0, len(cs.rooms[roomId]))
	for c := range cs.rooms[roomId] {
		subscribers = append(subscribers, c)
	}
	cs.mu.Unlock()

	for _, c := range subscribers {
		if c == msg.SkipClient {
			continue
		}
		c.queueMessage(msg)
	}
}

// BroadcastMessage fans a stored chat message out to the room's ephemeral
// subscribers. Shared by both entry paths; persistence has already happened
// by the time this runs, and a delivery failure never rolls it back.
func (cs *ChatServer) BroadcastMessage(msg types.Message) {
	cs.stats.Incr(NumMessagesSent)
	cs.Broadcast(msg.RoomId, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: msg.Timestamp},
		Message:     &msg,
	})
}

// BroadcastAll delivers a message to every open connection, subscribed or
// not. Used for presence notifications, which are not room-scoped.
func (cs *ChatServer) BroadcastAll(msg *ServerMessage) {
	cs.mu.Lock()
	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	cs.mu.Unlock()

	for _, c := range clients {
		if c == msg.SkipClient {
			continue
		}
		c.queueMessage(msg)
	}
}

func (cs *ChatServer) Shutdown() {
	cs.log.Println("shutting down chat server")

	cs.mu.Lock()
	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	cs.mu.Unlock()

	for _, c := range clients {
		c.stopClient()
	}
}
