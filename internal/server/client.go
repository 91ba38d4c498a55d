package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client is one live connection. user is nil for the connection's whole
// lifetime unless the handshake carried a valid token; it is set exactly
// once, before the pumps start, and never mutated after.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       *types.User
	send       chan *ServerMessage
	rooms      map[string]struct{}
	roomsLock  sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user *types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		id:         uuid.NewString(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, 256),
		rooms:      make(map[string]struct{}),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		c.dispatch(&msg)
	}
}

// dispatch routes one inbound frame. Every request gets exactly one ack;
// failures are returned to the caller, never silently dropped.
func (c *Client) dispatch(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		if err := c.chatServer.Subscribe(c, msg.Join.RoomId); err != nil {
			c.queueMessage(AckError(msg.Id, err))
			return
		}
		c.queueMessage(AckOK(msg.Id))
	case msg.Leave != nil:
		if err := c.chatServer.Unsubscribe(c, msg.Leave.RoomId); err != nil {
			c.queueMessage(AckError(msg.Id, err))
			return
		}
		c.queueMessage(AckOK(msg.Id))
	case msg.Publish != nil:
		c.publish(msg)
	case msg.Typing != nil:
		c.typing(msg)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

// publish runs the shared post pipeline, then fans the stored message out to
// the room's subscribers. The sender's ack reflects only persistence; fan-out
// failures to individual recipients are never surfaced here.
func (c *Client) publish(msg *ClientMessage) {
	if c.user == nil {
		c.queueMessage(AckError(msg.Id, chat.ErrUnauthenticated))
		return
	}

	stored, err := c.chatServer.chat.PostMessage(msg.Publish.RoomId, c.user.Id, msg.Publish.Content)
	if err != nil {
		c.queueMessage(AckError(msg.Id, err))
		return
	}

	c.chatServer.BroadcastMessage(stored)
	c.queueMessage(AckMessage(msg.Id, &stored))
}

// typing follows the room-scoped routing rule with no persistence step.
// An anonymous caller gets an ok ack without an emit.
func (c *Client) typing(msg *ClientMessage) {
	if c.user != nil {
		c.chatServer.Broadcast(msg.Typing.RoomId, &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Notification: &Notification{
				Typing: &TypingEvent{UserId: c.user.Id, RoomId: msg.Typing.RoomId},
			},
		})
	}

	c.queueMessage(AckOK(msg.Id))
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("dropping message for connection %s, queue full", c.id)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.DeregisterClient(c)
	c.stopClient()
}

func (c *Client) addRoom(roomId string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[roomId] = struct{}{}
}

func (c *Client) delRoom(roomId string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, roomId)
}

func (c *Client) inRoom(roomId string) bool {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	_, ok := c.rooms[roomId]
	return ok
}

func (c *Client) roomIds() []string {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}
