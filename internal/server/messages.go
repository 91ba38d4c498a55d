package server

import (
	"time"

	"github.com/parley-chat/parley/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Join    *Join    `json:"join,omitempty"`
	Leave   *Leave   `json:"leave,omitempty"`
	Publish *Publish `json:"publish,omitempty"`
	Typing  *Typing  `json:"typing,omitempty"`
}

type Join struct {
	RoomId string `json:"room_id"`
}

type Leave struct {
	RoomId string `json:"room_id"`
}

type Publish struct {
	RoomId  string `json:"room_id"`
	Content string `json:"content"`
}

type Typing struct {
	RoomId string `json:"room_id"`
}

type ServerMessage struct {
	BaseMessage
	Ack          *Ack           `json:"ack,omitempty"`
	Message      *types.Message `json:"message,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	SkipClient   *Client        `json:"-"`
}

// Ack is the synchronous result of a client request, correlated by the
// request's id. The transport adapts it to the wire's acknowledgment shape.
type Ack struct {
	Ok      bool           `json:"ok"`
	Error   string         `json:"error,omitempty"`
	Message *types.Message `json:"message,omitempty"`
}

type Notification struct {
	Presence *Presence    `json:"presence,omitempty"`
	Typing   *TypingEvent `json:"typing,omitempty"`
}

// Presence is broadcast process-wide, not room-scoped.
type Presence struct {
	UserId int  `json:"user_id"`
	Online bool `json:"online"`
}

type TypingEvent struct {
	UserId int    `json:"user_id"`
	RoomId string `json:"room_id"`
}

func AckOK(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Ack: &Ack{Ok: true},
	}
}

func AckMessage(id int, msg *types.Message) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Ack: &Ack{
			Ok:      true,
			Message: msg,
		},
	}
}

func AckError(id int, err error) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Ack: &Ack{
			Ok:    false,
			Error: err.Error(),
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Ack: &Ack{
			Ok:    false,
			Error: "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
