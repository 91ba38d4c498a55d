package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	EmailAddress string    `json:"email,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

type Room struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Membership struct {
	RoomId   string    `json:"room_id"`
	UserId   int       `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

type Message struct {
	Id        int64     `json:"id"`
	RoomId    string    `json:"room_id"`
	UserId    int       `json:"user_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
