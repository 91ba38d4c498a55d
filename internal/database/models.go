package database

import "time"

type User struct {
	Id           int
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
}

type Room struct {
	Id         int
	ExternalId string
	Name       string
	CreatedAt  time.Time
}

type Membership struct {
	Id        int
	RoomId    int
	AccountId int
	JoinedAt  time.Time
}

type Message struct {
	Id        int64
	RoomId    int
	AccountId int
	Content   string
	CreatedAt time.Time
}

type CreateAccountParams struct {
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Name       string
	ExternalId string
}

type CreateMessageParams struct {
	RoomId    int
	AccountId int
	Content   string
	CreatedAt time.Time
}
