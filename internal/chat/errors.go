package chat

import "errors"

// Sentinel errors for the post/join pipeline. The strings double as wire
// error payloads in websocket acks and HTTP error bodies.
var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrRoomNotFound       = errors.New("room not found")
	ErrNotInRoom          = errors.New("user not in room")
	ErrRoomExists         = errors.New("room exists")
	ErrEmailTaken         = errors.New("email taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrContentRequired    = errors.New("content is required")
	ErrNameRequired       = errors.New("name is required")
)
