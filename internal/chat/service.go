package chat

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/teris-io/shortid"

	"github.com/parley-chat/parley/internal/database"
	"github.com/parley-chat/parley/internal/types"
)

// Service is the authorization-then-persist pipeline shared by the HTTP
// handlers and the websocket dispatch, so both entry paths observe identical
// semantics. It never broadcasts; fan-out is the caller's responsibility.
type Service struct {
	log *log.Logger
	db  database.ChatRepository
}

func NewService(logger *log.Logger, db database.ChatRepository) *Service {
	return &Service{
		log: logger,
		db:  db,
	}
}

// PostMessage validates the room and the author's persisted membership, then
// stores the message with a server-assigned timestamp.
func (s *Service) PostMessage(roomId string, userId int, content string) (types.Message, error) {
	if strings.TrimSpace(content) == "" {
		return types.Message{}, ErrContentRequired
	}

	room, err := s.db.GetRoomByExternalId(roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, ErrRoomNotFound
		}
		return types.Message{}, fmt.Errorf("get room: %w", err)
	}

	if !s.db.MembershipExists(room.Id, userId) {
		return types.Message{}, ErrNotInRoom
	}

	msg, err := s.db.CreateMessage(database.CreateMessageParams{
		RoomId:    room.Id,
		AccountId: userId,
		Content:   content,
		CreatedAt: Now(),
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("create message: %w", err)
	}

	return types.Message{
		Id:        msg.Id,
		RoomId:    room.ExternalId,
		UserId:    msg.AccountId,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt,
	}, nil
}

// ListMessages returns the room's messages newest-first.
func (s *Service) ListMessages(roomId string) ([]types.Message, error) {
	room, err := s.db.GetRoomByExternalId(roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("get room: %w", err)
	}

	dbMsgs, err := s.db.ListMessages(room.Id)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]types.Message, 0, len(dbMsgs))
	for _, msg := range dbMsgs {
		messages = append(messages, types.Message{
			Id:        msg.Id,
			RoomId:    room.ExternalId,
			UserId:    msg.AccountId,
			Content:   msg.Content,
			Timestamp: msg.CreatedAt,
		})
	}

	return messages, nil
}

// JoinRoom upserts the persisted membership pair. Re-joining is a no-op; the
// unique (room, account) constraint absorbs concurrent duplicate joins.
func (s *Service) JoinRoom(roomId string, userId int) error {
	room, err := s.db.GetRoomByExternalId(roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("get room: %w", err)
	}

	if err := s.db.CreateMembership(room.Id, userId); err != nil {
		return fmt.Errorf("create membership: %w", err)
	}

	return nil
}

// IsMember is the pure authorization predicate against persisted membership.
// It carries no routing weight; ephemeral subscriptions are the server's.
func (s *Service) IsMember(roomId string, userId int) bool {
	room, err := s.db.GetRoomByExternalId(roomId)
	if err != nil {
		return false
	}

	return s.db.MembershipExists(room.Id, userId)
}

func (s *Service) CreateRoom(name string) (types.Room, error) {
	if strings.TrimSpace(name) == "" {
		return types.Room{}, ErrNameRequired
	}

	sid, err := shortid.Generate()
	if err != nil {
		return types.Room{}, fmt.Errorf("generate room id: %w", err)
	}

	room, err := s.db.CreateRoom(database.CreateRoomParams{
		Name:       name,
		ExternalId: sid,
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return types.Room{}, ErrRoomExists
		}
		return types.Room{}, fmt.Errorf("create room: %w", err)
	}

	return types.Room{
		Id:        room.ExternalId,
		Name:      room.Name,
		CreatedAt: room.CreatedAt,
	}, nil
}

func (s *Service) GetRoom(roomId string) (types.Room, error) {
	room, err := s.db.GetRoomByExternalId(roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Room{}, ErrRoomNotFound
		}
		return types.Room{}, fmt.Errorf("get room: %w", err)
	}

	return types.Room{
		Id:        room.ExternalId,
		Name:      room.Name,
		CreatedAt: room.CreatedAt,
	}, nil
}

func (s *Service) ListRooms() ([]types.Room, error) {
	dbRooms, err := s.db.ListRooms()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	return toRooms(dbRooms), nil
}

// ListRoomsForUser returns every room the user holds a persisted membership
// in, used to auto-subscribe authenticated connections at handshake.
func (s *Service) ListRoomsForUser(userId int) ([]types.Room, error) {
	dbRooms, err := s.db.ListRoomsForAccount(userId)
	if err != nil {
		return nil, fmt.Errorf("list rooms for account: %w", err)
	}

	return toRooms(dbRooms), nil
}

func toRooms(dbRooms []database.Room) []types.Room {
	rooms := make([]types.Room, 0, len(dbRooms))
	for _, room := range dbRooms {
		rooms = append(rooms, types.Room{
			Id:        room.ExternalId,
			Name:      room.Name,
			CreatedAt: room.CreatedAt,
		})
	}
	return rooms
}

// Now returns the server-assigned message timestamp, rounded to millisecond
// so stored and broadcast copies serialize identically.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
