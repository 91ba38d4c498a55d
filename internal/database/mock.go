package database

import (
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}

func (m *MockChatRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}

func (m *MockChatRepository) ListRooms() ([]Room, error) {
	args := m.Called()
	return args.Get(0).([]Room), args.Error(1)
}

func (m *MockChatRepository) ListRoomsForAccount(accountId int) ([]Room, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Room), args.Error(1)
}

func (m *MockChatRepository) CreateMembership(roomId, accountId int) error {
	args := m.Called(roomId, accountId)
	return args.Error(0)
}

func (m *MockChatRepository) MembershipExists(roomId, accountId int) bool {
	args := m.Called(roomId, accountId)
	return args.Bool(0)
}

func (m *MockChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockChatRepository) ListMessages(roomId int) ([]Message, error) {
	args := m.Called(roomId)
	return args.Get(0).([]Message), args.Error(1)
}
