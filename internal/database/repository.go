package database

type ChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomByExternalId(externalId string) (Room, error)
	ListRooms() ([]Room, error)
	ListRoomsForAccount(accountId int) ([]Room, error)
	CreateMembership(roomId, accountId int) error
	MembershipExists(roomId, accountId int) bool
	CreateMessage(params CreateMessageParams) (Message, error)
	ListMessages(roomId int) ([]Message, error)
}
