package database

import (
	"time"
)

func (db *PgChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (email, password_hash, created_at) "+
			"VALUES ($1, $2, $3) RETURNING id, email, created_at",
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, created_at FROM accounts WHERE id = $1 LIMIT 1",
		accountId,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, password_hash, created_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	res := db.conn.QueryRow(
		"INSERT INTO rooms (external_id, name, created_at) "+
			"VALUES ($1, $2, $3) RETURNING id, external_id, name, created_at",
		params.ExternalId,
		params.Name,
		time.Now().UTC(),
	)

	var room Room
	err := res.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.CreatedAt,
	)

	return room, err
}

func (db *PgChatRepository) GetRoomByExternalId(externalId string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, created_at FROM rooms "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.CreatedAt,
	)

	return room, err
}

func (db *PgChatRepository) ListRooms() ([]Room, error) {
	rows, err := db.conn.Query(
		"SELECT id, external_id, name, created_at FROM rooms ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err = rows.Scan(&room.Id, &room.ExternalId, &room.Name, &room.CreatedAt); err != nil {
			break
		}

		rooms = append(rooms, room)
	}

	return rooms, err
}

func (db *PgChatRepository) ListRoomsForAccount(accountId int) ([]Room, error) {
	rows, err := db.conn.Query(
		"SELECT r.id, r.external_id, r.name, r.created_at FROM memberships m "+
			"JOIN rooms r ON r.id = m.room_id WHERE m.account_id = $1",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err = rows.Scan(&room.Id, &room.ExternalId, &room.Name, &room.CreatedAt); err != nil {
			break
		}

		rooms = append(rooms, room)
	}

	return rooms, err
}

// CreateMembership is an idempotent upsert: the unique (room_id, account_id)
// constraint absorbs concurrent duplicate joins without error.
func (db *PgChatRepository) CreateMembership(roomId, accountId int) error {
	_, err := db.conn.Exec(
		"INSERT INTO memberships (room_id, account_id, joined_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (room_id, account_id) DO NOTHING",
		roomId,
		accountId,
		time.Now().UTC(),
	)

	return err
}

func (db *PgChatRepository) MembershipExists(roomId, accountId int) bool {
	res := db.conn.QueryRow(
		"SELECT id FROM memberships WHERE room_id = $1 AND account_id = $2 LIMIT 1",
		roomId,
		accountId,
	)

	var id int
	return res.Scan(&id) == nil
}

func (db *PgChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	res := db.conn.QueryRow(
		"INSERT INTO messages (room_id, account_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, room_id, account_id, content, created_at",
		params.RoomId,
		params.AccountId,
		params.Content,
		params.CreatedAt,
	)

	var msg Message
	err := res.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.AccountId,
		&msg.Content,
		&msg.CreatedAt,
	)

	return msg, err
}

// ListMessages returns a room's messages newest-first. The serial id is the
// tie-break for messages sharing a timestamp.
func (db *PgChatRepository) ListMessages(roomId int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT id, room_id, account_id, content, created_at FROM messages "+
			"WHERE room_id = $1 ORDER BY created_at DESC, id DESC",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Id, &msg.RoomId, &msg.AccountId, &msg.Content, &msg.CreatedAt); err != nil {
			break
		}

		messages = append(messages, msg)
	}

	return messages, err
}
