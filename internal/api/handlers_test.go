package api

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"

	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/database"
	"github.com/parley-chat/parley/internal/server"
	"github.com/parley-chat/parley/internal/stats"
	"github.com/parley-chat/parley/internal/testutil"
	"github.com/parley-chat/parley/internal/types"
)

func newTestApp(t *testing.T, db database.ChatRepository) (*App, *http.ServeMux) {
	t.Helper()

	logger := testutil.TestLogger(t)

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)
	su.On("Incr", mock.Anything).Return(nil).Maybe()
	su.On("Decr", mock.Anything).Return(nil).Maybe()

	chatSvc := chat.NewService(logger, db)
	cs, err := server.NewChatServer(logger, chatSvc, su)
	if err != nil {
		t.Fatalf("failed to create test ChatServer: %v", err)
	}

	cfg, err := config.NewConfig(
		"localhost:8000",
		"host=localhost",
		base64.StdEncoding.EncodeToString([]byte("test-signing-key")),
		nil,
	)
	if err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	mux := http.NewServeMux()
	app := NewApp(mux, logger, cs, chatSvc, db, cfg)
	return app, mux
}

func authHeader(t *testing.T, app *App, userId int) string {
	t.Helper()
	token, err := app.createJwtForSession(userId, time.Hour)
	if err != nil {
		t.Fatalf("failed to create session token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("Ping").Return(nil).Once()

		_, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rr.Code, "expected 200 when the database is reachable")
	})

	t.Run("database down", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("Ping").Return(sql.ErrConnDone).Once()

		_, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected 500 when the database is unreachable")
	})
}

func TestRegister(t *testing.T) {
	t.Run("successful registration", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)

		db.On("CreateAccount", mock.MatchedBy(func(p database.CreateAccountParams) bool {
			return p.EmailAddress == "user@example.com" && p.PasswordHash != "s3cret"
		})).Return(database.User{Id: 1, EmailAddress: "user@example.com"}, nil).Once()

		_, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		body := strings.NewReader(`{"email":"user@example.com","password":"s3cret"}`)
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/register", body))

		assert.Equal(t, http.StatusCreated, rr.Code, "expected 201 for a new account")

		var resp AuthResponse
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "user@example.com", resp.User.EmailAddress)
		assert.NotEmpty(t, resp.Token, "expected a session token in the response")
		assert.NotContains(t, rr.Body.String(), "s3cret", "expected no password material in the response")
	})

	t.Run("duplicate email", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("CreateAccount", mock.Anything).
			Return(database.User{}, &pq.Error{Code: "23505"}).Once()

		_, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		body := strings.NewReader(`{"email":"user@example.com","password":"s3cret"}`)
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/register", body))

		assert.Equal(t, http.StatusConflict, rr.Code, "expected 409 for a duplicate email")
		assert.JSONEq(t, `{"error":"email taken"}`, rr.Body.String())
	})

	t.Run("invalid email", func(t *testing.T) {
		_, mux := newTestApp(t, &database.MockChatRepository{})
		rr := httptest.NewRecorder()
		body := strings.NewReader(`{"email":"not-an-email","password":"s3cret"}`)
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/register", body))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.JSONEq(t, `{"error":"invalid email address"}`, rr.Body.String())
	})

	t.Run("missing password", func(t *testing.T) {
		_, mux := newTestApp(t, &database.MockChatRepository{})
		rr := httptest.NewRecorder()
		body := strings.NewReader(`{"email":"user@example.com"}`)
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/register", body))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.JSONEq(t, `{"error":"password is required"}`, rr.Body.String())
	})
}

func TestLogin(t *testing.T) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash test password: %v", err)
	}

	t.Run("successful login", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetAccountByEmail", "user@example.com").Return(database.User{
			Id:           1,
			EmailAddress: "user@example.com",
			PasswordHash: string(passwdHash),
		}, nil).Once()

		_, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		body := strings.NewReader(`{"email":"user@example.com","password":"s3cret"}`)
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/login", body))

		assert.Equal(t, http.StatusOK, rr.Code, "expected 200 for valid credentials")

		var resp AuthResponse
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.User.Id)
		assert.NotEmpty(t, resp.Token)
	})

	t.Run("wrong password", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetAccountByEmail", "user@example.com").Return(database.User{
			Id:           1,
			EmailAddress: "user@example.com",
			PasswordHash: string(passwdHash),
		}, nil).Once()

		_, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		body := strings.NewReader(`{"email":"user@example.com","password":"wrong"}`)
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/login", body))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"invalid credentials"}`, rr.Body.String())
	})

	t.Run("unknown email", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetAccountByEmail", "nobody@example.com").
			Return(database.User{}, sql.ErrNoRows).Once()

		_, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		body := strings.NewReader(`{"email":"nobody@example.com","password":"s3cret"}`)
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/login", body))

		assert.Equal(t, http.StatusUnauthorized, rr.Code,
			"expected unknown account to be indistinguishable from a bad password")
		assert.JSONEq(t, `{"error":"invalid credentials"}`, rr.Body.String())
	})
}

func TestMe(t *testing.T) {
	t.Run("authenticated", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetAccountById", 1).Return(database.User{
			Id:           1,
			EmailAddress: "user@example.com",
		}, nil).Once()

		app, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
		req.Header.Set("Authorization", authHeader(t, app, 1))
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var user types.User
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &user))
		assert.Equal(t, "user@example.com", user.EmailAddress)
	})

	t.Run("missing token", func(t *testing.T) {
		_, mux := newTestApp(t, &database.MockChatRepository{})
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"missing token"}`, rr.Body.String())
	})

	t.Run("invalid token", func(t *testing.T) {
		_, mux := newTestApp(t, &database.MockChatRepository{})
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"invalid token"}`, rr.Body.String())
	})
}

func TestCreateRoom(t *testing.T) {
	t.Run("successful create", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("CreateRoom", mock.Anything).
			Return(database.Room{Id: 10, ExternalId: "abc123", Name: "general"}, nil).Once()

		app, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(`{"name":"general"}`))
		req.Header.Set("Authorization", authHeader(t, app, 1))
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)

		var room types.Room
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &room))
		assert.Equal(t, "abc123", room.Id, "expected the external id on the wire")
		assert.Equal(t, "general", room.Name)
	})

	t.Run("duplicate name", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("CreateRoom", mock.Anything).
			Return(database.Room{}, &pq.Error{Code: "23505"}).Once()

		app, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(`{"name":"general"}`))
		req.Header.Set("Authorization", authHeader(t, app, 1))
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.JSONEq(t, `{"error":"room exists"}`, rr.Body.String())
	})

	t.Run("unauthenticated", func(t *testing.T) {
		_, mux := newTestApp(t, &database.MockChatRepository{})
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(`{"name":"general"}`)))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestGetRoom(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetRoomByExternalId", "abc123").
			Return(database.Room{Id: 10, ExternalId: "abc123", Name: "general"}, nil).Once()

		_, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rooms/abc123", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("not found", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetRoomByExternalId", "missing").
			Return(database.Room{}, sql.ErrNoRows).Once()

		_, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rooms/missing", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.JSONEq(t, `{"error":"room not found"}`, rr.Body.String())
	})
}

func TestJoinRoom(t *testing.T) {
	t.Run("successful join", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)

		db.On("GetRoomByExternalId", "abc123").
			Return(database.Room{Id: 10, ExternalId: "abc123"}, nil).Once()
		db.On("CreateMembership", 10, 1).Return(nil).Once()

		app, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/rooms/abc123/join", nil)
		req.Header.Set("Authorization", authHeader(t, app, 1))
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"ok":true}`, rr.Body.String())
	})

	t.Run("room not found", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetRoomByExternalId", "missing").
			Return(database.Room{}, sql.ErrNoRows).Once()

		app, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/rooms/missing/join", nil)
		req.Header.Set("Authorization", authHeader(t, app, 1))
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.JSONEq(t, `{"error":"room not found"}`, rr.Body.String())
	})
}

func TestPostMessage(t *testing.T) {
	t.Run("successful post", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)

		db.On("GetRoomByExternalId", "abc123").
			Return(database.Room{Id: 10, ExternalId: "abc123"}, nil).Once()
		db.On("MembershipExists", 10, 1).Return(true).Once()
		db.On("CreateMessage", mock.Anything).Return(database.Message{
			Id:        1,
			RoomId:    10,
			AccountId: 1,
			Content:   "hello",
			CreatedAt: chat.Now(),
		}, nil).Once()

		app, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/rooms/abc123/messages", strings.NewReader(`{"content":"hello"}`))
		req.Header.Set("Authorization", authHeader(t, app, 1))
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var msg types.Message
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msg))
		assert.Equal(t, "abc123", msg.RoomId)
		assert.Equal(t, 1, msg.UserId)
		assert.Equal(t, "hello", msg.Content)
	})

	t.Run("not a member", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetRoomByExternalId", "abc123").
			Return(database.Room{Id: 10, ExternalId: "abc123"}, nil).Once()
		db.On("MembershipExists", 10, 2).Return(false).Once()

		app, mux := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/rooms/abc123/messages", strings.NewReader(`{"content":"hello"}`))
		req.Header.Set("Authorization", authHeader(t, app, 2))
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.JSONEq(t, `{"error":"user not in room"}`, rr.Body.String())
	})

	t.Run("blank content", func(t *testing.T) {
		app, mux := newTestApp(t, &database.MockChatRepository{})
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/rooms/abc123/messages", strings.NewReader(`{"content":"  "}`))
		req.Header.Set("Authorization", authHeader(t, app, 1))
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.JSONEq(t, `{"error":"content is required"}`, rr.Body.String())
	})

	t.Run("unauthenticated", func(t *testing.T) {
		_, mux := newTestApp(t, &database.MockChatRepository{})
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/rooms/abc123/messages", strings.NewReader(`{"content":"hello"}`)))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"missing token"}`, rr.Body.String())
	})
}

func TestListMessages(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("GetRoomByExternalId", "abc123").
		Return(database.Room{Id: 10, ExternalId: "abc123"}, nil).Once()
	db.On("ListMessages", 10).Return([]database.Message{
		{Id: 2, RoomId: 10, AccountId: 1, Content: "second", CreatedAt: chat.Now()},
		{Id: 1, RoomId: 10, AccountId: 1, Content: "first", CreatedAt: chat.Now()},
	}, nil).Once()

	_, mux := newTestApp(t, db)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rooms/abc123/messages", nil))

	assert.Equal(t, http.StatusOK, rr.Code)

	var msgs []types.Message
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msgs))
	if assert.Len(t, msgs, 2) {
		assert.Equal(t, "second", msgs[0].Content, "expected newest message first")
		assert.Equal(t, "first", msgs[1].Content)
	}
}

// readServerMessage reads the next frame with a deadline so a missing event
// fails the test instead of hanging it.
func readServerMessage(t *testing.T, conn *websocket.Conn) *server.ServerMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg server.ServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read server message: %v", err)
	}
	return &msg
}

func TestWebsocket(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)

	db.On("GetAccountById", 1).Return(database.User{
		Id:           1,
		EmailAddress: "user@example.com",
	}, nil).Once()
	db.On("ListRoomsForAccount", 1).Return([]database.Room{
		{Id: 10, ExternalId: "r1", Name: "general"},
	}, nil).Once()
	db.On("GetRoomByExternalId", "r1").
		Return(database.Room{Id: 10, ExternalId: "r1", Name: "general"}, nil).Once()
	db.On("MembershipExists", 10, 1).Return(true).Once()
	db.On("CreateMessage", mock.Anything).Return(database.Message{
		Id:        1,
		RoomId:    10,
		AccountId: 1,
		Content:   "hello",
		CreatedAt: chat.Now(),
	}, nil).Once()

	app, mux := newTestApp(t, db)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsUrl := "ws" + strings.TrimPrefix(srv.URL, "http")

	// anonymous observer connects first
	observer, _, err := websocket.DefaultDialer.Dial(wsUrl+"/ws", nil)
	if err != nil {
		t.Fatalf("failed to dial observer connection: %v", err)
	}
	defer observer.Close()

	// the observer subscribes to the room without holding any membership
	err = observer.WriteJSON(map[string]any{"id": 1, "join": map[string]any{"room_id": "r1"}})
	assert.NoError(t, err, "expected join frame to be written")

	msg := readServerMessage(t, observer)
	if assert.NotNil(t, msg.Ack, "expected an ack for the join") {
		assert.Equal(t, 1, msg.Id)
		assert.True(t, msg.Ack.Ok, "expected join ack to succeed")
	}

	// authenticated member connects with a handshake token
	token, err := app.createJwtForSession(1, time.Hour)
	if err != nil {
		t.Fatalf("failed to create session token: %v", err)
	}

	member, _, err := websocket.DefaultDialer.Dial(wsUrl+"/ws?token="+token, nil)
	if err != nil {
		t.Fatalf("failed to dial member connection: %v", err)
	}
	defer member.Close()

	// the observer sees the member come online
	msg = readServerMessage(t, observer)
	if assert.NotNil(t, msg.Notification, "expected a presence notification") {
		assert.Equal(t, 1, msg.Notification.Presence.UserId)
		assert.True(t, msg.Notification.Presence.Online, "expected an online notification")
	}

	// the member publishes; persisted membership authorizes, auto-subscription routes
	err = member.WriteJSON(map[string]any{"id": 2, "publish": map[string]any{"room_id": "r1", "content": "hello"}})
	assert.NoError(t, err, "expected publish frame to be written")

	msg = readServerMessage(t, member)
	if assert.NotNil(t, msg.Message, "expected the member's own copy via fan-out") {
		assert.Equal(t, "hello", msg.Message.Content)
		assert.Equal(t, "r1", msg.Message.RoomId)
	}

	msg = readServerMessage(t, member)
	if assert.NotNil(t, msg.Ack, "expected an ack after the fan-out copy") {
		assert.Equal(t, 2, msg.Id)
		assert.True(t, msg.Ack.Ok)
		assert.Equal(t, "hello", msg.Ack.Message.Content)
	}

	msg = readServerMessage(t, observer)
	if assert.NotNil(t, msg.Message, "expected the subscribed observer to receive the message") {
		assert.Equal(t, "hello", msg.Message.Content)
		assert.Equal(t, 1, msg.Message.UserId)
	}

	// closing the member's only connection takes the user offline
	member.Close()

	msg = readServerMessage(t, observer)
	if assert.NotNil(t, msg.Notification, "expected a presence notification") {
		assert.Equal(t, 1, msg.Notification.Presence.UserId)
		assert.False(t, msg.Notification.Presence.Online, "expected an offline notification")
	}
}
