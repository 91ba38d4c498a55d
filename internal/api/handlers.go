package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/database"
	"github.com/parley-chat/parley/internal/server"
	"github.com/parley-chat/parley/internal/types"
)

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type CreateRoomRequest struct {
	Name string `json:"name" validate:"required"`
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

type AuthResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

type OkResponse struct {
	Ok bool `json:"ok"`
}

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

// validationMessage flattens the first field error into a wire message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			return field + " is required"
		case "email":
			return "invalid email address"
		}
		return field + " is invalid"
	}

	return "bad request"
}

func (s *App) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *App) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("invalid request body")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.validate.Struct(req); err != nil {
		errResp := NewBadRequestError(validationMessage(err))
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newUser, err := s.db.CreateAccount(database.CreateAccountParams{
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	})
	if err != nil {
		var errResp *ApiError
		if database.IsUniqueViolation(err) {
			errResp = mapError(chat.ErrEmailTaken)
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createJwtForSession(newUser.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, AuthResponse{
		User: types.User{
			Id:           newUser.Id,
			EmailAddress: newUser.EmailAddress,
			CreatedAt:    newUser.CreatedAt,
		},
		Token: token,
	})
}

func (s *App) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("invalid request body")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.validate.Struct(req); err != nil {
		errResp := NewBadRequestError(validationMessage(err))
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(req.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = mapError(chat.ErrInvalidCredentials)
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, req.Password) {
		errResp := mapError(chat.ErrInvalidCredentials)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createJwtForSession(dbUser.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, AuthResponse{
		User: types.User{
			Id:           dbUser.Id,
			EmailAddress: dbUser.EmailAddress,
			CreatedAt:    dbUser.CreatedAt,
		},
		Token: token,
	})
}

func (s *App) me(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError("missing token")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError("not found")
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.User{
		Id:           user.Id,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
	})
}

func (s *App) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("invalid request body")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.validate.Struct(req); err != nil {
		errResp := NewBadRequestError(validationMessage(err))
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.chat.CreateRoom(req.Name)
	if err != nil {
		errResp := mapError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, room)
}

func (s *App) listRooms(w http.ResponseWriter, _ *http.Request) {
	rooms, err := s.chat.ListRooms()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *App) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.chat.GetRoom(r.PathValue("id"))
	if err != nil {
		errResp := mapError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

// joinRoom upserts the caller's persisted membership. It does not touch any
// live connection's ephemeral subscriptions.
func (s *App) joinRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError("missing token")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.chat.JoinRoom(r.PathValue("id"), userId); err != nil {
		errResp := mapError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, OkResponse{Ok: true})
}

// postMessage runs the shared pipeline, then triggers fan-out. The response
// reflects only persistence; delivery failures are swallowed downstream.
func (s *App) postMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError("missing token")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("invalid request body")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.chat.PostMessage(r.PathValue("id"), userId, req.Content)
	if err != nil {
		errResp := mapError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.cs.BroadcastMessage(msg)

	s.writeJson(w, http.StatusOK, msg)
}

func (s *App) listMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.chat.ListMessages(r.PathValue("id"))
	if err != nil {
		errResp := mapError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

// serveWs upgrades the connection. The handshake token comes from the
// "token" query parameter; a missing or invalid token leaves the connection
// anonymous rather than refusing the upgrade. Only posting requires identity.
func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	var user *types.User
	if tokenString := r.URL.Query().Get("token"); tokenString != "" {
		userId, err := s.extractUserIdFromToken(tokenString)
		if err != nil {
			s.log.Printf("ws handshake token rejected: %v", err)
		} else {
			dbUser, err := s.db.GetAccountById(userId)
			if err != nil {
				s.log.Printf("ws handshake account lookup: %v", err)
			} else {
				user = &types.User{
					Id:           dbUser.Id,
					EmailAddress: dbUser.EmailAddress,
					CreatedAt:    dbUser.CreatedAt,
				}
			}
		}
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(user, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
