package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"

	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/database"
	"github.com/parley-chat/parley/internal/server"
)

type App struct {
	log            *log.Logger
	db             database.ChatRepository
	chat           *chat.Service
	cs             *server.ChatServer
	mux            *http.Server
	validate       *validator.Validate
	signingKey     []byte
	allowedOrigins []string
}

func NewApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, chatSvc *chat.Service, db database.ChatRepository, cfg *config.Config) *App {
	s := &App{
		log:            logger,
		db:             db,
		chat:           chatSvc,
		cs:             cs,
		validate:       validator.New(),
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.register)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/users/me", s.authMiddleware(s.me))
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.HandleFunc("GET /api/rooms", s.listRooms)
	mux.HandleFunc("GET /api/rooms/{id}", s.getRoom)
	mux.Handle("POST /api/rooms/{id}/join", s.authMiddleware(s.joinRoom))
	mux.Handle("POST /api/rooms/{id}/messages", s.authMiddleware(s.postMessage))
	mux.HandleFunc("GET /api/rooms/{id}/messages", s.listMessages)
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *App) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
