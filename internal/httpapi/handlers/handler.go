package handlers

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/roomchat/internal/auth"
	"github.com/suPer8Hu/roomchat/internal/chat"
	"github.com/suPer8Hu/roomchat/internal/config"
	"github.com/suPer8Hu/roomchat/internal/realtime"
	"github.com/suPer8Hu/roomchat/internal/store/redisstore"
	"gorm.io/gorm"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	Redis   *redisstore.Store
	ChatSvc *chat.Service
	Hub     *realtime.Hub
	Authn   *auth.Authenticator

	upgrader websocket.Upgrader
}

// NewHandler wires handlers to their collaborators. rds may be nil, in
// which case room activity is reported as unavailable.
func NewHandler(db *gorm.DB, cfg config.Config, chatSvc *chat.Service, hub *realtime.Hub, rds *redisstore.Store) *Handler {
	h := &Handler{
		DB:      db,
		Cfg:     cfg,
		Redis:   rds,
		ChatSvc: chatSvc,
		Hub:     hub,
		Authn:   auth.NewAuthenticator(cfg.JWTSecret),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.CORSAllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
