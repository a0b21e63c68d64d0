package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/suPer8Hu/roomchat/internal/common"
	"github.com/suPer8Hu/roomchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/roomchat/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(corsMiddleware(h.Cfg.CORSAllowedOrigins))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// auth
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)

	// realtime; the credential is checked during the handshake
	r.GET("/ws", h.ServeWS)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// Chat (JWT required)
	authGroup.GET("/chat/rooms", h.ListRooms)
	authGroup.POST("/chat/rooms", h.CreateRoom)
	authGroup.GET("/chat/rooms/:roomId", h.GetRoom)
	authGroup.GET("/chat/rooms/:roomId/messages", h.ListMessages)
	authGroup.POST("/chat/rooms/:roomId/messages", h.PostMessage)
	authGroup.GET("/chat/rooms/:roomId/activity", h.RoomActivity)
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}
